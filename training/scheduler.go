package training

import (
	"math"
	"strings"
)

// LRScheduler defines the interface for learning rate scheduling strategies
type LRScheduler interface {
	// GetLR returns the learning rate for a 0-based epoch
	GetLR(epoch int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// MetricScheduler is implemented by schedulers that react to the diagnostic
// accuracy rather than the epoch count
type MetricScheduler interface {
	LRScheduler
	Observe(metric float64)
}

// SchedulerConfig selects a scheduler by name
type SchedulerConfig struct {
	Name     string  `json:"name" yaml:"name"` // constant, step, exponential, cosine, plateau
	StepSize int     `json:"step_size" yaml:"step_size"`
	Gamma    float64 `json:"gamma" yaml:"gamma"`
	EtaMin   float64 `json:"eta_min" yaml:"eta_min"`
	Patience int     `json:"patience" yaml:"patience"`
}

// NewScheduler builds the scheduler named in cfg. totalEpochs bounds the
// cosine schedule.
func NewScheduler(cfg SchedulerConfig, totalEpochs int) (LRScheduler, error) {
	switch strings.ToLower(cfg.Name) {
	case "", "constant", "none":
		return &NoOpScheduler{}, nil
	case "step":
		return NewStepLRScheduler(cfg.StepSize, cfg.Gamma), nil
	case "exponential", "exp":
		return NewExponentialLRScheduler(cfg.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(totalEpochs, cfg.EtaMin), nil
	case "plateau":
		return NewReduceLROnPlateauScheduler(cfg.Gamma, cfg.Patience, 1e-4), nil
	default:
		return nil, &ConfigurationError{Param: "scheduler", Value: cfg.Name, Reason: "expected constant, step, exponential, cosine or plateau"}
	}
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) GetName() string { return "StepLR" }

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string { return "ExponentialLR" }

// CosineAnnealingLRScheduler anneals from the base rate to EtaMin over TMax epochs
type CosineAnnealingLRScheduler struct {
	TMax   int
	EtaMin float64
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string { return "CosineAnnealingLR" }

// ReduceLROnPlateauScheduler multiplies the rate by Factor when the
// diagnostic accuracy has not improved for Patience evaluations
type ReduceLROnPlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64

	best      float64
	badEvals  int
	reduction float64
	seen      bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 3
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	return &ReduceLROnPlateauScheduler{Factor: factor, Patience: patience, Threshold: threshold, reduction: 1}
}

// Observe records one accuracy measurement (higher is better)
func (s *ReduceLROnPlateauScheduler) Observe(metric float64) {
	if !s.seen || metric > s.best+s.Threshold {
		s.best = metric
		s.seen = true
		s.badEvals = 0
		return
	}
	s.badEvals++
	if s.badEvals >= s.Patience {
		s.reduction *= s.Factor
		s.badEvals = 0
	}
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * s.reduction
}

func (s *ReduceLROnPlateauScheduler) GetName() string { return "ReduceLROnPlateau" }

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, baseLR float64) float64 { return baseLR }

func (s *NoOpScheduler) GetName() string { return "ConstantLR" }
