package optimizer

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-supcon/checkpoints"
	"github.com/tsawler/go-supcon/tensor"
)

// Optimizer updates a fixed set of parameter tensors from their accumulated
// gradients. State can be exported for checkpointing and restored later.
type Optimizer interface {
	// Step applies one update using each parameter's current gradient.
	// Parameters without a gradient are left untouched.
	Step() error

	// ZeroGrad clears the gradients of every managed parameter
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	GetLearningRate() float32
	UpdateLearningRate(lr float32)
}

// OptimizerState is the serialisable form of an optimizer
type OptimizerState = checkpoints.OptimizerState

// Config selects and parameterises an optimizer by name
type Config struct {
	Name         string  `json:"name" yaml:"name"`
	LearningRate float32 `json:"learning_rate" yaml:"learning_rate"`
	Momentum     float32 `json:"momentum" yaml:"momentum"`
	Nesterov     bool    `json:"nesterov" yaml:"nesterov"`
	Beta1        float32 `json:"beta1" yaml:"beta1"`
	Beta2        float32 `json:"beta2" yaml:"beta2"`
	Epsilon      float32 `json:"epsilon" yaml:"epsilon"`
	WeightDecay  float32 `json:"weight_decay" yaml:"weight_decay"`
}

// New builds the optimizer named by cfg.Name ("sgd" or "adam") over params
func New(cfg Config, params []*tensor.Tensor) (Optimizer, error) {
	switch strings.ToLower(cfg.Name) {
	case "sgd":
		return NewSGDOptimizer(SGDConfig{
			LearningRate: cfg.LearningRate,
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
			Nesterov:     cfg.Nesterov,
		}, params)
	case "adam", "":
		ac := DefaultAdamConfig()
		ac.LearningRate = cfg.LearningRate
		ac.WeightDecay = cfg.WeightDecay
		if cfg.Beta1 > 0 {
			ac.Beta1 = cfg.Beta1
		}
		if cfg.Beta2 > 0 {
			ac.Beta2 = cfg.Beta2
		}
		if cfg.Epsilon > 0 {
			ac.Epsilon = cfg.Epsilon
		}
		return NewAdamOptimizer(ac, params)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Name)
	}
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "m_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := strings.LastIndex(name, "_")
	if lastUnderscoreIdx == -1 {
		return -1
	}
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

func validateParams(params []*tensor.Tensor) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters provided")
	}
	for i, p := range params {
		if p == nil {
			return fmt.Errorf("parameter %d is nil", i)
		}
	}
	return nil
}
