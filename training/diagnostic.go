package training

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/tsawler/go-supcon/forest"
	"go.uber.org/zap"
)

// DiagnosticMode selects which samples the classifier is scored on
type DiagnosticMode int

const (
	// InSample scores the classifier on the embeddings it was fitted on. It
	// is a cheap proxy for cluster separability, not a generalisation estimate.
	InSample DiagnosticMode = iota
	// HoldOut fits on a stratified split and scores on the remainder
	HoldOut
)

func (m DiagnosticMode) String() string {
	switch m {
	case InSample:
		return "in_sample"
	case HoldOut:
		return "holdout"
	default:
		return fmt.Sprintf("DiagnosticMode(%d)", int(m))
	}
}

// ParseDiagnosticMode maps a configuration string to a DiagnosticMode
func ParseDiagnosticMode(s string) (DiagnosticMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in_sample", "insample", "":
		return InSample, nil
	case "holdout", "hold_out", "held_out":
		return HoldOut, nil
	default:
		return 0, &ConfigurationError{Param: "diagnostic_mode", Value: s, Reason: "expected in_sample or holdout"}
	}
}

// DiagnosticConfig configures the embedding diagnostic
type DiagnosticConfig struct {
	Mode     DiagnosticMode
	TestSize float64 // HoldOut only
	Forest   forest.Config
}

// DefaultDiagnosticConfig scores in-sample with a 100-tree forest seeded 42
func DefaultDiagnosticConfig() DiagnosticConfig {
	return DiagnosticConfig{
		Mode:     InSample,
		TestSize: 0.2,
		Forest:   forest.DefaultConfig(),
	}
}

// DiagnosticResult reports how separable a set of embeddings is
type DiagnosticResult struct {
	Accuracy  float64
	MacroF1   float64
	Samples   int // embeddings collected
	Scored    int // samples the classifier was scored on
	Classes   int
	Confusion *ConfusionMatrix
}

// EmbeddingDiagnostic measures representation quality by fitting a random
// forest on frozen embeddings. The forest is discarded after scoring.
type EmbeddingDiagnostic struct {
	cfg    DiagnosticConfig
	logger *zap.Logger
}

// NewEmbeddingDiagnostic validates cfg and returns the diagnostic
func NewEmbeddingDiagnostic(cfg DiagnosticConfig, logger *zap.Logger) (*EmbeddingDiagnostic, error) {
	if cfg.Mode != InSample && cfg.Mode != HoldOut {
		return nil, &ConfigurationError{Param: "diagnostic_mode", Value: cfg.Mode, Reason: "unknown mode"}
	}
	if cfg.Mode == HoldOut && (cfg.TestSize <= 0 || cfg.TestSize >= 1) {
		return nil, &ConfigurationError{Param: "diagnostic_test_size", Value: cfg.TestSize, Reason: "must be in (0, 1)"}
	}
	if cfg.Forest.NumTrees <= 0 {
		return nil, &ConfigurationError{Param: "n_estimators", Value: cfg.Forest.NumTrees, Reason: "must be positive"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingDiagnostic{cfg: cfg, logger: logger}, nil
}

// Evaluate embeds every batch of loader with the model in eval mode and
// scores the embeddings. The model's previous mode is restored on return.
func (d *EmbeddingDiagnostic) Evaluate(ctx context.Context, model Model, loader *DataLoader) (*DiagnosticResult, error) {
	X, y, err := Embed(ctx, model, loader)
	if err != nil {
		return nil, err
	}
	return d.Score(ctx, X, y)
}

// Embed runs model over every batch of loader in inference mode and returns
// one float64 row per sample together with the sample labels
func Embed(ctx context.Context, model Model, loader *DataLoader) ([][]float64, []int, error) {
	if model.IsTraining() {
		model.Eval()
		defer model.Train()
	}

	var X [][]float64
	var y []int
	for batch, err := range loader.Epoch(ctx) {
		if err != nil {
			return nil, nil, err
		}
		emb, err := model.Forward(batch.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("forward pass failed: %v", err)
		}
		if bad := emb.FirstNonFinite(); bad >= 0 {
			return nil, nil, &NumericalInstabilityError{Stage: "embeddings", Value: float64(emb.Data[bad])}
		}
		for r := 0; r < emb.Rows(); r++ {
			row := emb.Row(r)
			out := make([]float64, len(row))
			for k, v := range row {
				out[k] = float64(v)
			}
			X = append(X, out)
		}
		y = append(y, batch.Labels...)
	}
	return X, y, nil
}

// Score fits the configured classifier on (X, y) and reports its accuracy.
// Repeated calls with the same inputs and seed return the same result.
func (d *EmbeddingDiagnostic) Score(ctx context.Context, X [][]float64, y []int) (*DiagnosticResult, error) {
	if len(X) == 0 {
		return nil, &InsufficientDataError{What: "validation samples for the embedding diagnostic", Have: 0, Need: 1}
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%d embeddings but %d labels", len(X), len(y))
	}
	for _, row := range X {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &NumericalInstabilityError{Stage: "embeddings", Value: v}
			}
		}
	}

	dense, numClasses := denseLabels(y)
	if numClasses < 2 {
		d.logger.Warn("embedding diagnostic sees a single class, accuracy is trivially 1",
			zap.Int("samples", len(X)))
	}

	fitIdx, scoreIdx := allIndices(len(X)), allIndices(len(X))
	if d.cfg.Mode == HoldOut {
		var err error
		fitIdx, scoreIdx, err = forest.StratifiedSplit(dense, d.cfg.TestSize, d.cfg.Forest.Seed)
		if err != nil {
			return nil, &InsufficientDataError{What: "samples for a stratified holdout split (" + err.Error() + ")", Have: len(X), Need: 2 * numClasses}
		}
	}

	fitX, fitY := subset(X, dense, fitIdx)
	f, err := forest.Fit(ctx, fitX, fitY, numClasses, d.cfg.Forest)
	if err != nil {
		return nil, err
	}

	scoreX, scoreY := subset(X, dense, scoreIdx)
	predicted := make([]int, len(scoreX))
	for i, x := range scoreX {
		predicted[i] = f.Predict(x)
	}
	cm := NewConfusionMatrix(numClasses)
	if err := cm.Update(predicted, scoreY); err != nil {
		return nil, err
	}

	res := &DiagnosticResult{
		Accuracy:  cm.GetAccuracy(),
		MacroF1:   cm.GetMetric(MacroF1),
		Samples:   len(X),
		Scored:    len(scoreX),
		Classes:   numClasses,
		Confusion: cm,
	}
	d.logger.Debug("embedding diagnostic",
		zap.Stringer("mode", d.cfg.Mode),
		zap.Int("samples", res.Samples),
		zap.Int("scored", res.Scored),
		zap.Float64("accuracy", res.Accuracy),
		zap.Float64("macro_f1", res.MacroF1))
	return res, nil
}

// denseLabels maps arbitrary labels onto 0..k-1 in sorted label order
func denseLabels(y []int) ([]int, int) {
	distinct := make(map[int]struct{})
	for _, label := range y {
		distinct[label] = struct{}{}
	}
	sorted := make([]int, 0, len(distinct))
	for label := range distinct {
		sorted = append(sorted, label)
	}
	sort.Ints(sorted)
	ids := make(map[int]int, len(sorted))
	for i, label := range sorted {
		ids[label] = i
	}
	dense := make([]int, len(y))
	for i, label := range y {
		dense[i] = ids[label]
	}
	return dense, len(sorted)
}

func subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	outX := make([][]float64, len(idx))
	outY := make([]int, len(idx))
	for i, j := range idx {
		outX[i], outY[i] = X[j], y[j]
	}
	return outX, outY
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
