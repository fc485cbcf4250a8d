package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/tsawler/go-supcon/runctx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// KFold shuffles 0..n-1 with seed and cuts it into k validation folds whose
// sizes differ by at most one. The folds partition the index set.
func KFold(n, k int, seed int64) ([][]int, error) {
	if k < 2 {
		return nil, &ConfigurationError{Param: "k_folds", Value: k, Reason: "must be at least 2"}
	}
	if n < k {
		return nil, &InsufficientDataError{What: "samples for k-fold", Have: n, Need: k, Parameter: "k_folds"}
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	folds := make([][]int, k)
	start := 0
	for f := range folds {
		size := n / k
		if f < n%k {
			size++
		}
		folds[f] = perm[start : start+size : start+size]
		start += size
	}
	return folds, nil
}

// HoldoutSplit keeps the order of indices and moves the last fraction of them
// into the validation set. At least one sample is held out when there are two
// or more.
func HoldoutSplit(indices []int, fraction float64) (train, val []int) {
	n := len(indices)
	nVal := int(math.Round(float64(n) * fraction))
	if nVal == 0 && n > 1 {
		nVal = 1
	}
	if nVal >= n {
		nVal = n - 1
	}
	if nVal < 0 {
		nVal = 0
	}
	cut := n - nVal
	return append([]int(nil), indices[:cut]...), append([]int(nil), indices[cut:]...)
}

// CrossValidationConfig selects k-fold or single holdout training
type CrossValidationConfig struct {
	KFolds int   // 0 or 1 trains one fold with the holdout policy
	Seed   int64 // shuffle seed for fold assignment
}

// Enabled reports whether k-fold cross-validation is on
func (c CrossValidationConfig) Enabled() bool { return c.KFolds >= 2 }

// FoldOutcome is the result of one fold. Result may be set even when Err is
// (artifact write failures do not discard a trained fold).
type FoldOutcome struct {
	Fold   int
	Result *FoldResult
	Err    error
}

// CrossValidationResult collects every fold of a run in fold order
type CrossValidationResult struct {
	Folds    []FoldOutcome
	Duration time.Duration
}

// BestAccuracies returns the best diagnostic accuracy of each fold that
// produced one
func (r *CrossValidationResult) BestAccuracies() []float64 {
	var out []float64
	for _, f := range r.Folds {
		if f.Result != nil && !math.IsNaN(f.Result.BestAccuracy) {
			out = append(out, f.Result.BestAccuracy)
		}
	}
	return out
}

// Failed returns the folds that ended with an error
func (r *CrossValidationResult) Failed() []FoldOutcome {
	var out []FoldOutcome
	for _, f := range r.Folds {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// CrossValidationController partitions a dataset into folds and runs a
// FoldRunner on each. Folds run one after another and share no state beyond
// the read-only dataset.
type CrossValidationController struct {
	rc     *runctx.Context
	cfg    CrossValidationConfig
	runner *FoldRunner

	// OnFoldDone, when set, is called after every fold that produced a
	// result, e.g. to mirror the fold directory to remote storage. Its error
	// is recorded on the fold outcome.
	OnFoldDone func(ctx context.Context, res *FoldResult) error

	// Groups, when set, assigns every sample to a group (e.g. the recording
	// it was rendered from). Splits then keep each group on one side.
	Groups []int
}

// NewCrossValidationController validates cfg and returns the controller
func NewCrossValidationController(rc *runctx.Context, cfg CrossValidationConfig, runner *FoldRunner) (*CrossValidationController, error) {
	if cfg.KFolds < 0 {
		return nil, &ConfigurationError{Param: "k_folds", Value: cfg.KFolds, Reason: "must not be negative"}
	}
	if runner == nil {
		return nil, errors.New("fold runner is required")
	}
	return &CrossValidationController{rc: rc, cfg: cfg, runner: runner}, nil
}

// Splits returns the fold assignments for a dataset of n samples. With
// k-fold disabled there is a single split whose Val is nil, so the runner
// holds out the tail of the shuffled index list.
func (c *CrossValidationController) Splits(n int) ([]FoldSplit, error) {
	if n == 0 {
		return nil, &InsufficientDataError{What: "samples", Have: 0, Need: 1}
	}
	if c.Groups != nil {
		return c.groupSplits(n)
	}
	if !c.cfg.Enabled() {
		perm := rand.New(rand.NewSource(c.cfg.Seed)).Perm(n)
		return []FoldSplit{{ID: 1, Train: perm}}, nil
	}

	folds, err := KFold(n, c.cfg.KFolds, c.cfg.Seed)
	if err != nil {
		return nil, err
	}
	splits := make([]FoldSplit, len(folds))
	for f, val := range folds {
		train := make([]int, 0, n-len(val))
		for g, other := range folds {
			if g != f {
				train = append(train, other...)
			}
		}
		splits[f] = FoldSplit{ID: f + 1, Train: train, Val: val}
	}
	return splits, nil
}

func (c *CrossValidationController) groupSplits(n int) ([]FoldSplit, error) {
	if len(c.Groups) != n {
		return nil, errors.Errorf("%d group ids for %d samples", len(c.Groups), n)
	}
	members := make(map[int][]int)
	var ids []int
	for i, g := range c.Groups {
		if _, ok := members[g]; !ok {
			ids = append(ids, g)
		}
		members[g] = append(members[g], i)
	}
	sort.Ints(ids)
	expand := func(positions []int) []int {
		var out []int
		for _, p := range positions {
			out = append(out, members[ids[p]]...)
		}
		return out
	}

	if !c.cfg.Enabled() {
		perm := rand.New(rand.NewSource(c.cfg.Seed)).Perm(len(ids))
		train, val := HoldoutSplit(perm, c.runner.cfg.HoldoutFraction)
		return []FoldSplit{{ID: 1, Train: expand(train), Val: expand(val)}}, nil
	}

	folds, err := KFold(len(ids), c.cfg.KFolds, c.cfg.Seed)
	if err != nil {
		return nil, err
	}
	splits := make([]FoldSplit, len(folds))
	for f, val := range folds {
		var train []int
		for g, other := range folds {
			if g != f {
				train = append(train, other...)
			}
		}
		splits[f] = FoldSplit{ID: f + 1, Train: expand(train), Val: expand(val)}
	}
	return splits, nil
}

// Run trains every fold over a dataset of n samples. A failing fold is
// logged and recorded and the next fold still runs; cancellation of ctx stops
// the run. The returned error combines the errors of all failed folds.
func (c *CrossValidationController) Run(ctx context.Context, n int) (*CrossValidationResult, error) {
	start := time.Now()
	splits, err := c.Splits(n)
	if err != nil {
		return nil, err
	}

	log := c.rc.Logger
	if c.cfg.Enabled() {
		log.Info("starting k-fold cross-validation", zap.Int("folds", len(splits)), zap.Int("samples", n))
	} else {
		log.Info("k-fold disabled, training a single holdout split", zap.Int("samples", n))
	}

	res := &CrossValidationResult{}
	var errs error
	for _, split := range splits {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		fr, err := c.runner.Run(ctx, split)
		if fr != nil && c.OnFoldDone != nil {
			if hookErr := c.OnFoldDone(ctx, fr); hookErr != nil {
				log.Error("post-fold hook failed", zap.Int("fold", split.ID), zap.Error(hookErr))
				err = multierr.Append(err, hookErr)
			}
		}
		if err != nil {
			log.Error("fold failed", zap.Int("fold", split.ID), zap.Error(err))
			errs = multierr.Append(errs, errors.WithMessage(err, fmt.Sprintf("fold %d", split.ID)))
		}
		res.Folds = append(res.Folds, FoldOutcome{Fold: split.ID, Result: fr, Err: err})
	}

	res.Duration = time.Since(start)
	log.Info("cross-validation finished",
		zap.Int("folds", len(res.Folds)),
		zap.Int("failed", len(res.Failed())),
		zap.Duration("duration", res.Duration))
	return res, errs
}
