package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/tsawler/go-supcon/checkpoints"
	"github.com/tsawler/go-supcon/optimizer"
	"github.com/tsawler/go-supcon/runctx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Diagnostic scores the current model on the validation loader
type Diagnostic interface {
	Evaluate(ctx context.Context, model Model, loader *DataLoader) (*DiagnosticResult, error)
}

// FoldConfig holds everything one fold needs besides data and model
type FoldConfig struct {
	Epochs           int
	EvalEvery        int // run the diagnostic when epoch % EvalEvery == 0
	Loss             LossKind
	Temperature      float64
	NViews           int
	NClassesPerBatch int
	BatchSize        int // samples per batch for NT-Xent
	EvalBatchSize    int
	HoldoutFraction  float64 // used when a split has no validation indices
	Seed             int64
	Workers          int
	PrefetchDepth    int
	Scheduler        SchedulerConfig
	Diagnostic       DiagnosticConfig
	CheckpointFormat checkpoints.CheckpointFormat
	SaveOptimizer    bool
}

// DefaultFoldConfig returns the settings used when nothing is configured
func DefaultFoldConfig() FoldConfig {
	return FoldConfig{
		Epochs:           50,
		EvalEvery:        5,
		Loss:             SupervisedContrastive,
		Temperature:      0.1,
		NViews:           2,
		NClassesPerBatch: 8,
		BatchSize:        32,
		EvalBatchSize:    64,
		HoldoutFraction:  0.2,
		Seed:             42,
		Workers:          2,
		PrefetchDepth:    3,
		Diagnostic:       DefaultDiagnosticConfig(),
		CheckpointFormat: checkpoints.FormatProto,
	}
}

// Validate reports the first invalid setting as a ConfigurationError
func (c FoldConfig) Validate() error {
	switch {
	case c.Epochs < 1:
		return &ConfigurationError{Param: "epochs", Value: c.Epochs, Reason: "must be at least 1"}
	case c.EvalEvery < 1:
		return &ConfigurationError{Param: "eval_classifier_every", Value: c.EvalEvery, Reason: "must be at least 1"}
	case !(c.Temperature > 0):
		return &ConfigurationError{Param: "temperature", Value: c.Temperature, Reason: "must be positive"}
	case c.Loss == NTXent && c.NViews != 2:
		return &ConfigurationError{Param: "n_views", Value: c.NViews, Reason: "NT-Xent requires exactly 2 views"}
	case c.Loss == NTXent && c.BatchSize < 1:
		return &ConfigurationError{Param: "batch_size", Value: c.BatchSize, Reason: "must be positive"}
	case c.Loss == SupervisedContrastive && c.NViews < 2:
		return &ConfigurationError{Param: "n_views", Value: c.NViews, Reason: "must be at least 2"}
	case c.Loss == SupervisedContrastive && c.NClassesPerBatch < 1:
		return &ConfigurationError{Param: "n_classes_per_batch", Value: c.NClassesPerBatch, Reason: "must be at least 1"}
	case c.HoldoutFraction <= 0 || c.HoldoutFraction >= 1:
		return &ConfigurationError{Param: "holdout_fraction", Value: c.HoldoutFraction, Reason: "must be in (0, 1)"}
	}
	return nil
}

// FoldSplit is one disjoint train/validation partition. A nil Val asks the
// runner to hold out the tail of Train.
type FoldSplit struct {
	ID    int
	Train []int
	Val   []int
}

// FoldData pairs the augmenting training dataset with the plain dataset the
// diagnostic embeds. Both index the same samples.
type FoldData struct {
	Train Dataset
	Eval  Dataset
}

// CheckpointEvent records one checkpoint write attempt
type CheckpointEvent struct {
	Kind     string // "best" or "last"
	Epoch    int
	Accuracy float64
	Err      error
}

// FoldResult summarises a completed fold
type FoldResult struct {
	Fold         int
	Dir          string
	TrainSize    int
	ValSize      int
	EpochLosses  []float64
	Evaluations  []AccuracyRecord
	BestAccuracy float64 // NaN when the diagnostic never ran
	BestEpoch    int
	Checkpoints  []CheckpointEvent
	Duration     time.Duration
}

// FoldRunner trains and evaluates one fold at a time. It keeps no state
// between Run calls.
type FoldRunner struct {
	rc         *runctx.Context
	cfg        FoldConfig
	data       FoldData
	factory    ModelFactory
	diagnostic Diagnostic
}

// NewFoldRunner validates cfg eagerly. A nil diagnostic selects the random
// forest EmbeddingDiagnostic configured in cfg.Diagnostic.
func NewFoldRunner(rc *runctx.Context, cfg FoldConfig, data FoldData, factory ModelFactory, diagnostic Diagnostic) (*FoldRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data.Train == nil {
		return nil, errors.New("training dataset is required")
	}
	if data.Eval == nil {
		data.Eval = data.Train
	}
	if factory == nil {
		return nil, errors.New("model factory is required")
	}
	if cfg.EvalBatchSize < 1 {
		cfg.EvalBatchSize = 64
	}
	if diagnostic == nil {
		d, err := NewEmbeddingDiagnostic(cfg.Diagnostic, rc.Logger)
		if err != nil {
			return nil, err
		}
		diagnostic = d
	}
	return &FoldRunner{rc: rc, cfg: cfg, data: data, factory: factory, diagnostic: diagnostic}, nil
}

// Run trains a fresh model on split.Train for cfg.Epochs epochs, evaluates it
// on split.Val every cfg.EvalEvery epochs and persists, under fold_<id>:
//
//	models/best.pt       whenever accuracy strictly improves
//	models/last.pt       once, after the final epoch
//	metrics/accuracy.csv one row per evaluation
//
// Configuration, data and numerical errors abort the fold. Failed writes are
// logged, recorded on the result and returned as an ErrIO error once
// training has finished; the result is non-nil in that case.
func (fr *FoldRunner) Run(ctx context.Context, split FoldSplit) (*FoldResult, error) {
	start := time.Now()
	dir := fmt.Sprintf("fold_%d", split.ID)
	rc := fr.rc.Sub(dir, zap.Int("fold", split.ID))
	log := rc.Logger

	trainIdx, valIdx := split.Train, split.Val
	if valIdx == nil {
		trainIdx, valIdx = HoldoutSplit(split.Train, fr.cfg.HoldoutFraction)
	}
	if len(valIdx) == 0 {
		return nil, &InsufficientDataError{What: "validation samples", Have: 0, Need: 1, Fold: split.ID}
	}

	res := &FoldResult{
		Fold:         split.ID,
		Dir:          rc.Root,
		TrainSize:    len(trainIdx),
		ValSize:      len(valIdx),
		BestAccuracy: math.NaN(),
	}

	trainLoader, err := fr.trainLoader(trainIdx, log)
	if err != nil {
		return nil, withFold(err, split.ID)
	}
	evalSampler, err := NewSequentialSampler(valIdx, fr.cfg.EvalBatchSize)
	if err != nil {
		return nil, err
	}
	evalLoader, err := NewDataLoader(fr.data.Eval, evalSampler, LoaderConfig{
		Views:         1,
		Workers:       fr.cfg.Workers,
		PrefetchDepth: fr.cfg.PrefetchDepth,
	})
	if err != nil {
		return nil, err
	}

	loss, err := NewContrastiveLoss(fr.cfg.Loss, fr.cfg.Temperature)
	if err != nil {
		return nil, err
	}
	scheduler, err := NewScheduler(fr.cfg.Scheduler, fr.cfg.Epochs)
	if err != nil {
		return nil, err
	}
	model, opt, err := fr.factory(split.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "fold %d: failed to build model", split.ID)
	}
	baseLR := float64(opt.GetLearningRate())

	var ioErrs error
	metricsPath := rc.Path("metrics", "accuracy.csv")
	metrics, err := NewMetricsLog(rc.Fs, metricsPath)
	if err != nil {
		log.Error("cannot create metrics log, evaluations will not be persisted", zap.Error(err))
		ioErrs = multierr.Append(ioErrs, err)
	}

	log.Info("fold started",
		zap.Int("train_samples", len(trainIdx)),
		zap.Int("val_samples", len(valIdx)),
		zap.Stringer("loss", fr.cfg.Loss),
		zap.Int("batches_per_epoch", trainLoader.Len()),
		zap.String("scheduler", scheduler.GetName()))

	saver := checkpoints.NewCheckpointSaver(rc.Fs, fr.cfg.CheckpointFormat)
	best := math.Inf(-1)
	step := 0
	lastAccuracy := 0.0

	for epoch := 1; epoch <= fr.cfg.Epochs; epoch++ {
		lr := scheduler.GetLR(epoch-1, baseLR)
		opt.UpdateLearningRate(float32(lr))
		model.Train()

		bar := NewProgressBar(rc.Progress, fmt.Sprintf("Fold %d Epoch %d/%d", split.ID, epoch, fr.cfg.Epochs), trainLoader.Len())
		sum, batches := 0.0, 0
		for batch, err := range trainLoader.Epoch(ctx) {
			if err != nil {
				return nil, errors.Wrapf(err, "fold %d epoch %d", split.ID, epoch)
			}
			batches++
			value, err := fr.step(model, opt, loss, batch)
			if err != nil {
				var nie *NumericalInstabilityError
				if errors.As(err, &nie) {
					nie.Fold, nie.Epoch, nie.Batch = split.ID, epoch, batches
					log.Error("non-finite value, aborting fold",
						zap.String("stage", nie.Stage),
						zap.Int("epoch", epoch),
						zap.Int("batch", batches),
						zap.Float64("value", nie.Value))
				}
				return nil, err
			}
			step++
			sum += value
			bar.Update(batches, map[string]float64{"loss": value})
		}
		bar.Finish()
		if batches == 0 {
			return nil, &InsufficientDataError{What: "training batches per epoch", Have: 0, Need: 1, Fold: split.ID}
		}

		meanLoss := sum / float64(batches)
		res.EpochLosses = append(res.EpochLosses, meanLoss)
		log.Info("epoch complete",
			zap.Int("epoch", epoch),
			zap.Float64("loss", meanLoss),
			zap.Float64("lr", lr))

		if epoch%fr.cfg.EvalEvery != 0 {
			continue
		}

		dres, err := fr.diagnostic.Evaluate(ctx, model, evalLoader)
		if err != nil {
			var nie *NumericalInstabilityError
			if errors.As(err, &nie) {
				nie.Fold, nie.Epoch = split.ID, epoch
			}
			return nil, errors.Wrapf(err, "fold %d epoch %d: diagnostic failed", split.ID, epoch)
		}
		lastAccuracy = dres.Accuracy
		res.Evaluations = append(res.Evaluations, AccuracyRecord{Epoch: epoch, Accuracy: dres.Accuracy})
		log.Info("diagnostic classifier accuracy",
			zap.Int("epoch", epoch),
			zap.Float64("accuracy", dres.Accuracy),
			zap.Float64("macro_f1", dres.MacroF1))

		if metrics != nil {
			if err := metrics.Append(epoch, dres.Accuracy); err != nil {
				log.Error("failed to append metrics row", zap.Int("epoch", epoch), zap.Error(err))
				ioErrs = multierr.Append(ioErrs, err)
			}
		}
		if ms, ok := scheduler.(MetricScheduler); ok {
			ms.Observe(dres.Accuracy)
		}

		if dres.Accuracy > best {
			best = dres.Accuracy
			res.BestAccuracy, res.BestEpoch = best, epoch
			ev := fr.save(saver, rc, "best", model, opt, checkpoints.TrainingState{
				Epoch: epoch, Step: step, LearningRate: float32(lr), Loss: meanLoss,
				Accuracy: dres.Accuracy, BestAccuracy: best,
			}, split.ID)
			res.Checkpoints = append(res.Checkpoints, ev)
			ioErrs = multierr.Append(ioErrs, ev.Err)
		}
	}

	lastState := checkpoints.TrainingState{
		Epoch:        fr.cfg.Epochs,
		Step:         step,
		LearningRate: opt.GetLearningRate(),
		Loss:         res.EpochLosses[len(res.EpochLosses)-1],
		Accuracy:     lastAccuracy,
		BestAccuracy: math.Max(best, 0),
	}
	ev := fr.save(saver, rc, "last", model, opt, lastState, split.ID)
	res.Checkpoints = append(res.Checkpoints, ev)
	ioErrs = multierr.Append(ioErrs, ev.Err)

	res.Duration = time.Since(start)
	log.Info("fold complete",
		zap.Float64("best_accuracy", res.BestAccuracy),
		zap.Int("best_epoch", res.BestEpoch),
		zap.Duration("duration", res.Duration))

	if ioErrs != nil {
		return res, errors.WithMessagef(ioErrs, "fold %d: persisting artifacts", split.ID)
	}
	return res, nil
}

func (fr *FoldRunner) trainLoader(trainIdx []int, log *zap.Logger) (*DataLoader, error) {
	var (
		sampler BatchSampler
		views   int
		err     error
	)
	switch fr.cfg.Loss {
	case NTXent:
		sampler, err = NewShuffleSampler(trainIdx, fr.cfg.BatchSize, fr.cfg.Seed)
		views = 2
	default:
		sampler, err = NewViewSampler(trainIdx, Labels(fr.data.Train), SamplerConfig{
			NViews:           fr.cfg.NViews,
			NClassesPerBatch: fr.cfg.NClassesPerBatch,
			Seed:             fr.cfg.Seed,
		}, log)
		views = 1
	}
	if err != nil {
		return nil, err
	}
	return NewDataLoader(fr.data.Train, sampler, LoaderConfig{
		Views:         views,
		Augment:       true,
		Workers:       fr.cfg.Workers,
		PrefetchDepth: fr.cfg.PrefetchDepth,
	})
}

// step runs forward, loss, backward and the optimizer update for one batch
func (fr *FoldRunner) step(model Model, opt optimizer.Optimizer, loss *ContrastiveLoss, batch *Batch) (float64, error) {
	opt.ZeroGrad()
	emb, err := model.Forward(batch.Data)
	if err != nil {
		return 0, errors.Wrap(err, "forward pass failed")
	}
	out, err := loss.Compute(EmbeddingBatch{Embeddings: emb, Labels: batch.Labels, Views: batch.Views})
	if err != nil {
		return 0, err
	}
	if err := model.Backward(out.Grad); err != nil {
		return 0, errors.Wrap(err, "backward pass failed")
	}
	if err := opt.Step(); err != nil {
		return 0, errors.Wrap(err, "optimizer step failed")
	}
	return out.Value, nil
}

func (fr *FoldRunner) save(saver *checkpoints.CheckpointSaver, rc *runctx.Context, kind string, model Model, opt optimizer.Optimizer, state checkpoints.TrainingState, fold int) CheckpointEvent {
	ev := CheckpointEvent{Kind: kind, Epoch: state.Epoch, Accuracy: state.Accuracy}
	path := rc.Path("models", kind+".pt")

	weights, err := checkpoints.ExtractWeights(model)
	if err != nil {
		ev.Err = newIOError("snapshot", path, err)
		return ev
	}
	cp := &checkpoints.Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata: checkpoints.CheckpointMetadata{
			RunID: rc.RunUUID,
			Fold:  fold,
			Kind:  kind,
		},
	}
	if sp, ok := model.(SpecProvider); ok {
		cp.ModelSpec = sp.Spec()
	}
	if fr.cfg.SaveOptimizer {
		if st, err := opt.GetState(); err == nil {
			cp.OptimizerState = st
		} else {
			rc.Logger.Warn("optimizer state not saved", zap.Error(err))
		}
	}

	if err := saver.SaveCheckpoint(cp, path); err != nil {
		ev.Err = newIOError("write checkpoint", path, err)
		rc.Logger.Error("checkpoint write failed",
			zap.String("kind", kind),
			zap.Int("epoch", state.Epoch),
			zap.Error(err))
		return ev
	}
	rc.Logger.Info("checkpoint saved",
		zap.String("kind", kind),
		zap.Int("epoch", state.Epoch),
		zap.Float64("accuracy", state.Accuracy),
		zap.String("path", path))
	return ev
}

func withFold(err error, fold int) error {
	var ide *InsufficientDataError
	if errors.As(err, &ide) {
		ide.Fold = fold
	}
	return err
}
