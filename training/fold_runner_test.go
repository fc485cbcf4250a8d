package training

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-supcon/checkpoints"
	"github.com/tsawler/go-supcon/layers"
	"github.com/tsawler/go-supcon/optimizer"
	"github.com/tsawler/go-supcon/runctx"
	"github.com/tsawler/go-supcon/tensor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// blobDataset holds one Gaussian cluster per class. Views jitter the stored
// vector with noise seeded by (idx, view).
func blobDataset(t *testing.T, perClass, classes, dims int) *SimpleDataset {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var data []*tensor.Tensor
	var labels []int
	for c := 0; c < classes; c++ {
		for i := 0; i < perClass; i++ {
			row := make([]float32, dims)
			for d := range row {
				row[d] = float32(rng.NormFloat64() * 0.2)
			}
			row[c%dims] += 3
			x, err := tensor.New([]int{dims}, row)
			require.NoError(t, err)
			data = append(data, x)
			labels = append(labels, c)
		}
	}
	ds, err := NewSimpleDataset(data, labels)
	require.NoError(t, err)
	ds.Augment = func(x *tensor.Tensor, idx, view int) (*tensor.Tensor, error) {
		r := rand.New(rand.NewSource(int64(idx*1000 + view)))
		out := x.Clone()
		for i := range out.Data {
			out.Data[i] += float32(r.NormFloat64() * 0.05)
		}
		return out, nil
	}
	return ds
}

func testFactory(t *testing.T, dims int) ModelFactory {
	t.Helper()
	spec, err := layers.BuildEmbeddingSpec(dims, []int{8}, 4, 0)
	require.NoError(t, err)
	return NetworkFactory(spec, optimizer.Config{Name: "adam", LearningRate: 0.01}, 42)
}

// scriptedDiagnostic returns a fixed accuracy sequence
type scriptedDiagnostic struct {
	accuracies []float64
	calls      int
}

func (d *scriptedDiagnostic) Evaluate(ctx context.Context, model Model, loader *DataLoader) (*DiagnosticResult, error) {
	acc := d.accuracies[d.calls%len(d.accuracies)]
	d.calls++
	return &DiagnosticResult{Accuracy: acc}, nil
}

func smallFoldConfig() FoldConfig {
	cfg := DefaultFoldConfig()
	cfg.Epochs = 5
	cfg.EvalEvery = 1
	cfg.NViews = 2
	cfg.NClassesPerBatch = 2
	cfg.BatchSize = 4
	cfg.EvalBatchSize = 16
	cfg.Diagnostic.Forest.NumTrees = 10
	return cfg
}

func observedContext() (*runctx.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return runctx.New(zap.New(core), afero.NewMemMapFs(), "run"), logs
}

func checkpointKinds(events []CheckpointEvent) map[string][]int {
	out := make(map[string][]int)
	for _, ev := range events {
		out[ev.Kind] = append(out[ev.Kind], ev.Epoch)
	}
	return out
}

func TestFoldRunnerCheckpointMonotonicity(t *testing.T) {
	rc, logs := observedContext()
	ds := blobDataset(t, 10, 4, 6)
	diag := &scriptedDiagnostic{accuracies: []float64{0.5, 0.5, 0.7, 0.6, 0.9}}

	runner, err := NewFoldRunner(rc, smallFoldConfig(), FoldData{Train: ds}, testFactory(t, 6), diag)
	require.NoError(t, err)

	split := FoldSplit{ID: 2, Train: allIndices(32), Val: allIndices(40)[32:]}
	res, err := runner.Run(context.Background(), split)
	require.NoError(t, err)

	assert.Equal(t, 5, diag.calls)
	assert.Equal(t, map[string][]int{"best": {1, 3, 5}, "last": {5}}, checkpointKinds(res.Checkpoints))
	assert.Equal(t, 0.9, res.BestAccuracy)
	assert.Equal(t, 5, res.BestEpoch)
	assert.Len(t, res.EpochLosses, 5)
	for _, l := range res.EpochLosses {
		assert.False(t, math.IsNaN(l))
		assert.Greater(t, l, 0.0)
	}

	saver := checkpoints.NewCheckpointSaver(rc.Fs, checkpoints.FormatProto)
	best, err := saver.LoadCheckpoint("run/fold_2/models/best.pt")
	require.NoError(t, err)
	assert.Equal(t, 5, best.TrainingState.Epoch)
	assert.InDelta(t, 0.9, best.TrainingState.Accuracy, 1e-9)
	assert.Equal(t, "best", best.Metadata.Kind)
	assert.Equal(t, 2, best.Metadata.Fold)
	require.NotNil(t, best.ModelSpec)

	last, err := saver.LoadCheckpoint("run/fold_2/models/last.pt")
	require.NoError(t, err)
	assert.Equal(t, 5, last.TrainingState.Epoch)
	assert.Equal(t, "last", last.Metadata.Kind)

	net, err := layers.NewNetwork(last.ModelSpec, 0)
	require.NoError(t, err)
	require.NoError(t, checkpoints.LoadWeights(last.Weights, net))

	records, err := ReadMetricsLog(rc.Fs, "run/fold_2/metrics/accuracy.csv")
	require.NoError(t, err)
	assert.Equal(t, []AccuracyRecord{{1, 0.5}, {2, 0.5}, {3, 0.7}, {4, 0.6}, {5, 0.9}}, records)

	saved := logs.FilterMessage("checkpoint saved").FilterField(zap.String("kind", "best"))
	assert.Equal(t, 3, saved.Len())
}

func TestFoldRunnerEvalCadence(t *testing.T) {
	rc, _ := observedContext()
	cfg := smallFoldConfig()
	cfg.EvalEvery = 2
	diag := &scriptedDiagnostic{accuracies: []float64{0.4, 0.3}}

	runner, err := NewFoldRunner(rc, cfg, FoldData{Train: blobDataset(t, 10, 4, 6)}, testFactory(t, 6), diag)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), FoldSplit{ID: 1, Train: allIndices(40)})
	require.NoError(t, err)

	assert.Equal(t, 2, diag.calls)
	assert.Equal(t, []AccuracyRecord{{2, 0.4}, {4, 0.3}}, res.Evaluations)
	assert.Equal(t, map[string][]int{"best": {2}, "last": {5}}, checkpointKinds(res.Checkpoints))
	assert.Equal(t, 32, res.TrainSize)
	assert.Equal(t, 8, res.ValSize)
}

func TestFoldRunnerEndToEnd(t *testing.T) {
	for _, kind := range []LossKind{SupervisedContrastive, NTXent} {
		t.Run(kind.String(), func(t *testing.T) {
			rc, _ := observedContext()
			cfg := smallFoldConfig()
			cfg.Loss = kind
			cfg.Epochs = 2

			runner, err := NewFoldRunner(rc, cfg, FoldData{Train: blobDataset(t, 10, 4, 6)}, testFactory(t, 6), nil)
			require.NoError(t, err)

			folds, err := KFold(40, 4, 1)
			require.NoError(t, err)
			var train []int
			for _, f := range folds[1:] {
				train = append(train, f...)
			}
			res, err := runner.Run(context.Background(), FoldSplit{ID: 1, Train: train, Val: folds[0]})
			require.NoError(t, err)

			require.Len(t, res.Evaluations, 2)
			for _, ev := range res.Evaluations {
				assert.GreaterOrEqual(t, ev.Accuracy, 0.0)
				assert.LessOrEqual(t, ev.Accuracy, 1.0)
			}
			ok, err := afero.Exists(rc.Fs, "run/fold_1/models/last.pt")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

// nanModel emits NaN embeddings from its first forward pass
type nanModel struct {
	w        *tensor.Tensor
	training bool
}

func (m *nanModel) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Full([]int{x.Rows(), 2}, float32(math.NaN()))
}
func (m *nanModel) Backward(*tensor.Tensor) error   { return nil }
func (m *nanModel) Parameters() []*tensor.Tensor    { return []*tensor.Tensor{m.w} }
func (m *nanModel) ParameterNames() []string        { return []string{"w.weight"} }
func (m *nanModel) Train()                          { m.training = true }
func (m *nanModel) Eval()                           { m.training = false }
func (m *nanModel) IsTraining() bool                { return m.training }

func TestFoldRunnerAbortsOnNaN(t *testing.T) {
	rc, logs := observedContext()
	factory := func(fold int) (Model, optimizer.Optimizer, error) {
		w, _ := tensor.Zeros([]int{2})
		m := &nanModel{w: w}
		opt, err := optimizer.New(optimizer.Config{Name: "sgd", LearningRate: 0.1}, m.Parameters())
		return m, opt, err
	}
	diag := &scriptedDiagnostic{accuracies: []float64{1}}

	runner, err := NewFoldRunner(rc, smallFoldConfig(), FoldData{Train: blobDataset(t, 10, 4, 6)}, factory, diag)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), FoldSplit{ID: 3, Train: allIndices(40)})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, isErr(err, ErrNumericalInstability))

	var nie *NumericalInstabilityError
	require.ErrorAs(t, err, &nie)
	assert.Equal(t, 3, nie.Fold)
	assert.Equal(t, 1, nie.Epoch)
	assert.Equal(t, 1, nie.Batch)

	entries := logs.FilterMessage("non-finite value, aborting fold").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 1, fields["epoch"])
	assert.EqualValues(t, 1, fields["batch"])
	assert.EqualValues(t, 3, fields["fold"])
	assert.Equal(t, 0, diag.calls)

	ok, _ := afero.Exists(rc.Fs, "run/fold_3/models/last.pt")
	assert.False(t, ok)
}

func TestFoldRunnerEmptyValidationFailsFast(t *testing.T) {
	rc, _ := observedContext()
	built := 0
	factory := func(fold int) (Model, optimizer.Optimizer, error) {
		built++
		return testFactory(t, 6)(fold)
	}
	runner, err := NewFoldRunner(rc, smallFoldConfig(), FoldData{Train: blobDataset(t, 10, 4, 6)}, factory, &scriptedDiagnostic{accuracies: []float64{1}})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), FoldSplit{ID: 1, Train: allIndices(40), Val: []int{}})
	assert.True(t, isErr(err, ErrInsufficientData))

	_, err = runner.Run(context.Background(), FoldSplit{ID: 2, Train: []int{0}})
	assert.True(t, isErr(err, ErrInsufficientData))
	assert.Zero(t, built)
}

func TestFoldRunnerRecordsWriteFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rc := runctx.New(zap.New(core), afero.NewReadOnlyFs(afero.NewMemMapFs()), "run")
	cfg := smallFoldConfig()
	cfg.Epochs = 2
	diag := &scriptedDiagnostic{accuracies: []float64{0.5, 0.8}}

	runner, err := NewFoldRunner(rc, cfg, FoldData{Train: blobDataset(t, 10, 4, 6)}, testFactory(t, 6), diag)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), FoldSplit{ID: 1, Train: allIndices(40)})
	require.Error(t, err)
	require.NotNil(t, res, "training completes even when nothing can be written")
	assert.True(t, isErr(err, ErrIO))

	assert.Equal(t, 2, diag.calls)
	assert.Equal(t, 0.8, res.BestAccuracy)
	require.Len(t, res.Checkpoints, 3)
	for _, ev := range res.Checkpoints {
		assert.True(t, isErr(ev.Err, ErrIO), "%s@%d", ev.Kind, ev.Epoch)
	}
	assert.Equal(t, 3, logs.FilterMessage("checkpoint write failed").Len())
}

func TestFoldConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FoldConfig)
		param  string
	}{
		{"epochs", func(c *FoldConfig) { c.Epochs = 0 }, "epochs"},
		{"eval every", func(c *FoldConfig) { c.EvalEvery = 0 }, "eval_classifier_every"},
		{"temperature", func(c *FoldConfig) { c.Temperature = 0 }, "temperature"},
		{"ntxent views", func(c *FoldConfig) { c.Loss = NTXent; c.NViews = 3 }, "n_views"},
		{"supcon views", func(c *FoldConfig) { c.NViews = 1 }, "n_views"},
		{"classes", func(c *FoldConfig) { c.NClassesPerBatch = 0 }, "n_classes_per_batch"},
		{"holdout", func(c *FoldConfig) { c.HoldoutFraction = 1 }, "holdout_fraction"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultFoldConfig()
			test.mutate(&cfg)
			err := cfg.Validate()
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, test.param, ce.Param)
		})
	}
	assert.NoError(t, DefaultFoldConfig().Validate())

	_, err := NewFoldRunner(runctx.NewNop(), FoldConfig{}, FoldData{}, nil, nil)
	assert.True(t, isErr(err, ErrConfiguration))
}
