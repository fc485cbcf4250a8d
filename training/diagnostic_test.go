package training

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-supcon/layers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func clusteredEmbeddings(perClass, classes, dims int, spread float64, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float64
	var y []int
	for c := 0; c < classes; c++ {
		for i := 0; i < perClass; i++ {
			row := make([]float64, dims)
			for d := range row {
				row[d] = rng.NormFloat64() * spread
			}
			row[c%dims] += 4
			X = append(X, row)
			y = append(y, c*10) // sparse labels
		}
	}
	return X, y
}

func TestDiagnosticDeterminism(t *testing.T) {
	X, y := clusteredEmbeddings(12, 3, 5, 2, 1)
	for _, mode := range []DiagnosticMode{InSample, HoldOut} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := DefaultDiagnosticConfig()
			cfg.Mode = mode
			cfg.Forest.NumTrees = 20
			d, err := NewEmbeddingDiagnostic(cfg, nil)
			require.NoError(t, err)

			first, err := d.Score(context.Background(), X, y)
			require.NoError(t, err)
			for i := 0; i < 3; i++ {
				again, err := d.Score(context.Background(), X, y)
				require.NoError(t, err)
				assert.Equal(t, first.Accuracy, again.Accuracy)
				assert.Equal(t, first.MacroF1, again.MacroF1)
			}
			assert.GreaterOrEqual(t, first.Accuracy, 0.0)
			assert.LessOrEqual(t, first.Accuracy, 1.0)
			assert.Equal(t, 3, first.Classes)
		})
	}
}

func TestDiagnosticModes(t *testing.T) {
	X, y := clusteredEmbeddings(10, 4, 4, 0.1, 2)

	cfg := DefaultDiagnosticConfig()
	cfg.Forest.NumTrees = 15
	inSample, err := NewEmbeddingDiagnostic(cfg, nil)
	require.NoError(t, err)
	res, err := inSample.Score(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Scored)
	assert.Equal(t, 1.0, res.Accuracy)

	cfg.Mode = HoldOut
	holdOut, err := NewEmbeddingDiagnostic(cfg, nil)
	require.NoError(t, err)
	res, err = holdOut.Score(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Scored, "two per class held out")
	assert.Equal(t, 40, res.Samples)
	assert.Equal(t, 1.0, res.Accuracy)
}

func TestDiagnosticInputErrors(t *testing.T) {
	d, err := NewEmbeddingDiagnostic(DefaultDiagnosticConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = d.Score(ctx, nil, nil)
	assert.True(t, isErr(err, ErrInsufficientData))

	_, err = d.Score(ctx, [][]float64{{1, math.NaN()}, {0, 1}}, []int{0, 1})
	assert.True(t, isErr(err, ErrNumericalInstability))

	_, err = d.Score(ctx, [][]float64{{1}}, []int{0, 1})
	assert.Error(t, err)

	cfg := DefaultDiagnosticConfig()
	cfg.Mode = HoldOut
	hd, err := NewEmbeddingDiagnostic(cfg, nil)
	require.NoError(t, err)
	_, err = hd.Score(ctx, [][]float64{{1}, {2}, {3}}, []int{0, 1, 2})
	assert.True(t, isErr(err, ErrInsufficientData), "singleton classes cannot be split")
}

func TestDiagnosticSingleClassWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d, err := NewEmbeddingDiagnostic(DefaultDiagnosticConfig(), zap.New(core))
	require.NoError(t, err)

	res, err := d.Score(context.Background(), [][]float64{{1}, {2}, {3}}, []int{4, 4, 4})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Accuracy)
	assert.Equal(t, 1, logs.Len())
}

func TestDiagnosticConfigValidation(t *testing.T) {
	cfg := DefaultDiagnosticConfig()
	cfg.Forest.NumTrees = 0
	_, err := NewEmbeddingDiagnostic(cfg, nil)
	assert.True(t, isErr(err, ErrConfiguration))

	cfg = DefaultDiagnosticConfig()
	cfg.Mode = HoldOut
	cfg.TestSize = 0
	_, err = NewEmbeddingDiagnostic(cfg, nil)
	assert.True(t, isErr(err, ErrConfiguration))

	for in, want := range map[string]DiagnosticMode{"in_sample": InSample, "holdout": HoldOut} {
		got, err := ParseDiagnosticMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = ParseDiagnosticMode("cv")
	assert.True(t, isErr(err, ErrConfiguration))
}

func TestEmbedRestoresTrainingMode(t *testing.T) {
	ds := blobDataset(t, 5, 2, 4)
	spec, err := layers.BuildEmbeddingSpec(4, []int{6}, 3, 0.5)
	require.NoError(t, err)
	net, err := layers.NewNetwork(spec, 1)
	require.NoError(t, err)
	net.Train()

	sampler, err := NewSequentialSampler(allIndices(10), 4)
	require.NoError(t, err)
	loader, err := NewDataLoader(ds, sampler, LoaderConfig{Views: 1})
	require.NoError(t, err)

	X, y, err := Embed(context.Background(), net, loader)
	require.NoError(t, err)
	require.Len(t, X, 10)
	assert.Len(t, X[0], 3)
	assert.Equal(t, Labels(ds), y)
	assert.True(t, net.IsTraining())

	// Dropout is off during embedding, so a second pass is identical.
	X2, _, err := Embed(context.Background(), net, loader)
	require.NoError(t, err)
	assert.Equal(t, X, X2)
}
