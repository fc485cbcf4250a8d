package forest

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs returns well separated Gaussian clusters, one per class.
func blobs(perClass, classes, dims int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float64
	var y []int
	for c := 0; c < classes; c++ {
		for i := 0; i < perClass; i++ {
			row := make([]float64, dims)
			for d := range row {
				row[d] = rng.NormFloat64() * 0.3
			}
			row[c%dims] += 5
			X = append(X, row)
			y = append(y, c)
		}
	}
	return X, y
}

func TestTreeBin(t *testing.T) {
	tree := DecisionTree{
		Nodes: []Node{
			{FeatureIndex: 0, Threshold: 0.5, LeftChild: 1, RightChild: 0, RightIsLeaf: true},
			{FeatureIndex: 1, Threshold: 2, LeftChild: 1, LeftIsLeaf: true, RightChild: 2, RightIsLeaf: true},
		},
		Outputs:     [][]float64{{1, 0}, {0, 1}, {0.5, 0.5}},
		FeatureSize: 2,
		Depth:       2,
	}

	assert.Equal(t, 0, tree.Bin([]float64{1, 0}))
	assert.Equal(t, 1, tree.Bin([]float64{0, 1}))
	assert.Equal(t, 2, tree.Bin([]float64{0, 3}))
	assert.Panics(t, func() { tree.Bin([]float64{1}) })

	single := DecisionTree{Outputs: [][]float64{{0, 1}}, FeatureSize: 2}
	assert.Equal(t, []float64{0, 1}, single.Evaluate([]float64{9, 9}))
}

func TestFitSeparableData(t *testing.T) {
	X, y := blobs(30, 4, 6, 1)
	cfg := DefaultConfig()
	cfg.NumTrees = 25

	f, err := Fit(context.Background(), X, y, 4, cfg)
	require.NoError(t, err)
	assert.Len(t, f.Trees, 25)
	assert.InDelta(t, 1.0, f.Score(X, y), 1e-9)

	probs := f.PredictProba(X[0])
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestFitDeterministicAcrossWorkers(t *testing.T) {
	X, y := blobs(20, 3, 5, 2)
	// Add label noise so trees are non-trivial.
	y[3], y[25], y[47] = 1, 2, 0

	cfg := DefaultConfig()
	cfg.NumTrees = 15

	cfg.Workers = 1
	a, err := Fit(context.Background(), X, y, 3, cfg)
	require.NoError(t, err)
	cfg.Workers = 4
	b, err := Fit(context.Background(), X, y, 3, cfg)
	require.NoError(t, err)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.JSONEq(t, string(ja), string(jb))

	cfg.Seed = 7
	c, err := Fit(context.Background(), X, y, 3, cfg)
	require.NoError(t, err)
	jc, _ := json.Marshal(c)
	assert.NotEqual(t, string(ja), string(jc))
}

func TestFitRespectsMaxDepth(t *testing.T) {
	X, y := blobs(20, 4, 4, 3)
	cfg := DefaultConfig()
	cfg.NumTrees = 5
	cfg.MaxDepth = 1

	f, err := Fit(context.Background(), X, y, 4, cfg)
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.LessOrEqual(t, tree.Depth, 1)
		assert.LessOrEqual(t, len(tree.Nodes), 1)
	}
}

func TestFitValidation(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()

	_, err := Fit(ctx, nil, nil, 2, cfg)
	assert.Error(t, err)

	_, err = Fit(ctx, [][]float64{{1}, {2}}, []int{0}, 2, cfg)
	assert.Error(t, err)

	_, err = Fit(ctx, [][]float64{{1}, {2}}, []int{0, 5}, 2, cfg)
	assert.Error(t, err)

	_, err = Fit(ctx, [][]float64{{1}, {2, 3}}, []int{0, 1}, 2, cfg)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Fit(cancelled, [][]float64{{1}, {2}}, []int{0, 1}, 2, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConstantFeaturesYieldLeaf(t *testing.T) {
	X := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	y := []int{0, 1, 0, 1}
	cfg := DefaultConfig()
	cfg.NumTrees = 3
	cfg.Bootstrap = false

	f, err := Fit(context.Background(), X, y, 2, cfg)
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.Empty(t, tree.Nodes)
		assert.Equal(t, []float64{0.5, 0.5}, tree.Outputs[0])
	}
}

func TestStratifiedSplit(t *testing.T) {
	y := make([]int, 0, 50)
	for c := 0; c < 5; c++ {
		for i := 0; i < 10; i++ {
			y = append(y, c)
		}
	}

	train, test, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 10)
	assert.Len(t, train, 40)

	perClass := make(map[int]int)
	for _, i := range test {
		perClass[y[i]]++
	}
	for c := 0; c < 5; c++ {
		assert.Equal(t, 2, perClass[c], "class %d", c)
	}

	again, againTest, _ := StratifiedSplit(y, 0.2, 42)
	assert.Equal(t, train, again)
	assert.Equal(t, test, againTest)

	_, _, err = StratifiedSplit(y, 1.5, 42)
	assert.Error(t, err)

	_, _, err = StratifiedSplit([]int{0, 1, 2}, 0.2, 42)
	assert.Error(t, err, "singleton classes leave the test set empty")
}
