// Package forest implements a seeded random-forest classifier: bootstrapped
// CART trees with gini splits over random feature subsets. Trees are stored
// as flat node arrays so a fitted forest serialises directly to JSON.
package forest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// Config controls forest fitting
type Config struct {
	NumTrees        int   `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth        int   `json:"max_depth" yaml:"max_depth"` // 0 = unlimited
	MinSamplesSplit int   `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features" yaml:"max_features"` // 0 = sqrt(feature size)
	Bootstrap       bool  `json:"bootstrap" yaml:"bootstrap"`
	Seed            int64 `json:"seed" yaml:"seed"`
	Workers         int   `json:"workers" yaml:"workers"` // 0 = GOMAXPROCS
}

// DefaultConfig mirrors the usual RandomForestClassifier defaults with a fixed seed
func DefaultConfig() Config {
	return Config{
		NumTrees:        100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
}

// Forest is an ensemble of decision trees whose leaf distributions are averaged
type Forest struct {
	Trees       []DecisionTree `json:"trees"`
	NumClasses  int            `json:"num_classes"`
	FeatureSize int            `json:"feature_size"`
}

// Fit grows cfg.NumTrees trees on X (one row per sample) with labels y in
// [0, numClasses). Every tree draws from its own generator seeded from
// cfg.Seed, so the result does not depend on the number of workers.
func Fit(ctx context.Context, X [][]float64, y []int, numClasses int, cfg Config) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot fit forest on zero samples")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("feature rows (%d) and labels (%d) differ in length", len(X), len(y))
	}
	if cfg.NumTrees <= 0 {
		return nil, fmt.Errorf("number of trees must be positive, got %d", cfg.NumTrees)
	}
	featureSize := len(X[0])
	if featureSize == 0 {
		return nil, fmt.Errorf("feature vectors are empty")
	}
	for i, row := range X {
		if len(row) != featureSize {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), featureSize)
		}
	}
	for i, label := range y {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("label %d at row %d outside [0, %d)", label, i, numClasses)
		}
	}

	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	maxFeat := cfg.MaxFeatures
	if maxFeat <= 0 {
		maxFeat = int(math.Sqrt(float64(featureSize)))
	}
	if maxFeat < 1 {
		maxFeat = 1
	}
	if maxFeat > featureSize {
		maxFeat = featureSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	seeds := make([]int64, cfg.NumTrees)
	base := rand.New(rand.NewSource(cfg.Seed))
	for i := range seeds {
		seeds[i] = base.Int63()
	}

	f := &Forest{
		Trees:       make([]DecisionTree, cfg.NumTrees),
		NumClasses:  numClasses,
		FeatureSize: featureSize,
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				f.Trees[i] = growTree(X, y, numClasses, cfg, maxFeat, seeds[i])
			}
		}()
	}

	var err error
	for i := 0; i < cfg.NumTrees; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	return f, nil
}

func growTree(X [][]float64, y []int, numClasses int, cfg Config, maxFeat int, seed int64) DecisionTree {
	rng := rand.New(rand.NewSource(seed))

	idx := make([]int, len(X))
	for i := range idx {
		if cfg.Bootstrap {
			idx[i] = rng.Intn(len(X))
		} else {
			idx[i] = i
		}
	}

	tree := &DecisionTree{FeatureSize: len(X[0])}
	b := &treeBuilder{
		X:          X,
		y:          y,
		numClasses: numClasses,
		cfg:        cfg,
		maxFeat:    maxFeat,
		rng:        rng,
		tree:       tree,
	}
	b.build(idx, 0)
	return *tree
}

// PredictProba averages the leaf distributions of all trees
func (f *Forest) PredictProba(x []float64) []float64 {
	probs := make([]float64, f.NumClasses)
	for i := range f.Trees {
		for c, p := range f.Trees[i].Evaluate(x) {
			probs[c] += p
		}
	}
	for c := range probs {
		probs[c] /= float64(len(f.Trees))
	}
	return probs
}

// Predict returns the most probable class; ties resolve to the lowest index
func (f *Forest) Predict(x []float64) int {
	best, bestP := 0, -1.0
	for c, p := range f.PredictProba(x) {
		if p > bestP {
			best, bestP = c, p
		}
	}
	return best
}

// Score returns the fraction of rows in X whose prediction equals y
func (f *Forest) Score(X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	correct := 0
	for i, x := range X {
		if f.Predict(x) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X))
}
