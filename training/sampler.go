package training

import (
	"fmt"
	"iter"
	"math/rand"
	"slices"
	"sort"

	"go.uber.org/zap"
)

// BatchSampler produces the batches of one epoch as dataset indices. Every
// call to Batches starts a new epoch with a fresh shuffle; ranging over the
// same returned sequence twice replays that epoch.
type BatchSampler interface {
	Batches() iter.Seq[[]int]
	NumBatches() int
	BatchSize() int
}

// SamplerConfig controls class-balanced batch construction
type SamplerConfig struct {
	NViews           int   // Samples drawn per class in a batch
	NClassesPerBatch int   // Distinct classes per batch
	Seed             int64 // Base seed; epoch e uses Seed+e
}

// ViewSampler builds batches of NClassesPerBatch distinct classes, each
// contributing exactly NViews indices of that class.
//
// Within an epoch, each batch takes the classes with the most unseen samples
// (ties broken by a per-epoch random priority). A class whose unseen count
// drops below NViews sits out the rest of the epoch, and the epoch ends once
// fewer than NClassesPerBatch classes can still contribute. Classes with
// fewer than NViews samples overall are excluded at construction.
type ViewSampler struct {
	nViews     int
	nClasses   int
	seed       int64
	epoch      int64
	classes    []int         // eligible labels, sorted
	members    map[int][]int // label -> dataset indices
	excluded   []int
	numBatches int
}

// NewViewSampler groups indices by labelIndex[idx]. labelIndex maps every
// dataset index to its label and is not modified.
func NewViewSampler(indices []int, labelIndex []int, cfg SamplerConfig, logger *zap.Logger) (*ViewSampler, error) {
	if cfg.NViews < 2 {
		return nil, &ConfigurationError{Param: "n_views", Value: cfg.NViews, Reason: "must be at least 2"}
	}
	if cfg.NClassesPerBatch < 1 {
		return nil, &ConfigurationError{Param: "n_classes_per_batch", Value: cfg.NClassesPerBatch, Reason: "must be at least 1"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	members := make(map[int][]int)
	for _, idx := range indices {
		if idx < 0 || idx >= len(labelIndex) {
			return nil, fmt.Errorf("index %d outside label index of length %d", idx, len(labelIndex))
		}
		label := labelIndex[idx]
		members[label] = append(members[label], idx)
	}

	s := &ViewSampler{
		nViews:   cfg.NViews,
		nClasses: cfg.NClassesPerBatch,
		seed:     cfg.Seed,
		members:  make(map[int][]int),
	}
	for label, idx := range members {
		if len(idx) < cfg.NViews {
			s.excluded = append(s.excluded, label)
			continue
		}
		s.classes = append(s.classes, label)
		s.members[label] = idx
	}
	sort.Ints(s.classes)
	sort.Ints(s.excluded)

	if len(s.excluded) > 0 {
		logger.Warn("excluding classes with fewer samples than n_views",
			zap.Ints("classes", s.excluded),
			zap.Int("n_views", cfg.NViews))
	}
	if len(s.classes) < cfg.NClassesPerBatch {
		return nil, &InsufficientDataError{
			What:      "classes with at least n_views samples",
			Have:      len(s.classes),
			Need:      cfg.NClassesPerBatch,
			Parameter: fmt.Sprintf("n_views=%d n_classes_per_batch=%d", cfg.NViews, cfg.NClassesPerBatch),
		}
	}

	s.numBatches = s.countBatches()
	return s, nil
}

func (s *ViewSampler) BatchSize() int { return s.nViews * s.nClasses }

// NumBatches is exact: the greedy schedule depends only on class sizes
func (s *ViewSampler) NumBatches() int { return s.numBatches }

// Classes returns the labels that take part in sampling
func (s *ViewSampler) Classes() []int { return slices.Clone(s.classes) }

// Excluded returns the labels dropped for having fewer than NViews samples
func (s *ViewSampler) Excluded() []int { return slices.Clone(s.excluded) }

func (s *ViewSampler) countBatches() int {
	draws := make([]int, 0, len(s.classes))
	for _, c := range s.classes {
		draws = append(draws, len(s.members[c])/s.nViews)
	}
	n := 0
	for {
		sort.Sort(sort.Reverse(sort.IntSlice(draws)))
		if len(draws) < s.nClasses || draws[s.nClasses-1] == 0 {
			return n
		}
		for i := 0; i < s.nClasses; i++ {
			draws[i]--
		}
		n++
	}
}

// Batches starts a new epoch
func (s *ViewSampler) Batches() iter.Seq[[]int] {
	s.epoch++
	epochSeed := s.seed + s.epoch

	return func(yield func([]int) bool) {
		rng := rand.New(rand.NewSource(epochSeed))

		type pool struct {
			label    int
			items    []int
			next     int
			priority int
		}
		priority := rng.Perm(len(s.classes))
		pools := make([]*pool, len(s.classes))
		for i, c := range s.classes {
			items := slices.Clone(s.members[c])
			rng.Shuffle(len(items), func(a, b int) { items[a], items[b] = items[b], items[a] })
			pools[i] = &pool{label: c, items: items, priority: priority[i]}
		}
		remaining := func(p *pool) int { return len(p.items) - p.next }

		for {
			active := pools[:0:0]
			for _, p := range pools {
				if remaining(p) >= s.nViews {
					active = append(active, p)
				}
			}
			if len(active) < s.nClasses {
				return
			}
			sort.Slice(active, func(a, b int) bool {
				ra, rb := remaining(active[a]), remaining(active[b])
				if ra != rb {
					return ra > rb
				}
				return active[a].priority < active[b].priority
			})

			batch := make([]int, 0, s.BatchSize())
			for _, p := range active[:s.nClasses] {
				batch = append(batch, p.items[p.next:p.next+s.nViews]...)
				p.next += s.nViews
			}
			if !yield(batch) {
				return
			}
		}
	}
}

// IndexSampler yields fixed-size batches over a list of indices, optionally
// shuffled per epoch. It serves the two-view loss during training and the
// validation pass of the diagnostic.
type IndexSampler struct {
	indices   []int
	batchSize int
	shuffle   bool
	dropLast  bool
	seed      int64
	epoch     int64
}

// NewShuffleSampler reshuffles indices every epoch and drops an incomplete
// final batch
func NewShuffleSampler(indices []int, batchSize int, seed int64) (*IndexSampler, error) {
	if batchSize < 1 {
		return nil, &ConfigurationError{Param: "batch_size", Value: batchSize, Reason: "must be positive"}
	}
	if len(indices) < batchSize {
		return nil, &InsufficientDataError{What: "training samples for one full batch", Have: len(indices), Need: batchSize, Parameter: "batch_size"}
	}
	return &IndexSampler{indices: slices.Clone(indices), batchSize: batchSize, shuffle: true, dropLast: true, seed: seed}, nil
}

// NewSequentialSampler visits indices in order, keeping the final partial batch
func NewSequentialSampler(indices []int, batchSize int) (*IndexSampler, error) {
	if batchSize < 1 {
		return nil, &ConfigurationError{Param: "batch_size", Value: batchSize, Reason: "must be positive"}
	}
	return &IndexSampler{indices: slices.Clone(indices), batchSize: batchSize}, nil
}

func (s *IndexSampler) BatchSize() int { return s.batchSize }

func (s *IndexSampler) NumBatches() int {
	if s.dropLast {
		return len(s.indices) / s.batchSize
	}
	return (len(s.indices) + s.batchSize - 1) / s.batchSize
}

func (s *IndexSampler) Batches() iter.Seq[[]int] {
	s.epoch++
	order := s.indices
	if s.shuffle {
		order = slices.Clone(s.indices)
		rng := rand.New(rand.NewSource(s.seed + s.epoch))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	n := s.NumBatches()

	return func(yield func([]int) bool) {
		for b := 0; b < n; b++ {
			end := min((b+1)*s.batchSize, len(order))
			if !yield(slices.Clone(order[b*s.batchSize : end])) {
				return
			}
		}
	}
}
