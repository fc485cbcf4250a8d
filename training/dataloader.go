package training

import (
	"context"
	"iter"

	"github.com/pkg/errors"
	"github.com/tsawler/go-supcon/async"
	"github.com/tsawler/go-supcon/tensor"
)

// LoaderConfig controls how sampler batches are rendered into tensors
type LoaderConfig struct {
	// Views is the number of renderings per index. With 2, a batch of B
	// indices becomes 2B rows: all first views, then all second views.
	Views int
	// Augment varies the view id every epoch so augmentations differ
	// between epochs. Without it the same view ids are rendered each time.
	Augment       bool
	Workers       int
	PrefetchDepth int
}

// Batch is one rendered batch, in sampler order
type Batch struct {
	Indices []int          // dataset indices as produced by the sampler
	Data    *tensor.Tensor // [len(Indices)*Views, ...]
	Labels  []int          // label of each row of Data
	Views   int
	Epoch   int
}

// DataLoader renders the batches of a BatchSampler on background workers.
// Batches are prepared ahead of the consumer but always delivered in the
// order the sampler produced them.
type DataLoader struct {
	dataset Dataset
	sampler BatchSampler
	views   int
	augment bool
	epoch   int
	loader  *async.AsyncDataLoader[batchRequest, *Batch]
}

type batchRequest struct {
	indices []int
	epoch   int
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, sampler BatchSampler, cfg LoaderConfig) (*DataLoader, error) {
	if dataset == nil || sampler == nil {
		return nil, errors.New("dataset and sampler are required")
	}
	if cfg.Views <= 0 {
		cfg.Views = 1
	}

	dl := &DataLoader{
		dataset: dataset,
		sampler: sampler,
		views:   cfg.Views,
		augment: cfg.Augment,
	}
	loader, err := async.NewAsyncDataLoader(dl.loadBatch, async.AsyncDataLoaderConfig{
		Workers:       cfg.Workers,
		PrefetchDepth: cfg.PrefetchDepth,
	})
	if err != nil {
		return nil, err
	}
	dl.loader = loader
	return dl, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int { return dl.sampler.NumBatches() }

// Views returns the number of rows rendered per index
func (dl *DataLoader) Views() int { return dl.views }

// Epoch reshuffles the sampler and streams the rendered batches of one epoch
func (dl *DataLoader) Epoch(ctx context.Context) iter.Seq2[*Batch, error] {
	dl.epoch++
	epoch := dl.epoch
	batches := dl.sampler.Batches()

	requests := func(yield func(batchRequest) bool) {
		for indices := range batches {
			if !yield(batchRequest{indices: indices, epoch: epoch}) {
				return
			}
		}
	}
	return dl.loader.Stream(ctx, requests)
}

func (dl *DataLoader) viewID(epoch, view int) int {
	if !dl.augment {
		return view
	}
	return (epoch-1)*dl.views + view
}

// loadBatch loads a batch of samples and combines them into a batched tensor
func (dl *DataLoader) loadBatch(ctx context.Context, req batchRequest) (*Batch, error) {
	if len(req.indices) == 0 {
		return nil, errors.New("empty batch indices")
	}

	rows := make([]*tensor.Tensor, 0, len(req.indices)*dl.views)
	labels := make([]int, 0, len(req.indices)*dl.views)
	for v := 0; v < dl.views; v++ {
		view := dl.viewID(req.epoch, v)
		for _, idx := range req.indices {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			x, err := dl.dataset.Get(idx, view)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to load sample %d view %d", idx, view)
			}
			rows = append(rows, x)
			labels = append(labels, dl.dataset.Label(idx))
		}
	}

	data, err := tensor.Stack(rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stack batch")
	}

	return &Batch{
		Indices: req.indices,
		Data:    data,
		Labels:  labels,
		Views:   dl.views,
		Epoch:   req.epoch,
	}, nil
}
