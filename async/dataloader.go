// Package async runs data preparation on background workers ahead of the
// consumer. Workers prefetch, they never reorder: results are delivered in
// exactly the order their inputs were produced.
package async

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// LoadFunc prepares one item. It must honour ctx cancellation for long work.
type LoadFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// AsyncDataLoader manages background loading with a bounded prefetch window
type AsyncDataLoader[In, Out any] struct {
	load          LoadFunc[In, Out]
	prefetchDepth int // Number of items to prefetch
	workers       int // Number of background workers

	// State
	produced   atomic.Uint64
	generation uint64
	isRunning  bool
	mutex      sync.RWMutex
}

// AsyncDataLoaderConfig holds configuration for the data loader
type AsyncDataLoaderConfig struct {
	PrefetchDepth int // Number of items to prefetch (default: 3)
	Workers       int // Number of background workers (default: 2)
}

// NewAsyncDataLoader creates a new asynchronous data loader
func NewAsyncDataLoader[In, Out any](load LoadFunc[In, Out], config AsyncDataLoaderConfig) (*AsyncDataLoader[In, Out], error) {
	if load == nil {
		return nil, fmt.Errorf("load function cannot be nil")
	}

	// Set defaults
	if config.PrefetchDepth <= 0 {
		config.PrefetchDepth = 3
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	return &AsyncDataLoader[In, Out]{
		load:          load,
		prefetchDepth: config.PrefetchDepth,
		workers:       config.Workers,
	}, nil
}

type result[Out any] struct {
	value Out
	err   error
}

type job[In, Out any] struct {
	input In
	slot  chan result[Out]
}

// Stream loads every element of inputs and yields the results in input order.
// The first load error is yielded and ends the stream. Breaking out of the
// loop early cancels outstanding work; Stream returns only after every
// background goroutine has exited.
func (adl *AsyncDataLoader[In, Out]) Stream(ctx context.Context, inputs iter.Seq[In]) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		var zero Out

		adl.mutex.Lock()
		if adl.isRunning {
			adl.mutex.Unlock()
			yield(zero, fmt.Errorf("data loader is already running"))
			return
		}
		adl.isRunning = true
		adl.generation++
		adl.mutex.Unlock()

		defer func() {
			adl.mutex.Lock()
			adl.isRunning = false
			adl.mutex.Unlock()
		}()

		ctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
		}()

		jobs := make(chan job[In, Out])
		pending := make(chan chan result[Out], adl.prefetchDepth)

		for i := 0; i < adl.workers; i++ {
			wg.Add(1)
			go adl.worker(ctx, &wg, jobs)
		}

		// The producer reserves an ordered slot before handing the input to
		// a worker, so the consumer can wait on slots in sequence.
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(jobs)
			defer close(pending)
			for in := range inputs {
				slot := make(chan result[Out], 1)
				select {
				case pending <- slot:
				case <-ctx.Done():
					return
				}
				select {
				case jobs <- job[In, Out]{input: in, slot: slot}:
				case <-ctx.Done():
					return
				}
			}
		}()

		for slot := range pending {
			var r result[Out]
			select {
			case r = <-slot:
			case <-ctx.Done():
				yield(zero, ctx.Err())
				return
			}
			if !yield(r.value, r.err) || r.err != nil {
				return
			}
		}

		// pending is also closed when the producer saw cancellation
		if err := ctx.Err(); err != nil {
			yield(zero, err)
		}
	}
}

// worker runs in background and fills the slot of every job it receives
func (adl *AsyncDataLoader[In, Out]) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan job[In, Out]) {
	defer wg.Done()
	for j := range jobs {
		if err := ctx.Err(); err != nil {
			j.slot <- result[Out]{err: err}
			continue
		}
		v, err := adl.load(ctx, j.input)
		if err == nil {
			adl.produced.Add(1)
		}
		j.slot <- result[Out]{value: v, err: err}
	}
}

// Stats returns statistics about the data loader
func (adl *AsyncDataLoader[In, Out]) Stats() AsyncDataLoaderStats {
	adl.mutex.RLock()
	defer adl.mutex.RUnlock()

	return AsyncDataLoaderStats{
		IsRunning:     adl.isRunning,
		ItemsProduced: adl.produced.Load(),
		PrefetchDepth: adl.prefetchDepth,
		Workers:       adl.workers,
		Generation:    adl.generation,
	}
}

// AsyncDataLoaderStats provides statistics about the data loader
type AsyncDataLoaderStats struct {
	IsRunning     bool
	ItemsProduced uint64
	PrefetchDepth int
	Workers       int
	Generation    uint64
}
