package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerPoolConfig configures the provider worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent provider calls (default: 4)
}

// DefaultWorkerPoolConfig returns the defaults used for embedding backfill.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 4,
	}
}

// WorkerPool bounds the number of concurrent provider calls so a backfill
// of thousands of texts cannot exhaust the provider's rate limit.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// MaxConcurrent returns the concurrency limit.
func (p *WorkerPool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult is the outcome of one WorkItem. Index is the item's position
// in the submitted slice.
type WorkResult[T any] struct {
	ID     string
	Index  int
	Result T
	Err    error
}

// Process executes all items with bounded parallelism and returns results
// in submission order. A failing item never stops the others; items not yet
// started when ctx ends report ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))

	var mu sync.Mutex
	completed := 0
	done := func() {
		if onProgress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		completed++
		onProgress(completed, len(items))
	}

	var g errgroup.Group
	g.SetLimit(pool.config.MaxConcurrent)

	for i, item := range items {
		results[i] = WorkResult[T]{ID: item.ID, Index: i}

		if err := ctx.Err(); err != nil {
			results[i].Err = err
			done()
			continue
		}

		g.Go(func() error {
			defer done()
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Result, results[i].Err = item.Execute(ctx)
			if results[i].Err != nil {
				pool.logger.Debug("Work item failed",
					zap.String("id", item.ID),
					zap.Error(results[i].Err))
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
