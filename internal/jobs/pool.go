package jobs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 8

// RunPool feeds items through a shared queue to at most workers goroutines.
// fn owns its own error handling; a failing item never stops the others.
// When ctx ends, queued items are abandoned and the number of items handed to
// a worker is returned together with ctx.Err().
func RunPool[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T)) (int, error) {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if workers > len(items) {
		workers = len(items)
	}

	queue := make(chan T)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for item := range queue {
				fn(ctx, item)
			}
			return nil
		})
	}

	dispatched := 0
	var stopErr error
feed:
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		select {
		case <-ctx.Done():
			stopErr = ctx.Err()
			break feed
		case queue <- item:
			dispatched++
		}
	}
	close(queue)
	_ = g.Wait()
	return dispatched, stopErr
}
