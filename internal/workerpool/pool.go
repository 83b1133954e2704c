// Package workerpool provides the bounded worker pool spec.md §5 describes:
// within a stage, work is partitioned (by country/direction/file, or by
// analytics partition) and run on at most N concurrent tasks, each task
// sequential and yielding at DB/file I/O boundaries. Built on
// golang.org/x/sync/errgroup, which several sibling services in the source
// corpus already pull in transitively for exactly this shape of fan-out.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work: one file (S1/S2/S3) or one partition (S6/S7).
type Task func(ctx context.Context) error

// Run executes tasks on a pool bounded to workers (0 = runtime.NumCPU()).
// The first task error cancels the group's context, propagating
// cancellation to in-flight tasks per spec.md §5; Run returns that first
// error. Run does not check ctx itself: when cancellation comes from
// outside, it returns whatever the tasks return (nil if none fails).
func Run(ctx context.Context, workers int, tasks []Task) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			return t(gctx)
		})
	}
	return g.Wait()
}
