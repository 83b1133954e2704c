// Package dag implements the pipeline DAG runner: executes S1-S4 linearly
// then fans out S5-S8 from S4, respecting the stage dependency graph
// spec.md §2 describes, for the `tradeledger run` command.
package dag

import (
	"context"
	"fmt"

	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/workerpool"
)

// StageFunc runs one stage to completion and returns its error, if any.
type StageFunc func(ctx context.Context) error

// Stage is one node of the DAG: a name, its runnable body, and the names
// of stages it depends on (must have already completed successfully).
type Stage struct {
	Name    string
	Run     StageFunc
	DependsOn []string
}

// Runner executes a declared set of stages respecting DependsOn edges:
// independent stages run concurrently on the bounded worker pool,
// dependent stages wait for their prerequisites.
type Runner struct {
	stages  []Stage
	workers int
	log     *obslog.Stage
}

func NewRunner(log *obslog.Stage, workers int, stages ...Stage) *Runner {
	return &Runner{stages: stages, workers: workers, log: log}
}

// Run executes the DAG to completion or first hard error. A stage whose
// dependency failed is skipped and reported as a dependency failure,
// mirroring spec.md §7's "file-level errors do not fail the stage, but a
// stage's own hard failure propagates" at the DAG level.
func (r *Runner) Run(ctx context.Context) error {
	done := make(map[string]error, len(r.stages))
	remaining := append([]Stage(nil), r.stages...)

	for len(remaining) > 0 {
		var ready []Stage
		var waiting []Stage
		progressed := false
		for _, s := range remaining {
			switch status, failedDep := r.depStatus(s, done); status {
			case depsReady:
				ready = append(ready, s)
			case depsFailed:
				done[s.Name] = fmt.Errorf("dag: stage %s blocked: dependency %s failed", s.Name, failedDep)
				progressed = true
			case depsPending:
				waiting = append(waiting, s)
			}
		}
		if len(ready) == 0 {
			if progressed {
				// At least one stage was resolved as blocked-by-failure this
				// round; re-evaluate the rest before giving up.
				remaining = waiting
				continue
			}
			return fmt.Errorf("dag: no stage ready to run, %d stages blocked (cycle or missing dependency)", len(waiting))
		}

		results := make([]error, len(ready))
		tasks := make([]workerpool.Task, len(ready))
		for i, s := range ready {
			i, s := i, s
			tasks[i] = func(ctx context.Context) error {
				r.log.Info().Str("dag_stage", s.Name).Msg("stage starting")
				err := s.Run(ctx)
				results[i] = err
				if err != nil {
					r.log.Error().Str("dag_stage", s.Name).Err(err).Msg("stage failed")
				} else {
					r.log.Info().Str("dag_stage", s.Name).Msg("stage completed")
				}
				return nil // DAG keeps going; failure is recorded per-stage
			}
		}

		if err := workerpool.Run(ctx, r.workers, tasks); err != nil {
			return fmt.Errorf("dag: worker pool error: %w", err)
		}

		for i, s := range ready {
			done[s.Name] = results[i]
		}
		remaining = waiting
	}

	for name, err := range done {
		if err != nil {
			return fmt.Errorf("dag: stage %s failed: %w", name, err)
		}
	}
	return nil
}

type depStatus int

const (
	// depsPending means at least one dependency hasn't run yet.
	depsPending depStatus = iota
	// depsReady means every dependency ran and succeeded.
	depsReady
	// depsFailed means a dependency ran and failed (dependencies are
	// checked in DependsOn order; the first not-yet-run or failed one decides).
	depsFailed
)

// depStatus reports whether s is ready to run, blocked by a dependency that
// has not completed yet, or blocked because a dependency already failed. In
// the last case it also returns the name of the failed dependency.
func (r *Runner) depStatus(s Stage, done map[string]error) (depStatus, string) {
	for _, dep := range s.DependsOn {
		err, ran := done[dep]
		if !ran {
			return depsPending, ""
		}
		if err != nil {
			return depsFailed, dep
		}
	}
	return depsReady, ""
}
