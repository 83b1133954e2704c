package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
)

// RunStore persists PipelineRun rows. The real implementation lives in a
// postgres-backed adapter; stage tests use an in-memory fake.
type RunStore interface {
	StartRun(ctx context.Context, run *model.PipelineRun) error
	FinishRun(ctx context.Context, run *model.PipelineRun) error
	// RunningCount reports how many runs of stage are currently RUNNING,
	// used to flag the "crashed worker" invariant from spec.md §3.
	RunningCount(ctx context.Context, stage string) (int, error)
}

// Run is the handle a stage entry point holds for the duration of its
// invocation: it accumulates counters and writes the terminal status on
// Finish, exactly as spec.md §4.8 describes.
type Run struct {
	store RunStore
	rec   model.PipelineRun

	failedRows bool
}

// Start opens a run (status RUNNING) and persists it immediately so
// external observers can see it before the stage does any work.
func Start(ctx context.Context, store RunStore, stage string, filters map[string]string) (*Run, error) {
	r := &Run{
		store: store,
		rec: model.PipelineRun{
			RunID:     uuid.New(),
			Stage:     stage,
			Filters:   filters,
			Status:    model.RunRunning,
			StartedAt: time.Now(),
		},
	}
	if err := store.StartRun(ctx, &r.rec); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Run) ID() uuid.UUID { return r.rec.RunID }

// Snapshot returns the run's counters as of now, for callers (the CLI's
// metrics reporting) that need to read them without holding a reference
// to the unexported record.
func (r *Run) Snapshot() model.PipelineRun { return r.rec }

func (r *Run) AddProcessed(n int64) { r.rec.Processed += n }
func (r *Run) AddCreated(n int64)   { r.rec.Created += n }
func (r *Run) AddUpdated(n int64)   { r.rec.Updated += n }
func (r *Run) AddSkipped(n int64)   { r.rec.Skipped += n }

// MarkRowFailure records that at least one row-level failure occurred
// without failing the whole stage — the run still finishes, but as
// PARTIAL rather than SUCCESS, per spec.md §4.8.
func (r *Run) MarkRowFailure() { r.failedRows = true }

// Finish writes the terminal status. err, when non-nil, means the stage
// itself failed (cannot open DB, ErrAssertionFailed, ...) and the run is
// marked FAILED; a cancelled context instead yields PARTIAL.
func (r *Run) Finish(ctx context.Context, err error) error {
	now := time.Now()
	r.rec.CompletedAt = &now

	switch {
	case err != nil && errors.Is(err, ErrCancelled):
		r.rec.Status = model.RunPartial
		r.rec.ErrorMessage = err.Error()
	case err != nil:
		r.rec.Status = model.RunFailed
		r.rec.ErrorMessage = err.Error()
	case r.failedRows:
		r.rec.Status = model.RunPartial
	default:
		r.rec.Status = model.RunSuccess
	}

	return r.store.FinishRun(ctx, &r.rec)
}

// ExitCode maps a finished run's status to the CLI exit code spec.md §6
// requires: 0 SUCCESS, 1 FAILED, 2 PARTIAL.
func (r *Run) ExitCode() int {
	switch r.rec.Status {
	case model.RunSuccess:
		return 0
	case model.RunPartial:
		return 2
	default:
		return 1
	}
}
