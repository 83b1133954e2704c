// Package pgstore provides the PostgreSQL-backed implementations of every
// stage's persistence seam, built on internal/db.Pool (pgx/pgxpool) and,
// where a bulk-load path is called for, internal/bulk (lib/pq COPY).
// Grounded on the pgxpool query/scan style in
// postgres-ducklake-flusher/go/flusher.go.
package pgstore

import (
	"context"
	"fmt"

	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/model"
)

// RunStore implements pipeline.RunStore against pipeline_runs.
type RunStore struct {
	pool *db.Pool
}

func NewRunStore(pool *db.Pool) *RunStore { return &RunStore{pool: pool} }

func (s *RunStore) StartRun(ctx context.Context, run *model.PipelineRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (run_id, stage, filters, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.RunID, run.Stage, run.Filters, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert pipeline run: %w", err)
	}
	return nil
}

func (s *RunStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $2, completed_at = $3, error_message = $4,
		    processed = $5, created = $6, updated = $7, skipped = $8
		WHERE run_id = $1
	`, run.RunID, run.Status, run.CompletedAt, run.ErrorMessage,
		run.Processed, run.Created, run.Updated, run.Skipped)
	if err != nil {
		return fmt.Errorf("failed to finalize pipeline run: %w", err)
	}
	return nil
}

func (s *RunStore) RunningCount(ctx context.Context, stage string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM pipeline_runs WHERE stage = $1 AND status = 'RUNNING'
	`, stage).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count running runs: %w", err)
	}
	return n, nil
}
