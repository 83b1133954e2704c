// Package serving implements S8, Serving Refresh: maintains a
// materialized summary and a small set of derived views consumed by the
// out-of-scope external API, per spec.md §2's component table.
package serving

import (
	"context"
	"fmt"
	"time"

	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

// Summary is the single materialized row this stage maintains: a
// point-in-time rollup of the whole ledger, cheap for the external API to
// read without touching the fact table directly.
type Summary struct {
	TotalShipments   int64
	TotalValueUSD    float64
	TotalBuyers      int64
	TotalSuppliers   int64
	CountriesCovered int64
	LatestShipment   time.Time
	RefreshedAt      time.Time
}

// RunStatusView is one row of the "control tower" view the external API
// renders directly from the Pipeline-Runs Tracker, per spec.md §2.
type RunStatusView struct {
	Stage        string
	LastRunAt    time.Time
	LastStatus   string
	RunningCount int
}

// Store is the S8 persistence seam.
type Store interface {
	ComputeSummary(ctx context.Context) (Summary, error)
	RefreshSummary(ctx context.Context, s Summary) error
	RefreshRunStatusView(ctx context.Context, views []RunStatusView) error
	StageNames(ctx context.Context) ([]string, error)
	LastRun(ctx context.Context, stage string) (RunStatusView, error)
}

// Refresh recomputes the materialized summary and the per-stage control
// tower view in one pass. Both are read-only derivations; failures here
// never touch upstream tables.
func Refresh(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, now time.Time) error {
	summary, err := store.ComputeSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute serving summary: %w", err)
	}
	summary.RefreshedAt = now
	if err := store.RefreshSummary(ctx, summary); err != nil {
		return fmt.Errorf("failed to refresh serving summary: %w", err)
	}
	run.AddUpdated(1)

	stages, err := store.StageNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stage names: %w", err)
	}

	views := make([]RunStatusView, 0, len(stages))
	for _, stage := range stages {
		run.AddProcessed(1)
		v, err := store.LastRun(ctx, stage)
		if err != nil {
			return fmt.Errorf("failed to fetch last run for stage %s: %w", stage, err)
		}
		views = append(views, v)
	}

	if err := store.RefreshRunStatusView(ctx, views); err != nil {
		return fmt.Errorf("failed to refresh run status view: %w", err)
	}
	run.AddUpdated(int64(len(views)))

	log.Info().Int64("total_shipments", summary.TotalShipments).Int("stages", len(views)).Msg("serving refresh complete")
	return nil
}
