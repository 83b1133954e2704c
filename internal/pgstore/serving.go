package pgstore

import (
	"context"
	"fmt"

	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/serving"
)

// ServingStore implements serving.Store against trade_ledger_facts,
// serving_summary, and pipeline_runs (for the control-tower view).
type ServingStore struct {
	pool *db.Pool
}

func NewServingStore(pool *db.Pool) *ServingStore { return &ServingStore{pool: pool} }

func (s *ServingStore) ComputeSummary(ctx context.Context) (serving.Summary, error) {
	var out serving.Summary
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			COALESCE(sum(customs_value_usd), 0),
			count(DISTINCT buyer_uuid),
			count(DISTINCT supplier_uuid),
			count(DISTINCT origin_country) + count(DISTINCT destination_country),
			COALESCE(max(shipment_date), 'epoch'::timestamptz)
		FROM trade_ledger_facts
	`).Scan(&out.TotalShipments, &out.TotalValueUSD, &out.TotalBuyers, &out.TotalSuppliers,
		&out.CountriesCovered, &out.LatestShipment)
	if err != nil {
		return out, fmt.Errorf("failed to compute serving summary: %w", err)
	}
	return out, nil
}

func (s *ServingStore) RefreshSummary(ctx context.Context, sum serving.Summary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO serving_summary (
			id, total_shipments, total_value_usd, total_buyers, total_suppliers,
			countries_covered, latest_shipment, refreshed_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			total_shipments = $1, total_value_usd = $2, total_buyers = $3, total_suppliers = $4,
			countries_covered = $5, latest_shipment = $6, refreshed_at = $7
	`, sum.TotalShipments, sum.TotalValueUSD, sum.TotalBuyers, sum.TotalSuppliers,
		sum.CountriesCovered, sum.LatestShipment, sum.RefreshedAt)
	if err != nil {
		return fmt.Errorf("failed to write serving summary: %w", err)
	}
	return nil
}

func (s *ServingStore) RefreshRunStatusView(ctx context.Context, views []serving.RunStatusView) error {
	for _, v := range views {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO run_status_view (stage, last_run_at, last_status, running_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (stage) DO UPDATE SET
				last_run_at = $2, last_status = $3, running_count = $4
		`, v.Stage, v.LastRunAt, v.LastStatus, v.RunningCount)
		if err != nil {
			return fmt.Errorf("failed to refresh run status view for stage=%s: %w", v.Stage, err)
		}
	}
	return nil
}

func (s *ServingStore) StageNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT stage FROM pipeline_runs ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, fmt.Errorf("failed to scan stage name: %w", err)
		}
		out = append(out, stage)
	}
	return out, rows.Err()
}

func (s *ServingStore) LastRun(ctx context.Context, stage string) (serving.RunStatusView, error) {
	var v serving.RunStatusView
	v.Stage = stage
	err := s.pool.QueryRow(ctx, `
		SELECT started_at, status FROM pipeline_runs WHERE stage = $1 ORDER BY started_at DESC LIMIT 1
	`, stage).Scan(&v.LastRunAt, &v.LastStatus)
	if err != nil {
		return v, fmt.Errorf("failed to fetch last run for stage=%s: %w", stage, err)
	}
	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM pipeline_runs WHERE stage = $1 AND status = 'RUNNING'
	`, stage).Scan(&v.RunningCount)
	if err != nil {
		return v, fmt.Errorf("failed to count running runs for stage=%s: %w", stage, err)
	}
	return v, nil
}
