package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/obsrvr/tradeledger/internal/analytics"
	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/model"
)

// AnalyticsStore implements analytics.Store against trade_ledger_facts
// and the S6 serving tables (buyer_profiles, exporter_profiles,
// price_corridors, lane_stats) plus the shared watermarks table.
type AnalyticsStore struct {
	pool *db.Pool
}

func NewAnalyticsStore(pool *db.Pool) *AnalyticsStore { return &AnalyticsStore{pool: pool} }

func (a *AnalyticsStore) GetWatermark(ctx context.Context, job string) (*model.Watermark, error) {
	return getWatermark(ctx, a.pool, job)
}

func (a *AnalyticsStore) SetWatermark(ctx context.Context, job string, upTo time.Time) error {
	return setWatermark(ctx, a.pool, job, upTo)
}

// getWatermark/setWatermark are shared by the analytics and risk store
// adapters, both of which read/advance watermarks on the same table.
func getWatermark(ctx context.Context, pool *db.Pool, job string) (*model.Watermark, error) {
	var wm model.Watermark
	err := pool.QueryRow(ctx, `
		SELECT job, up_to, updated_at FROM watermarks WHERE job = $1
	`, job).Scan(&wm.Job, &wm.UpTo, &wm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark for job=%s: %w", job, err)
	}
	return &wm, nil
}

func setWatermark(ctx context.Context, pool *db.Pool, job string, upTo time.Time) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO watermarks (job, up_to, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (job) DO UPDATE SET up_to = $2, updated_at = now()
	`, job, upTo)
	if err != nil {
		return fmt.Errorf("failed to advance watermark for job=%s: %w", job, err)
	}
	return nil
}

func (a *AnalyticsStore) FactsSince(ctx context.Context, job string, since time.Time) ([]*model.LedgerFact, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT transaction_id, year, std_id, buyer_uuid, supplier_uuid,
		       hs_code_6, origin_country, destination_country, reporting_country,
		       direction, shipment_date, month, qty_kg, customs_value_usd,
		       price_usd_per_kg, teu, vessel_name, container_id, mirror_matched_at
		FROM trade_ledger_facts
		WHERE shipment_date >= $1
		ORDER BY shipment_date
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch facts for job=%s: %w", job, err)
	}
	defer rows.Close()
	return scanLedgerFacts(rows)
}

func (a *AnalyticsStore) UpsertBuyerProfiles(ctx context.Context, profiles []*analytics.BuyerProfile) error {
	for _, p := range profiles {
		topHS6, err := json.Marshal(p.TopHS6)
		if err != nil {
			return fmt.Errorf("failed to marshal buyer top hs6: %w", err)
		}
		topSuppliers, err := json.Marshal(p.TopSuppliers)
		if err != nil {
			return fmt.Errorf("failed to marshal buyer top suppliers: %w", err)
		}
		_, err = a.pool.Exec(ctx, `
			INSERT INTO buyer_profiles (
				buyer_uuid, destination_country, shipments, value_usd, weight_kg,
				unique_hs6, top_hs6, top_suppliers, yoy_growth, persona, refreshed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
			ON CONFLICT (buyer_uuid, destination_country) DO UPDATE SET
				shipments = $3, value_usd = $4, weight_kg = $5, unique_hs6 = $6,
				top_hs6 = $7, top_suppliers = $8, yoy_growth = $9, persona = $10, refreshed_at = now()
		`, p.BuyerUUID, p.DestinationCountry, p.Shipments, p.ValueUSD, p.WeightKg,
			p.UniqueHS6, topHS6, topSuppliers, p.YoYGrowth, p.Persona)
		if err != nil {
			return fmt.Errorf("failed to upsert buyer profile for %s: %w", p.BuyerUUID, err)
		}
	}
	return nil
}

func (a *AnalyticsStore) UpsertExporterProfiles(ctx context.Context, profiles []*analytics.ExporterProfile) error {
	for _, p := range profiles {
		topHS6, err := json.Marshal(p.TopHS6)
		if err != nil {
			return fmt.Errorf("failed to marshal exporter top hs6: %w", err)
		}
		topBuyers, err := json.Marshal(p.TopBuyers)
		if err != nil {
			return fmt.Errorf("failed to marshal exporter top buyers: %w", err)
		}
		_, err = a.pool.Exec(ctx, `
			INSERT INTO exporter_profiles (
				supplier_uuid, origin_country, shipments, value_usd, weight_kg,
				unique_hs6, top_hs6, top_buyers, yoy_growth, stability_score, refreshed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
			ON CONFLICT (supplier_uuid, origin_country) DO UPDATE SET
				shipments = $3, value_usd = $4, weight_kg = $5, unique_hs6 = $6,
				top_hs6 = $7, top_buyers = $8, yoy_growth = $9, stability_score = $10, refreshed_at = now()
		`, p.SupplierUUID, p.OriginCountry, p.Shipments, p.ValueUSD, p.WeightKg,
			p.UniqueHS6, topHS6, topBuyers, p.YoYGrowth, p.StabilityScore)
		if err != nil {
			return fmt.Errorf("failed to upsert exporter profile for %s: %w", p.SupplierUUID, err)
		}
	}
	return nil
}

func (a *AnalyticsStore) UpsertPriceCorridors(ctx context.Context, corridors []analytics.PriceCorridor) error {
	for _, c := range corridors {
		_, err := a.pool.Exec(ctx, `
			INSERT INTO price_corridors (
				hs_code_6, destination_country, year, month, direction, reporting_country,
				min, p25, median, p75, max, mean, stddev, sample_size, refreshed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
			ON CONFLICT (hs_code_6, destination_country, year, month, direction, reporting_country) DO UPDATE SET
				min = $7, p25 = $8, median = $9, p75 = $10, max = $11, mean = $12, stddev = $13,
				sample_size = $14, refreshed_at = now()
		`, c.HSCode6, c.DestinationCountry, c.Year, c.Month, c.Direction, c.ReportingCountry,
			c.Min, c.P25, c.Median, c.P75, c.Max, c.Mean, c.StdDev, c.SampleSize)
		if err != nil {
			return fmt.Errorf("failed to upsert price corridor for hs6=%s: %w", c.HSCode6, err)
		}
	}
	return nil
}

func (a *AnalyticsStore) UpsertLaneStats(ctx context.Context, stats []analytics.LaneStats) error {
	for _, l := range stats {
		topCarriers, err := json.Marshal(l.TopCarriers)
		if err != nil {
			return fmt.Errorf("failed to marshal lane top carriers: %w", err)
		}
		_, err = a.pool.Exec(ctx, `
			INSERT INTO lane_stats (
				origin_country, destination_country, hs_code_6, month,
				shipments, value_usd, teu, top_carriers, refreshed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
			ON CONFLICT (origin_country, destination_country, hs_code_6, month) DO UPDATE SET
				shipments = $5, value_usd = $6, teu = $7, top_carriers = $8, refreshed_at = now()
		`, l.OriginCountry, l.DestinationCountry, l.HSCode6, l.Month,
			l.Shipments, l.ValueUSD, l.TEU, topCarriers)
		if err != nil {
			return fmt.Errorf("failed to upsert lane stats for %s-%s/%s: %w", l.OriginCountry, l.DestinationCountry, l.HSCode6, err)
		}
	}
	return nil
}

func (a *AnalyticsStore) PriorYearBuyerValueUSD(ctx context.Context, buyerUUID, destCountry string, asOf time.Time) (float64, error) {
	var total float64
	err := a.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(customs_value_usd), 0)
		FROM trade_ledger_facts
		WHERE buyer_uuid = $1 AND destination_country = $2 AND year = $3
	`, buyerUUID, destCountry, asOf.Year()-1).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute prior-year buyer value: %w", err)
	}
	return total, nil
}

func (a *AnalyticsStore) PriorYearSupplierValueUSD(ctx context.Context, supplierUUID, originCountry string, asOf time.Time) (float64, error) {
	var total float64
	err := a.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(customs_value_usd), 0)
		FROM trade_ledger_facts
		WHERE supplier_uuid = $1 AND origin_country = $2 AND year = $3
	`, supplierUUID, originCountry, asOf.Year()-1).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute prior-year supplier value: %w", err)
	}
	return total, nil
}

func (a *AnalyticsStore) MonthlyShipmentCounts(ctx context.Context, supplierUUID, originCountry string, asOf time.Time) ([12]int64, error) {
	var counts [12]int64
	rows, err := a.pool.Query(ctx, `
		SELECT date_trunc('month', shipment_date) AS m, count(*)
		FROM trade_ledger_facts
		WHERE supplier_uuid = $1 AND origin_country = $2
		  AND shipment_date >= $3 AND shipment_date < $4
		GROUP BY m
	`, supplierUUID, originCountry, asOf.AddDate(0, -12, 0), asOf)
	if err != nil {
		return counts, fmt.Errorf("failed to fetch monthly shipment counts: %w", err)
	}
	defer rows.Close()

	trailingStart := asOf.AddDate(0, -12, 0)
	for rows.Next() {
		var month time.Time
		var n int64
		if err := rows.Scan(&month, &n); err != nil {
			return counts, fmt.Errorf("failed to scan monthly shipment count: %w", err)
		}
		idx := int(month.Sub(trailingStart).Hours() / 24 / 30)
		if idx >= 0 && idx < 12 {
			counts[idx] = n
		}
	}
	return counts, rows.Err()
}
