package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/obsrvr/tradeledger/internal/analytics"
	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/risk"
)

// RiskStore implements risk.Store against risk_opinions / risk_opinions_history.
type RiskStore struct {
	pool *db.Pool
}

func NewRiskStore(pool *db.Pool) *RiskStore { return &RiskStore{pool: pool} }

func (r *RiskStore) GetWatermark(ctx context.Context, job string) (*model.Watermark, error) {
	return getWatermark(ctx, r.pool, job)
}

func (r *RiskStore) SetWatermark(ctx context.Context, job string, upTo time.Time) error {
	return setWatermark(ctx, r.pool, job, upTo)
}

func (r *RiskStore) ShipmentContexts(ctx context.Context, since time.Time) ([]risk.ShipmentContext, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT f.transaction_id, f.year, f.std_id, f.buyer_uuid, f.supplier_uuid,
		       f.hs_code_6, f.origin_country, f.destination_country, f.reporting_country,
		       f.direction, f.shipment_date, f.month, f.qty_kg, f.customs_value_usd,
		       f.price_usd_per_kg, f.teu, f.vessel_name, f.container_id, f.mirror_matched_at,
		       c.min, c.p25, c.median, c.p75, c.max, c.mean, c.stddev, c.sample_size,
		       (c.sample_size IS NOT NULL) AS has_corridor,
		       (SELECT count(*) FROM trade_ledger_facts l2
		          WHERE l2.origin_country = f.origin_country AND l2.destination_country = f.destination_country
		            AND l2.hs_code_6 = f.hs_code_6) AS lane_shipments,
		       (SELECT count(*) FROM trade_ledger_facts l3 WHERE l3.hs_code_6 = f.hs_code_6) AS global_hs6_shipments
		FROM trade_ledger_facts f
		LEFT JOIN price_corridors c
		  ON c.hs_code_6 = f.hs_code_6 AND c.destination_country = f.destination_country
		 AND c.year = f.year AND c.month = f.month AND c.direction = f.direction
		 AND c.reporting_country = f.reporting_country
		WHERE f.shipment_date >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shipment risk contexts: %w", err)
	}
	defer rows.Close()

	var out []risk.ShipmentContext
	for rows.Next() {
		var c risk.ShipmentContext
		c.Fact = &model.LedgerFact{}
		var min, p25, median, p75, max, mean, stddev *float64
		var sampleSize *int
		if err := rows.Scan(&c.Fact.TransactionID, &c.Fact.Year, &c.Fact.StdID, &c.Fact.BuyerUUID, &c.Fact.SupplierUUID,
			&c.Fact.HSCode6, &c.Fact.OriginCountry, &c.Fact.DestinationCountry, &c.Fact.ReportingCountry,
			&c.Fact.Direction, &c.Fact.ShipmentDate, &c.Fact.Month, &c.Fact.QtyKg, &c.Fact.CustomsValueUSD,
			&c.Fact.PriceUSDPerKg, &c.Fact.TEU, &c.Fact.VesselName, &c.Fact.ContainerID, &c.Fact.MirrorMatchedAt,
			&min, &p25, &median, &p75, &max, &mean, &stddev, &sampleSize,
			&c.HasCorridor, &c.LaneShipments, &c.GlobalHS6Shipments); err != nil {
			return nil, fmt.Errorf("failed to scan shipment risk context: %w", err)
		}
		if c.HasCorridor {
			c.Corridor = analytics.PriceCorridor{
				HSCode6: c.Fact.HSCode6, DestinationCountry: c.Fact.DestinationCountry,
				Year: c.Fact.Year, Month: c.Fact.Month, Direction: string(c.Fact.Direction),
				ReportingCountry: c.Fact.ReportingCountry,
			}
			if min != nil {
				c.Corridor.Min = *min
			}
			if p25 != nil {
				c.Corridor.P25 = *p25
			}
			if median != nil {
				c.Corridor.Median = *median
			}
			if p75 != nil {
				c.Corridor.P75 = *p75
			}
			if max != nil {
				c.Corridor.Max = *max
			}
			if mean != nil {
				c.Corridor.Mean = *mean
			}
			if stddev != nil {
				c.Corridor.StdDev = *stddev
			}
			if sampleSize != nil {
				c.Corridor.SampleSize = *sampleSize
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *RiskStore) BuyerContexts(ctx context.Context, since time.Time) ([]risk.BuyerContext, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.buyer_uuid::text, b.value_usd, (org.website_url <> '') AS website_present,
		       COALESCE(cur.cnt, 0), COALESCE(stats.mean_cnt, 0), COALESCE(stats.stddev_cnt, 0),
		       COALESCE(prior.cnt, 0), (b.value_usd >= 500000) AS high_volume,
		       COALESCE(org.observed_email_domains, ARRAY[]::text[])
		FROM buyer_profiles b
		JOIN organizations_master org ON org.uuid = b.buyer_uuid
		LEFT JOIN LATERAL (
			SELECT count(*) cnt FROM trade_ledger_facts f
			WHERE f.buyer_uuid = b.buyer_uuid AND date_trunc('month', f.shipment_date) = date_trunc('month', now())
		) cur ON true
		LEFT JOIN LATERAL (
			SELECT count(*) cnt FROM trade_ledger_facts f
			WHERE f.buyer_uuid = b.buyer_uuid AND date_trunc('month', f.shipment_date) = date_trunc('month', now() - interval '1 month')
		) prior ON true
		LEFT JOIN LATERAL (
			SELECT avg(m.cnt) mean_cnt, stddev_pop(m.cnt) stddev_cnt FROM (
				SELECT count(*) cnt FROM trade_ledger_facts f
				WHERE f.buyer_uuid = b.buyer_uuid AND f.shipment_date >= now() - interval '12 months'
				GROUP BY date_trunc('month', f.shipment_date)
			) m
		) stats ON true
		WHERE b.refreshed_at >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch buyer risk contexts: %w", err)
	}
	defer rows.Close()

	var out []risk.BuyerContext
	for rows.Next() {
		var c risk.BuyerContext
		if err := rows.Scan(&c.BuyerUUID, &c.TotalValueUSD, &c.WebsitePresent,
			&c.CurrentMonthCount, &c.MonthlyMean, &c.MonthlyStdDev,
			&c.PriorMonthCount, &c.HighVolume, &c.ObservedDomains); err != nil {
			return nil, fmt.Errorf("failed to scan buyer risk context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertOpinion archives the current (entity_type, entity_id, scope_key)
// row to risk_opinions_history, then writes the new engine_version row,
// doing in Go what spec.md §3 assigns to a DB trigger.
func (r *RiskStore) UpsertOpinion(ctx context.Context, opinion *model.RiskOpinion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin risk opinion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO risk_opinions_history (entity_type, entity_id, scope_key, engine_version, score, level, main_reason, reasons, confidence, computed_at, archived_at)
		SELECT entity_type, entity_id, scope_key, engine_version, score, level, main_reason, reasons, confidence, computed_at, now()
		FROM risk_opinions WHERE entity_type = $1 AND entity_id = $2 AND scope_key = $3
	`, opinion.EntityType, opinion.EntityID, opinion.ScopeKey); err != nil {
		return fmt.Errorf("failed to archive prior risk opinion: %w", err)
	}

	reasons, err := json.Marshal(opinion.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal risk reasons: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO risk_opinions (entity_type, entity_id, scope_key, engine_version, score, level, main_reason, reasons, confidence, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (entity_type, entity_id, scope_key) DO UPDATE SET
			engine_version = $4, score = $5, level = $6, main_reason = $7, reasons = $8, confidence = $9, computed_at = $10
	`, opinion.EntityType, opinion.EntityID, opinion.ScopeKey, opinion.EngineVersion,
		opinion.Score, opinion.Level, opinion.MainReason, reasons, opinion.Confidence, opinion.ComputedAt); err != nil {
		return fmt.Errorf("failed to upsert risk opinion: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit risk opinion update: %w", err)
	}
	return nil
}
