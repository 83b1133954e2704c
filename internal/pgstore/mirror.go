package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

// MirrorStore implements mirror.Store against trade_ledger_facts /
// mirror_matches.
type MirrorStore struct {
	pool *db.Pool
}

func NewMirrorStore(pool *db.Pool) *MirrorStore { return &MirrorStore{pool: pool} }

func (m *MirrorStore) HiddenBuyerExports(ctx context.Context, limit int) ([]*model.LedgerFact, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT f.transaction_id, f.year, f.std_id, f.buyer_uuid, f.supplier_uuid,
		       f.hs_code_6, f.origin_country, f.destination_country, f.reporting_country,
		       f.direction, f.shipment_date, f.month, f.qty_kg, f.customs_value_usd,
		       f.price_usd_per_kg, f.teu, f.vessel_name, f.container_id, f.mirror_matched_at
		FROM trade_ledger_facts f
		JOIN standardized_rows s ON s.id = f.std_id
		WHERE f.direction = 'EXPORT' AND s.hidden_buyer_flag AND f.buyer_uuid IS NULL AND f.mirror_matched_at IS NULL
		ORDER BY f.transaction_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hidden-buyer exports: %w", err)
	}
	defer rows.Close()
	return scanLedgerFacts(rows)
}

func (m *MirrorStore) CandidateImports(ctx context.Context, e *model.LedgerFact) ([]*model.LedgerFact, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT transaction_id, year, std_id, buyer_uuid, supplier_uuid,
		       hs_code_6, origin_country, destination_country, reporting_country,
		       direction, shipment_date, month, qty_kg, customs_value_usd,
		       price_usd_per_kg, teu, vessel_name, container_id, mirror_matched_at
		FROM trade_ledger_facts
		WHERE direction = 'IMPORT'
		  AND reporting_country = $1
		  AND origin_country = $2
		  AND hs_code_6 = $3
		  AND buyer_uuid IS NOT NULL
	`, e.DestinationCountry, e.OriginCountry, e.HSCode6)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate imports: %w", err)
	}
	defer rows.Close()
	return scanLedgerFacts(rows)
}

func scanLedgerFacts(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*model.LedgerFact, error) {
	var out []*model.LedgerFact
	for rows.Next() {
		var f model.LedgerFact
		if err := rows.Scan(&f.TransactionID, &f.Year, &f.StdID, &f.BuyerUUID, &f.SupplierUUID,
			&f.HSCode6, &f.OriginCountry, &f.DestinationCountry, &f.ReportingCountry,
			&f.Direction, &f.ShipmentDate, &f.Month, &f.QtyKg, &f.CustomsValueUSD,
			&f.PriceUSDPerKg, &f.TEU, &f.VesselName, &f.ContainerID, &f.MirrorMatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger fact: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (m *MirrorStore) RecordMatch(ctx context.Context, match *model.MirrorMatch, exportTxnID string, buyerUUID uuid.UUID) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin mirror match transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	breakdown, err := json.Marshal(match.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal match breakdown: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO mirror_matches (export_transaction_id, import_transaction_id, score, breakdown, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (export_transaction_id) DO NOTHING
	`, match.ExportTransactionID, match.ImportTransactionID, match.Score, breakdown)
	if err != nil {
		return fmt.Errorf("failed to insert mirror match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("export already mirror-matched: %w", pipeline.ErrConstraintViolation)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE trade_ledger_facts SET buyer_uuid = $2, mirror_matched_at = now() WHERE transaction_id = $1
	`, exportTxnID, buyerUUID); err != nil {
		return fmt.Errorf("failed to update export fact after mirror match: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit mirror match: %w", err)
	}
	return nil
}

// RecordSkip stamps mirror_matched_at so a skipped export isn't re-fetched
// by HiddenBuyerExports every run; mirror_skip_reason distinguishes a skip
// from an actual match for reporting.
func (m *MirrorStore) RecordSkip(ctx context.Context, exportTxnID string, reason string) error {
	_, err := m.pool.Exec(ctx, `
		UPDATE trade_ledger_facts SET mirror_matched_at = now(), mirror_skip_reason = $2 WHERE transaction_id = $1
	`, exportTxnID, reason)
	if err != nil {
		return fmt.Errorf("failed to record mirror skip: %w", err)
	}
	return nil
}
