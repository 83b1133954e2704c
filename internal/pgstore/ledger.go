package pgstore

import (
	"context"
	"fmt"

	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

// LedgerStore implements ledger.Store against standardized_rows /
// trade_ledger_facts.
type LedgerStore struct {
	pool *db.Pool
}

func NewLedgerStore(pool *db.Pool) *LedgerStore { return &LedgerStore{pool: pool} }

func (l *LedgerStore) PendingStandardizedRows(ctx context.Context, limit int) ([]*model.StandardizedRow, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT s.id, s.raw_id, s.file_id, s.buyer_name_raw, s.supplier_name_raw,
		       s.buyer_uuid, s.supplier_uuid, s.hs_code_6, s.origin_country,
		       s.destination_country, s.reporting_country, s.direction,
		       s.export_date, s.import_date, s.shipment_date, s.year, s.month,
		       s.qty_original, s.qty_unit, s.qty_kg, s.value_original,
		       s.value_currency, s.value_type, s.fob_value_usd, s.cif_value_usd,
		       s.customs_value_usd, s.price_usd_per_kg, s.teu, s.vessel_name,
		       s.container_id, s.port_of_loading, s.port_of_discharge,
		       s.hidden_buyer_flag, s.transaction_id
		FROM standardized_rows s
		LEFT JOIN trade_ledger_facts f ON f.std_id = s.id
		WHERE f.std_id IS NULL AND s.invalid_reason IS NULL
		ORDER BY s.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending standardized rows: %w", err)
	}
	defer rows.Close()

	var out []*model.StandardizedRow
	for rows.Next() {
		var r model.StandardizedRow
		if err := rows.Scan(&r.ID, &r.RawID, &r.FileID, &r.BuyerNameRaw, &r.SupplierNameRaw,
			&r.BuyerUUID, &r.SupplierUUID, &r.HSCode6, &r.OriginCountry,
			&r.DestinationCountry, &r.ReportingCountry, &r.Direction,
			&r.ExportDate, &r.ImportDate, &r.ShipmentDate, &r.Year, &r.Month,
			&r.QtyOriginal, &r.QtyUnit, &r.QtyKg, &r.ValueOriginal,
			&r.ValueCurrency, &r.ValueType, &r.FOBValueUSD, &r.CIFValueUSD,
			&r.CustomsValueUSD, &r.PriceUSDPerKg, &r.TEU, &r.VesselName,
			&r.ContainerID, &r.PortOfLoading, &r.PortOfDischarge,
			&r.HiddenBuyerFlag, &r.TransactionID); err != nil {
			return nil, fmt.Errorf("failed to scan standardized row: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (l *LedgerStore) InsertFacts(ctx context.Context, facts []*model.LedgerFact) error {
	if len(facts) == 0 {
		return nil
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin ledger insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, f := range facts {
		tag, err := tx.Exec(ctx, `
			INSERT INTO trade_ledger_facts (
				transaction_id, year, std_id, buyer_uuid, supplier_uuid,
				hs_code_6, origin_country, destination_country, reporting_country,
				direction, shipment_date, month, qty_kg, customs_value_usd,
				price_usd_per_kg, teu, vessel_name, container_id
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
			)
			ON CONFLICT (std_id, year) DO NOTHING
		`, f.TransactionID, f.Year, f.StdID, f.BuyerUUID, f.SupplierUUID,
			f.HSCode6, f.OriginCountry, f.DestinationCountry, f.ReportingCountry,
			f.Direction, f.ShipmentDate, f.Month, f.QtyKg, f.CustomsValueUSD,
			f.PriceUSDPerKg, f.TEU, f.VesselName, f.ContainerID)
		if err != nil {
			return fmt.Errorf("failed to insert ledger fact for std_id=%d: %w", f.StdID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("ledger fact already promoted for std_id=%d: %w", f.StdID, pipeline.ErrConstraintViolation)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger fact batch: %w", err)
	}
	return nil
}

func (l *LedgerStore) MarkInvalid(ctx context.Context, stdID int64, reason string) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE standardized_rows SET invalid_reason = $2 WHERE id = $1
	`, stdID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark standardized row invalid: %w", err)
	}
	return nil
}
