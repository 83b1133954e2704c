package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/standardize"
)

// StandardizeStore implements standardize.Store against raw_rows /
// standardized_rows.
type StandardizeStore struct {
	pool *db.Pool
}

func NewStandardizeStore(pool *db.Pool) *StandardizeStore { return &StandardizeStore{pool: pool} }

func (s *StandardizeStore) PendingRawRows(ctx context.Context, group standardize.Group, limit int) ([]*model.RawRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.file_id, r.row_number, r.fields, r.raw_hs_code, r.raw_buyer_name, r.raw_supplier_name, r.raw_date
		FROM raw_rows r
		JOIN file_registry f ON f.id = r.file_id
		LEFT JOIN standardized_rows s ON s.raw_id = r.id
		WHERE f.country = $1 AND f.direction = $2 AND f.source_format = $3 AND s.id IS NULL
		ORDER BY r.file_id, r.row_number
		LIMIT $4
	`, group.Country, group.Direction, group.SourceFormat, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending raw rows: %w", err)
	}
	defer rows.Close()

	var out []*model.RawRow
	for rows.Next() {
		var r model.RawRow
		var rawFields map[string]string
		if err := rows.Scan(&r.ID, &r.FileID, &r.RowNumber, &rawFields, &r.RawHSCode, &r.RawBuyerName, &r.RawSupplierName, &r.RawDate); err != nil {
			return nil, fmt.Errorf("failed to scan raw row: %w", err)
		}
		r.Fields = model.BagFromStrings(rawFields)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *StandardizeStore) InsertBatch(ctx context.Context, batch []*model.StandardizedRow) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin standardize insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range batch {
		_, err := tx.Exec(ctx, `
			INSERT INTO standardized_rows (
				raw_id, file_id, buyer_name_raw, supplier_name_raw, hs_code_6,
				origin_country, destination_country, reporting_country, direction,
				export_date, import_date, shipment_date, year, month,
				qty_original, qty_unit, qty_kg, value_original, value_currency, value_type,
				fob_value_usd, cif_value_usd, customs_value_usd, price_usd_per_kg,
				teu, vessel_name, container_id, port_of_loading, port_of_discharge,
				hidden_buyer_flag, transaction_id
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
				$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31
			)
			ON CONFLICT (raw_id) DO NOTHING
		`, r.RawID, r.FileID, r.BuyerNameRaw, r.SupplierNameRaw, r.HSCode6,
			r.OriginCountry, r.DestinationCountry, r.ReportingCountry, r.Direction,
			r.ExportDate, r.ImportDate, r.ShipmentDate, r.Year, r.Month,
			r.QtyOriginal, r.QtyUnit, r.QtyKg, r.ValueOriginal, r.ValueCurrency, r.ValueType,
			r.FOBValueUSD, r.CIFValueUSD, r.CustomsValueUSD, r.PriceUSDPerKg,
			r.TEU, r.VesselName, r.ContainerID, r.PortOfLoading, r.PortOfDischarge,
			r.HiddenBuyerFlag, r.TransactionID)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return fmt.Errorf("failed to insert standardized row for raw_id=%d: %w", r.RawID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit standardize batch: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), spec.md §7's ConstraintViolation case.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
