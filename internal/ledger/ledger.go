// Package ledger implements S4, the Ledger Loader: promotes standardized
// rows past a validity gate into the append-only, year-partitioned fact
// table, per spec.md §4.4.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

const (
	MinBatchSize = 1000
	MaxBatchSize = 5000
)

// Store is the S4 persistence seam.
type Store interface {
	// PendingStandardizedRows returns up to limit StandardizedRows not
	// yet present in the ledger, ordered by id.
	PendingStandardizedRows(ctx context.Context, limit int) ([]*model.StandardizedRow, error)
	// InsertFacts writes fact rows transactionally. The unique (std_id,
	// year) index is enforced by the store; a row already promoted comes
	// back as pipeline.ErrConstraintViolation and is treated as success.
	InsertFacts(ctx context.Context, facts []*model.LedgerFact) error
	// MarkInvalid records that a row failed the validity gate, so a
	// subsequent run does not keep re-selecting it (implementation detail
	// left to the store — e.g. a rejected_reason column).
	MarkInvalid(ctx context.Context, stdID int64, reason string) error
}

// Gate reports whether a standardized row passes the S4 validity gate:
// shipment_date, origin/destination country, hs_code_6 and year all
// present. Returns the failure reason when it doesn't.
func Gate(row *model.StandardizedRow) (ok bool, reason string) {
	switch {
	case row.ShipmentDate == nil:
		return false, "missing shipment_date"
	case row.OriginCountry == "":
		return false, "missing origin_country"
	case row.DestinationCountry == "":
		return false, "missing destination_country"
	case row.HSCode6 == "":
		return false, "missing hs_code_6"
	case row.Year == nil:
		return false, "missing year"
	default:
		return true, ""
	}
}

// ToFact builds the LedgerFact a StandardizedRow promotes to. TransactionID
// is freshly minted; the caller is expected to have already passed Gate.
func ToFact(row *model.StandardizedRow) *model.LedgerFact {
	month := 0
	if row.Month != nil {
		month = *row.Month
	}
	return &model.LedgerFact{
		TransactionID:      uuid.New().String(),
		Year:               *row.Year,
		StdID:              row.ID,
		BuyerUUID:          row.BuyerUUID,
		SupplierUUID:       row.SupplierUUID,
		HSCode6:            row.HSCode6,
		OriginCountry:      row.OriginCountry,
		DestinationCountry: row.DestinationCountry,
		ReportingCountry:   row.ReportingCountry,
		Direction:          row.Direction,
		ShipmentDate:       *row.ShipmentDate,
		Month:              month,
		QtyKg:              row.QtyKg,
		CustomsValueUSD:    row.CustomsValueUSD,
		PriceUSDPerKg:      row.PriceUSDPerKg,
		TEU:                row.TEU,
		VesselName:         row.VesselName,
		ContainerID:        row.ContainerID,
	}
}

// ProcessBatch drains one batch of pending standardized rows, applying the
// validity gate and promoting survivors to facts.
func ProcessBatch(
	ctx context.Context,
	log *obslog.Stage,
	run *pipeline.Run,
	store Store,
	batchSize int,
) (processedAny bool, err error) {
	if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	rows, err := store.PendingStandardizedRows(ctx, batchSize)
	if err != nil {
		return false, fmt.Errorf("failed to fetch pending standardized rows: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}

	facts := make([]*model.LedgerFact, 0, len(rows))
	for _, row := range rows {
		run.AddProcessed(1)
		ok, reason := Gate(row)
		if !ok {
			run.AddSkipped(1)
			run.MarkRowFailure()
			if err := store.MarkInvalid(ctx, row.ID, reason); err != nil {
				return false, fmt.Errorf("failed to mark row invalid: %w", err)
			}
			log.Warn().Int64("std_id", row.ID).Str("reason", reason).Msg("row rejected by validity gate")
			continue
		}
		facts = append(facts, ToFact(row))
	}

	if len(facts) > 0 {
		if err := store.InsertFacts(ctx, facts); err != nil {
			if errors.Is(err, pipeline.ErrConstraintViolation) {
				// Already promoted by a previous run: idempotent success.
			} else {
				return false, fmt.Errorf("failed to insert ledger facts: %w", err)
			}
		} else {
			run.AddCreated(int64(len(facts)))
		}
	}

	log.Info().Int("fetched", len(rows)).Int("promoted", len(facts)).Msg("ledger batch processed")
	return true, nil
}

// ProcessAll drains ProcessBatch until no pending rows remain.
func ProcessAll(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, batchSize int) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: ledger load", pipeline.ErrCancelled)
		default:
		}
		more, err := ProcessBatch(ctx, log, run, store, batchSize)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
