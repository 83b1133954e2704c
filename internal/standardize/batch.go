package standardize

import (
	"context"
	"errors"
	"fmt"

	"github.com/obsrvr/tradeledger/internal/fx"
	"github.com/obsrvr/tradeledger/internal/mapping"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

// Group identifies one (country, direction, source_format) unit of work.
type Group struct {
	Country      string
	Direction    model.Direction
	SourceFormat model.SourceFormat
}

// Store is the S2 persistence seam: fetch unstandardized raw rows for a
// group and bulk-insert the resulting StandardizedRows, skipping rows
// that already have a standardized counterpart (idempotency).
type Store interface {
	// PendingRawRows returns up to limit RawRows in group lacking a
	// StandardizedRow, ordered by row number within file.
	PendingRawRows(ctx context.Context, group Group, limit int) ([]*model.RawRow, error)
	// InsertBatch writes rows transactionally, all-or-nothing.
	InsertBatch(ctx context.Context, rows []*model.StandardizedRow) error
}

const (
	MinBatchSize = 1000
	MaxBatchSize = 5000
)

// ProcessGroup drains PendingRawRows for group in vectorized blocks,
// standardizing each block and inserting it transactionally. Idempotency
// is enforced by Store.PendingRawRows only ever returning rows without a
// StandardizedRow yet.
func ProcessGroup(
	ctx context.Context,
	log *obslog.Stage,
	run *pipeline.Run,
	store Store,
	registry *mapping.Registry,
	rates *fx.Table,
	group Group,
	batchSize int,
) error {
	if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	spec, err := registry.Lookup(group.Country, group.Direction, group.SourceFormat)
	if err != nil {
		log.Error().Err(err).Str("country", group.Country).Msg("no mapping config for group")
		run.MarkRowFailure()
		return nil // ConfigMissing does not fail the stage, spec.md §7
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: group %+v", pipeline.ErrCancelled, group)
		default:
		}

		raws, err := store.PendingRawRows(ctx, group, batchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch pending raw rows: %w", err)
		}
		if len(raws) == 0 {
			return nil
		}

		out := make([]*model.StandardizedRow, 0, len(raws))
		for _, raw := range raws {
			std, err := Row(raw, spec, rates)
			run.AddProcessed(1)
			if err != nil {
				log.Warn().Err(err).Int64("raw_id", raw.ID).Msg("row rejected by mapping")
				run.MarkRowFailure()
				continue
			}
			out = append(out, std)
		}

		if err := store.InsertBatch(ctx, out); err != nil {
			if errors.Is(err, pipeline.ErrConstraintViolation) {
				// Already standardized by a concurrent/previous run:
				// idempotent success, nothing more to do this block.
				continue
			}
			return fmt.Errorf("failed to insert standardized batch: %w", err)
		}
		run.AddCreated(int64(len(out)))

		if len(raws) < batchSize {
			return nil
		}
	}
}
