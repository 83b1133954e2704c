package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/obsrvr/tradeledger/internal/bulk"
	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/ingest"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/pipeline"
	"github.com/obsrvr/tradeledger/internal/retry"
)

// FileRegistry implements ingest.Registry against file_registry.
type FileRegistry struct {
	pool *db.Pool
}

func NewFileRegistry(pool *db.Pool) *FileRegistry { return &FileRegistry{pool: pool} }

func (r *FileRegistry) FindByFingerprint(ctx context.Context, fingerprint string) (*model.FileRegistry, bool, error) {
	var f model.FileRegistry
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, path, fingerprint, country, direction, source_format, row_count, status
		FROM file_registry WHERE fingerprint = $1
	`, fingerprint).Scan(&f.ID, &f.Name, &f.Path, &f.Fingerprint, &f.Country, &f.Direction, &f.SourceFormat, &f.RowCount, &f.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up file by fingerprint: %w", err)
	}
	return &f, true, nil
}

func (r *FileRegistry) Insert(ctx context.Context, f *model.FileRegistry) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO file_registry (name, path, fingerprint, country, direction, source_format, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id
	`, f.Name, f.Path, f.Fingerprint, f.Country, f.Direction, f.SourceFormat, f.Status).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("file registry insert: %w", pipeline.ErrConstraintViolation)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert file registry row: %w", err)
	}
	return id, nil
}

func (r *FileRegistry) MarkIngested(ctx context.Context, fileID int64, rowCount int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE file_registry
		SET status = $2, row_count = $3, ingestion_completed_at = now()
		WHERE id = $1
	`, fileID, model.FileStatusIngested, rowCount)
	if err != nil {
		return fmt.Errorf("failed to mark file ingested: %w", err)
	}
	return nil
}

func (r *FileRegistry) MarkFailed(ctx context.Context, fileID int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE file_registry SET status = $2, error_message = $3 WHERE id = $1
	`, fileID, model.FileStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark file failed: %w", err)
	}
	return nil
}

// RawRowWriter implements ingest.RawRowWriter using the lib/pq COPY
// loader, the "fastest available bulk-insert path" spec.md §4.1 names.
type RawRowWriter struct {
	loader *bulk.Loader
}

func NewRawRowWriter(loader *bulk.Loader) *RawRowWriter { return &RawRowWriter{loader: loader} }

var rawRowColumns = []string{"file_id", "row_number", "fields", "raw_hs_code", "raw_buyer_name", "raw_supplier_name", "raw_date"}

func (w *RawRowWriter) InsertChunk(ctx context.Context, fileID int64, rows []ingest.RawRowInput) (int, error) {
	copyRows := make([][]any, 0, len(rows))
	for _, r := range rows {
		fieldsJSON, err := json.Marshal(r.Fields)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to marshal row fields: %v", pipeline.ErrParseRow, err)
		}
		copyRows = append(copyRows, []any{fileID, r.RowNumber, fieldsJSON, r.RawHSCode, r.RawBuyerName, r.RawSupplierName, r.RawDate})
	}
	// CopyRows is all-or-nothing per chunk (bulk.Loader wraps it in a single
	// transaction), so retrying the whole chunk on failure is safe — the
	// chunk-granularity TransientDBError retry spec.md §7 describes.
	err := retry.Do(ctx, retry.DefaultPolicy(), func() error {
		if err := w.loader.CopyRows(ctx, "raw_rows", rawRowColumns, copyRows); err != nil {
			return retry.MarkRetryable(err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to bulk-insert raw row chunk: %w", err)
	}
	return len(copyRows), nil
}
