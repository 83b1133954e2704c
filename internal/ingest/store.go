package ingest

import (
	"context"

	"github.com/obsrvr/tradeledger/internal/model"
)

// RawRowInput is one row already tokenized into field->value pairs by the
// (out-of-scope) file-format layer, plus its 1-based position in the file.
type RawRowInput struct {
	RowNumber int
	Fields    map[string]string

	// Hints are populated by ExtractHints before the row reaches the
	// writer; the RowReader leaves them zero.
	RawHSCode       string
	RawBuyerName    string
	RawSupplierName string
	RawDate         string
}

// RowReader streams a file's rows in chunks. ReadChunk returns fewer than n
// rows (possibly zero) exactly at EOF; any other short read is an error.
type RowReader interface {
	ReadChunk(ctx context.Context, n int) ([]RawRowInput, error)
	Close() error
}

// RowReaderFactory opens a RowReader for a file. Swappable so format
// sniffing stays a caller concern.
type RowReaderFactory func(path string) (RowReader, error)

// Checksummer computes a file's content fingerprint.
type Checksummer func(path string) (string, error)

// Registry is the FileRegistry store. It has no lease or claim operation:
// Ingest looks a fingerprint up with FindByFingerprint and then calls
// Insert, and nothing here stops two workers from doing so for the same
// fingerprint at once.
type Registry interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*model.FileRegistry, bool, error)
	Insert(ctx context.Context, f *model.FileRegistry) (int64, error)
	MarkIngested(ctx context.Context, fileID int64, rowCount int) error
	MarkFailed(ctx context.Context, fileID int64, reason string) error
}

// RawRowWriter bulk-persists a chunk of RawRow, all-or-nothing.
type RawRowWriter interface {
	// InsertChunk writes rows for fileID in one transaction and returns
	// the number of rows written. On any row-level error it returns that
	// error and commits nothing (spec.md §4.1's chunk-abort semantics).
	InsertChunk(ctx context.Context, fileID int64, rows []RawRowInput) (int, error)
}

// ExtractHints derives the eager HS/buyer/supplier/date hints spec.md §3
// names, from a closed set of common source column name variants. Real
// mapping-aware extraction happens later in S2; S1 only needs a cheap,
// best-effort hint for operators browsing raw data.
func ExtractHints(fields map[string]string) (hsCode, buyer, supplier, date string) {
	hsCode = firstNonEmpty(fields, "hs_code", "hscode", "hs_code_raw", "tariff_code", "commodity_code")
	buyer = firstNonEmpty(fields, "buyer", "buyer_name", "consignee", "importer", "importer_name")
	supplier = firstNonEmpty(fields, "supplier", "supplier_name", "shipper", "exporter", "exporter_name")
	date = firstNonEmpty(fields, "shipment_date", "export_date", "import_date", "date")
	return
}

func firstNonEmpty(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

