package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// csvRowReader is the one concrete RowReader this module ships: plain CSV
// with a header row. Spreadsheet/multi-format sniffing is explicitly out
// of scope (spec.md §1) — production deployments plug in their own
// RowReaderFactory for XLSX/EDI/fixed-width sources; this one exists so
// `tradeledger ingest` has something runnable against a CSV-only tree.
type csvRowReader struct {
	f      *os.File
	r      *csv.Reader
	header []string
	rowNum int
}

// OpenCSVReader is a RowReaderFactory for header'd CSV files.
func OpenCSVReader(path string) (RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read csv header from %s: %w", path, err)
	}
	return &csvRowReader{f: f, r: r, header: header}, nil
}

func (c *csvRowReader) ReadChunk(ctx context.Context, n int) ([]RawRowInput, error) {
	rows := make([]RawRowInput, 0, n)
	for len(rows) < n {
		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		default:
		}

		record, err := c.r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("failed to read csv row %d: %w", c.rowNum+1, err)
		}

		c.rowNum++
		fields := make(map[string]string, len(c.header))
		for i, col := range c.header {
			if i < len(record) {
				fields[col] = record[i]
			}
		}
		rows = append(rows, RawRowInput{RowNumber: c.rowNum, Fields: fields})
	}
	return rows, nil
}

func (c *csvRowReader) Close() error { return c.f.Close() }
