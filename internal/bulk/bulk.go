// Package bulk implements the fastest-available bulk-insert path S1
// Ingestor needs (spec.md §4.1: "push each chunk through a bulk-load
// protocol that bypasses per-row parsing overhead"). Grounded on
// contract-data-processor/consumer/postgresql/consumer.go's insertBatch,
// which uses database/sql plus lib/pq's COPY protocol side by side with
// pgx elsewhere in the codebase — the same two-driver split the source
// corpus uses.
package bulk

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Loader opens its own database/sql handle dedicated to COPY, since the
// lib/pq COPY protocol is not compatible with pgx's wire implementation.
type Loader struct {
	db *sql.DB
}

func NewLoader(connString string) (*Loader, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open copy connection: %w", err)
	}
	return &Loader{db: db}, nil
}

func (l *Loader) Close() error { return l.db.Close() }

// CopyRows streams rows into table via COPY inside a single transaction —
// all rows of a chunk commit together, or none do, matching spec.md's
// "any row-level parse error inside a chunk fails the whole chunk".
func (l *Loader) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (err error) {
	if len(rows) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin copy transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to stage copy row: %w", err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to flush copy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy transaction: %w", err)
	}
	return nil
}
