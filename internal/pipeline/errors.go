// Package pipeline holds the cross-cutting pieces every stage shares: the
// error taxonomy (spec.md §7) and the Pipeline-Runs Tracker (spec.md §4.8).
package pipeline

import (
	"errors"
	"fmt"
)

// The error taxonomy from spec.md §7. Stage code wraps these with
// fmt.Errorf("...: %w", ErrX) to preserve the sentinel under errors.Is
// while still attaching context.
var (
	ErrConfigMissing       = errors.New("config missing for mapping triple")
	ErrParseRow            = errors.New("row failed to parse per mapping")
	ErrConstraintViolation = errors.New("constraint violation (treated as idempotent success)")
	ErrTransientDB         = errors.New("transient database error")
	ErrAmbiguousMatch      = errors.New("ambiguous match, no write performed")
	ErrCancelled           = errors.New("stage run cancelled")
	ErrAssertionFailed     = errors.New("internal invariant violated")
)

// ChunkError reports the chunk boundary where a row-level parse failure
// aborted the file, per spec.md §4.1's failure semantics.
type ChunkError struct {
	FileID     int64
	ChunkStart int
	ChunkEnd   int
	Err        error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk [%d,%d) of file %d: %v", e.ChunkStart, e.ChunkEnd, e.FileID, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
