package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

// Options mirrors the tunables spec.md §4.1/§5 name.
type Options struct {
	ChunkSize    int
	FileTimeout  time.Duration
	SourceFormat model.SourceFormat
}

func DefaultOptions() Options {
	return Options{ChunkSize: 50000, FileTimeout: time.Hour, SourceFormat: model.FormatFull}
}

type Result struct {
	Status       model.FileStatus
	RowsInserted int
}

// Ingest implements spec.md §4.1's ingest(file) contract: compute the
// fingerprint before opening for data, short-circuit duplicates, then
// stream chunks through the bulk-load path. It never aborts the batch —
// callers loop Ingest over every scanned file and continue past failures.
func Ingest(
	ctx context.Context,
	log *obslog.Stage,
	registry Registry,
	writer RawRowWriter,
	openReader RowReaderFactory,
	checksum Checksummer,
	spec FileSpec,
	opts Options,
) (Result, error) {
	flog := log.WithFile(0)

	if spec.Synthetic {
		flog.Info().Str("file", spec.Name).Msg("skipping synthetic file")
		return Result{Status: model.FileStatusTest}, nil
	}

	digest, err := checksum(spec.Path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to checksum %s: %w", spec.Path, err)
	}

	if existing, ok, err := registry.FindByFingerprint(ctx, digest); err != nil {
		return Result{}, fmt.Errorf("failed to look up fingerprint: %w", err)
	} else if ok && existing.Status == model.FileStatusIngested {
		flog.Info().Str("fingerprint", digest).Msg("duplicate file, skipping")
		return Result{Status: model.FileStatusDuplicate}, nil
	}

	fileID, err := registry.Insert(ctx, &model.FileRegistry{
		Name:         spec.Name,
		Path:         spec.Path,
		Fingerprint:  digest,
		Country:      spec.Country,
		Direction:    spec.Direction,
		SourceFormat: opts.SourceFormat,
		Status:       model.FileStatusPending,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to register file: %w", err)
	}
	flog = log.WithFile(fileID)

	fctx, cancel := context.WithTimeout(ctx, opts.FileTimeout)
	defer cancel()

	reader, err := openReader(spec.Path)
	if err != nil {
		_ = registry.MarkFailed(ctx, fileID, err.Error())
		return Result{Status: model.FileStatusFailed}, fmt.Errorf("failed to open %s: %w", spec.Path, err)
	}
	defer reader.Close()

	total := 0
	for {
		select {
		case <-fctx.Done():
			_ = registry.MarkFailed(ctx, fileID, "cancelled or timed out")
			return Result{Status: model.FileStatusFailed, RowsInserted: total}, fmt.Errorf("%w: %s", pipeline.ErrCancelled, spec.Path)
		default:
		}

		chunk, err := reader.ReadChunk(fctx, opts.ChunkSize)
		if err != nil {
			chunkErr := &pipeline.ChunkError{FileID: fileID, ChunkStart: total, ChunkEnd: total + len(chunk), Err: err}
			_ = registry.MarkFailed(ctx, fileID, chunkErr.Error())
			flog.Error().Err(chunkErr).Msg("chunk parse failed, file rolled back")
			return Result{Status: model.FileStatusFailed, RowsInserted: total}, chunkErr
		}
		if len(chunk) == 0 {
			break
		}

		for i := range chunk {
			chunk[i].RawHSCode, chunk[i].RawBuyerName, chunk[i].RawSupplierName, chunk[i].RawDate = ExtractHints(chunk[i].Fields)
		}

		n, err := writer.InsertChunk(fctx, fileID, chunk)
		if err != nil {
			chunkErr := &pipeline.ChunkError{FileID: fileID, ChunkStart: total, ChunkEnd: total + len(chunk), Err: err}
			_ = registry.MarkFailed(ctx, fileID, chunkErr.Error())
			flog.Error().Err(chunkErr).Msg("chunk insert failed, file rolled back")
			return Result{Status: model.FileStatusFailed, RowsInserted: total}, chunkErr
		}
		total += n

		if len(chunk) < opts.ChunkSize {
			break
		}
	}

	if err := registry.MarkIngested(ctx, fileID, total); err != nil {
		return Result{Status: model.FileStatusFailed, RowsInserted: total}, fmt.Errorf("failed to mark ingested: %w", err)
	}

	flog.Info().Int("rows", total).Msg("file ingested")
	return Result{Status: model.FileStatusIngested, RowsInserted: total}, nil
}

// IngestAll runs Ingest over every spec, logging failures but never
// aborting the batch, per spec.md §4.1.
func IngestAll(
	ctx context.Context,
	log *obslog.Stage,
	run *pipeline.Run,
	registry Registry,
	writer RawRowWriter,
	openReader RowReaderFactory,
	checksum Checksummer,
	specs []FileSpec,
	opts Options,
) error {
	for _, spec := range specs {
		res, err := Ingest(ctx, log, registry, writer, openReader, checksum, spec, opts)
		run.AddProcessed(1)
		if err != nil {
			if errors.Is(err, pipeline.ErrCancelled) {
				return err
			}
			run.MarkRowFailure()
			continue
		}
		switch res.Status {
		case model.FileStatusIngested:
			run.AddCreated(int64(res.RowsInserted))
		case model.FileStatusDuplicate, model.FileStatusTest:
			run.AddSkipped(1)
		}
	}
	return nil
}
