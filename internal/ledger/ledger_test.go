package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"

	"github.com/google/uuid"
)

type fakeLedgerStore struct {
	pending  []*model.StandardizedRow
	facts    []*model.LedgerFact
	invalid  map[int64]string
	seenKeys map[string]bool // (std_id, year) already promoted
}

func newFakeLedgerStore(rows []*model.StandardizedRow) *fakeLedgerStore {
	return &fakeLedgerStore{pending: rows, invalid: map[int64]string{}, seenKeys: map[string]bool{}}
}

func (f *fakeLedgerStore) PendingStandardizedRows(ctx context.Context, limit int) ([]*model.StandardizedRow, error) {
	batch := f.pending
	f.pending = nil
	return batch, nil
}

func (f *fakeLedgerStore) InsertFacts(ctx context.Context, facts []*model.LedgerFact) error {
	for _, fact := range facts {
		dedupeKey := fmt.Sprintf("%d:%d", fact.StdID, fact.Year)
		if f.seenKeys[dedupeKey] {
			return pipeline.ErrConstraintViolation
		}
		f.seenKeys[dedupeKey] = true
		f.facts = append(f.facts, fact)
	}
	return nil
}

func (f *fakeLedgerStore) MarkInvalid(ctx context.Context, stdID int64, reason string) error {
	f.invalid[stdID] = reason
	return nil
}

func newTestRun(t *testing.T) *pipeline.Run {
	t.Helper()
	run, err := pipeline.Start(context.Background(), fakeRunStore{}, "ledger", nil)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	return run
}

type fakeRunStore struct{}

func (fakeRunStore) StartRun(ctx context.Context, run *model.PipelineRun) error  { return nil }
func (fakeRunStore) FinishRun(ctx context.Context, run *model.PipelineRun) error { return nil }
func (fakeRunStore) RunningCount(ctx context.Context, stage string) (int, error) { return 0, nil }

func validRow(id int64, shipDate time.Time) *model.StandardizedRow {
	year := shipDate.Year()
	month := int(shipDate.Month())
	return &model.StandardizedRow{
		ID:                 id,
		HSCode6:            "690721",
		OriginCountry:      "KENYA",
		DestinationCountry: "UAE",
		ShipmentDate:       &shipDate,
		Year:               &year,
		Month:              &month,
	}
}

func TestGateRejectsMissingFields(t *testing.T) {
	shipDate := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	base := validRow(1, shipDate)

	cases := []struct {
		name   string
		mutate func(*model.StandardizedRow)
	}{
		{"missing shipment_date", func(r *model.StandardizedRow) { r.ShipmentDate = nil }},
		{"missing origin", func(r *model.StandardizedRow) { r.OriginCountry = "" }},
		{"missing destination", func(r *model.StandardizedRow) { r.DestinationCountry = "" }},
		{"missing hs6", func(r *model.StandardizedRow) { r.HSCode6 = "" }},
		{"missing year", func(r *model.StandardizedRow) { r.Year = nil }},
	}
	for _, c := range cases {
		row := *base
		c.mutate(&row)
		if ok, _ := Gate(&row); ok {
			t.Errorf("%s: expected gate rejection", c.name)
		}
	}
	if ok, _ := Gate(base); !ok {
		t.Fatalf("expected valid row to pass gate")
	}
}

// TestPartitionRouting covers spec scenario (f): a fact with
// shipment_date 2026-02-14 routes to the year=2026 partition (i.e. its
// LedgerFact.Year equals the shipment date's year).
func TestPartitionRouting(t *testing.T) {
	shipDate := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	row := validRow(42, shipDate)

	store := newFakeLedgerStore([]*model.StandardizedRow{row})
	log := obslog.NewStage("ledger", uuid.New())
	run := newTestRun(t)

	if _, err := ProcessBatch(context.Background(), log, run, store, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.facts) != 1 {
		t.Fatalf("expected one fact inserted, got %d", len(store.facts))
	}
	if store.facts[0].Year != 2026 {
		t.Fatalf("expected year=2026 partition routing, got %d", store.facts[0].Year)
	}
}

func TestProcessBatchSkipsInvalidRows(t *testing.T) {
	shipDate := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	good := validRow(1, shipDate)
	bad := validRow(2, shipDate)
	bad.HSCode6 = ""

	store := newFakeLedgerStore([]*model.StandardizedRow{good, bad})
	log := obslog.NewStage("ledger", uuid.New())
	run := newTestRun(t)

	if _, err := ProcessBatch(context.Background(), log, run, store, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.facts) != 1 {
		t.Fatalf("expected one fact promoted, got %d", len(store.facts))
	}
	if _, ok := store.invalid[2]; !ok {
		t.Fatalf("expected row 2 marked invalid")
	}
}

func TestProcessBatchIdempotentOnConstraintViolation(t *testing.T) {
	shipDate := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	row := validRow(7, shipDate)

	store := newFakeLedgerStore([]*model.StandardizedRow{row})
	store.seenKeys[fmt.Sprintf("%d:%d", row.ID, *row.Year)] = true

	log := obslog.NewStage("ledger", uuid.New())
	run := newTestRun(t)

	if _, err := ProcessBatch(context.Background(), log, run, store, 100); err != nil {
		t.Fatalf("expected constraint violation to be treated as idempotent success, got %v", err)
	}
	if len(store.facts) != 0 {
		t.Fatalf("expected no new facts on conflict, got %d", len(store.facts))
	}
}

func TestProcessAllDrainsUntilEmpty(t *testing.T) {
	shipDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeLedgerStore([]*model.StandardizedRow{validRow(1, shipDate), validRow(2, shipDate)})
	log := obslog.NewStage("ledger", uuid.New())
	run := newTestRun(t)

	if err := ProcessAll(context.Background(), log, run, store, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.facts) != 2 {
		t.Fatalf("expected both rows promoted, got %d", len(store.facts))
	}
}
