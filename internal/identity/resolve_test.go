package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

type fakeOrg struct {
	id       uuid.UUID
	tuple    Tuple
	typ      model.OrgType
	variants []string
}

type fakeOrgStore struct {
	orgs []*fakeOrg
}

func (f *fakeOrgStore) ExactMatch(ctx context.Context, tuples []Tuple) (map[Tuple]uuid.UUID, error) {
	out := map[Tuple]uuid.UUID{}
	for _, t := range tuples {
		for _, o := range f.orgs {
			if o.tuple == t {
				out[t] = o.id
				break
			}
		}
	}
	return out, nil
}

func (f *fakeOrgStore) FuzzyCandidates(ctx context.Context, country, name string, threshold float64) ([]FuzzyHit, error) {
	var hits []FuzzyHit
	for _, o := range f.orgs {
		if o.tuple.Country != country {
			continue
		}
		sim := TrigramSimilarity(o.tuple.NormalizedName, name)
		if sim >= threshold {
			hits = append(hits, FuzzyHit{UUID: o.id, Similarity: sim})
		}
	}
	return hits, nil
}

func (f *fakeOrgStore) InsertOrGet(ctx context.Context, tuple Tuple, role Role, rawName string) (uuid.UUID, bool, error) {
	for _, o := range f.orgs {
		if o.tuple == tuple {
			return o.id, false, nil
		}
	}
	o := &fakeOrg{id: uuid.New(), tuple: tuple, typ: role, variants: []string{rawName}}
	f.orgs = append(f.orgs, o)
	return o.id, true, nil
}

func (f *fakeOrgStore) PromoteToMixed(ctx context.Context, id uuid.UUID) error {
	for _, o := range f.orgs {
		if o.id == id {
			o.typ = model.OrgMixed
			return nil
		}
	}
	return nil
}

func (f *fakeOrgStore) AppendVariant(ctx context.Context, id uuid.UUID, rawName string) error {
	for _, o := range f.orgs {
		if o.id == id {
			for _, v := range o.variants {
				if v == rawName {
					return nil
				}
			}
			o.variants = append(o.variants, rawName)
			return nil
		}
	}
	return nil
}

func (f *fakeOrgStore) TypeOf(ctx context.Context, id uuid.UUID) (Role, error) {
	for _, o := range f.orgs {
		if o.id == id {
			return o.typ, nil
		}
	}
	return "", nil
}

func (f *fakeOrgStore) byTuple(t Tuple) *fakeOrg {
	for _, o := range f.orgs {
		if o.tuple == t {
			return o
		}
	}
	return nil
}

// fakeStdRowStore models the live table the real StdRowStore queries: a
// standing set of candidate rows that PendingCandidates re-filters on every
// call (writeback or a rejection marker removes a row permanently), rather
// than a one-shot queue. This is what makes the all-unnormalizable-batch
// regression test meaningful: a buggy PendingCandidates that doesn't honor
// the rejection marker would keep returning the same rows forever.
type fakeStdRowStore struct {
	all               []Candidate
	buyerWrites       map[int64]uuid.UUID
	supplierWrites    map[int64]uuid.UUID
	rejectedBuyers    map[int64]bool
	rejectedSuppliers map[int64]bool
}

func newFakeStdRowStore(candidates []Candidate) *fakeStdRowStore {
	return &fakeStdRowStore{
		all:               candidates,
		buyerWrites:       map[int64]uuid.UUID{},
		supplierWrites:    map[int64]uuid.UUID{},
		rejectedBuyers:    map[int64]bool{},
		rejectedSuppliers: map[int64]bool{},
	}
}

// PendingCandidates mirrors the real query: a row drops out once it has a
// uuid written back on its role, or once its role's rejection marker is set.
func (f *fakeStdRowStore) PendingCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	var out []Candidate
	for _, c := range f.all {
		switch c.Role {
		case model.OrgBuyer:
			if f.rejectedBuyers[c.StdID] {
				continue
			}
			if _, done := f.buyerWrites[c.StdID]; done {
				continue
			}
		case model.OrgSupplier:
			if f.rejectedSuppliers[c.StdID] {
				continue
			}
			if _, done := f.supplierWrites[c.StdID]; done {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStdRowStore) MarkBuyerUnresolvable(ctx context.Context, stdIDs []int64) error {
	for _, id := range stdIDs {
		f.rejectedBuyers[id] = true
	}
	return nil
}

func (f *fakeStdRowStore) MarkSupplierUnresolvable(ctx context.Context, stdIDs []int64) error {
	for _, id := range stdIDs {
		f.rejectedSuppliers[id] = true
	}
	return nil
}

func (f *fakeStdRowStore) WriteBackBuyer(ctx context.Context, stdIDs []int64, buyerUUID uuid.UUID) error {
	for _, id := range stdIDs {
		f.buyerWrites[id] = buyerUUID
	}
	return nil
}

func (f *fakeStdRowStore) WriteBackSupplier(ctx context.Context, stdIDs []int64, supplierUUID uuid.UUID) error {
	for _, id := range stdIDs {
		f.supplierWrites[id] = supplierUUID
	}
	return nil
}

func newTestRun(t *testing.T) *pipeline.Run {
	t.Helper()
	store := &fakeRunStore{}
	run, err := pipeline.Start(context.Background(), store, "identity", nil)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	return run
}

type fakeRunStore struct{}

func (fakeRunStore) StartRun(ctx context.Context, run *model.PipelineRun) error  { return nil }
func (fakeRunStore) FinishRun(ctx context.Context, run *model.PipelineRun) error { return nil }
func (fakeRunStore) RunningCount(ctx context.Context, stage string) (int, error) { return 0, nil }

func TestResolveBatchExactMatchWritesBack(t *testing.T) {
	orgs := &fakeOrgStore{}
	existing := Tuple{NormalizedName: "ACME", Country: "KE"}
	orgs.orgs = append(orgs.orgs, &fakeOrg{id: uuid.New(), tuple: existing, typ: model.OrgBuyer})

	rows := newFakeStdRowStore([]Candidate{
		{StdID: 1, Role: model.OrgBuyer, RawName: "Acme", Country: "KE"},
	})
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	more, err := ResolveBatch(context.Background(), log, run, orgs, rows, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !more {
		t.Fatalf("expected processedAny=true")
	}
	if got := rows.buyerWrites[1]; got != orgs.orgs[0].id {
		t.Fatalf("expected writeback to existing org id %v, got %v", orgs.orgs[0].id, got)
	}
}

func TestResolveBatchInsertsNewOrganization(t *testing.T) {
	orgs := &fakeOrgStore{}
	rows := newFakeStdRowStore([]Candidate{
		{StdID: 1, Role: model.OrgSupplier, RawName: "Globex Corp", Country: "US"},
	})
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	if _, err := ResolveBatch(context.Background(), log, run, orgs, rows, 0, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs.orgs) != 1 {
		t.Fatalf("expected one org inserted, got %d", len(orgs.orgs))
	}
	if orgs.orgs[0].tuple.NormalizedName != "GLOBEX" {
		t.Fatalf("expected suffix-stripped name GLOBEX, got %q", orgs.orgs[0].tuple.NormalizedName)
	}
	if id, ok := rows.supplierWrites[1]; !ok || id != orgs.orgs[0].id {
		t.Fatalf("expected supplier writeback to new org")
	}
}

// TestResolveBatchPromotesToMixed covers the org-type-promotion scenario:
// "ACME" is seen as a BUYER in KE, then "ACME LIMITED" arrives as a
// SUPPLIER in the same country — the org must be promoted to MIXED and
// gain a new raw-name variant, never demoted or split.
func TestResolveBatchPromotesToMixed(t *testing.T) {
	orgs := &fakeOrgStore{}
	rows := newFakeStdRowStore([]Candidate{
		{StdID: 1, Role: model.OrgBuyer, RawName: "ACME", Country: "KE"},
	})
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	if _, err := ResolveBatch(context.Background(), log, run, orgs, rows, 0, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs.orgs) != 1 || orgs.orgs[0].typ != model.OrgBuyer {
		t.Fatalf("expected one BUYER org after first batch")
	}
	orgID := orgs.orgs[0].id

	rows2 := newFakeStdRowStore([]Candidate{
		{StdID: 2, Role: model.OrgSupplier, RawName: "ACME LIMITED", Country: "KE"},
	})
	if _, err := ResolveBatch(context.Background(), log, run, orgs, rows2, 0, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(orgs.orgs) != 1 {
		t.Fatalf("expected the SAME org reused (suffix-stripped name still ACME), got %d orgs", len(orgs.orgs))
	}
	if orgs.orgs[0].typ != model.OrgMixed {
		t.Fatalf("expected org promoted to MIXED, got %v", orgs.orgs[0].typ)
	}
	if id, ok := rows2.supplierWrites[2]; !ok || id != orgID {
		t.Fatalf("expected supplier writeback to the same promoted org")
	}

	found := false
	for _, v := range orgs.orgs[0].variants {
		if v == "ACME LIMITED" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected raw_name_variants to include %q, got %v", "ACME LIMITED", orgs.orgs[0].variants)
	}
}

func TestResolveBatchNeverDemotesMixed(t *testing.T) {
	orgs := &fakeOrgStore{}
	tuple := Tuple{NormalizedName: "ZETA", Country: "NG"}
	orgs.orgs = append(orgs.orgs, &fakeOrg{id: uuid.New(), tuple: tuple, typ: model.OrgMixed})

	rows := newFakeStdRowStore([]Candidate{
		{StdID: 1, Role: model.OrgBuyer, RawName: "Zeta", Country: "NG"},
	})
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	if _, err := ResolveBatch(context.Background(), log, run, orgs, rows, 0, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgs.orgs[0].typ != model.OrgMixed {
		t.Fatalf("expected MIXED org to stay MIXED, got %v", orgs.orgs[0].typ)
	}
}

func TestResolveBatchSameNormalizedNameReusesOrg(t *testing.T) {
	orgs := &fakeOrgStore{}
	existing := Tuple{NormalizedName: "GLOBAL TRADING COMPANY", Country: "AE"}
	orgs.orgs = append(orgs.orgs, &fakeOrg{id: uuid.New(), tuple: existing, typ: model.OrgBuyer})

	rows := newFakeStdRowStore([]Candidate{
		{StdID: 1, Role: model.OrgBuyer, RawName: "Global Trading Company", Country: "AE"},
	})
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	if _, err := ResolveBatch(context.Background(), log, run, orgs, rows, 0.8, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs.orgs) != 1 {
		t.Fatalf("expected exact match (same normalized name) to reuse the one org, got %d", len(orgs.orgs))
	}
}

func TestResolveBatchEmptyReturnsNoMore(t *testing.T) {
	orgs := &fakeOrgStore{}
	rows := newFakeStdRowStore(nil)
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	more, err := ResolveBatch(context.Background(), log, run, orgs, rows, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if more {
		t.Fatalf("expected no more candidates")
	}
}

// TestResolveBatchAllUnnormalizableMarksRejected covers a batch whose raw
// names all collapse to empty under NormalizeName: every candidate must be
// stamped unresolvable via MarkBuyerUnresolvable/MarkSupplierUnresolvable so
// it never comes back from PendingCandidates, rather than being silently
// dropped with nothing written.
func TestResolveBatchAllUnnormalizableMarksRejected(t *testing.T) {
	orgs := &fakeOrgStore{}
	rows := newFakeStdRowStore([]Candidate{
		{StdID: 1, Role: model.OrgBuyer, RawName: "***", Country: "KE"},
		{StdID: 2, Role: model.OrgSupplier, RawName: "...", Country: "US"},
	})
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	more, err := ResolveBatch(context.Background(), log, run, orgs, rows, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !more {
		t.Fatalf("expected processedAny=true even though nothing was resolved")
	}
	if !rows.rejectedBuyers[1] {
		t.Fatalf("expected std row 1 stamped as rejected buyer candidate")
	}
	if !rows.rejectedSuppliers[2] {
		t.Fatalf("expected std row 2 stamped as rejected supplier candidate")
	}
	if remaining, err := rows.PendingCandidates(context.Background(), 100); err != nil || len(remaining) != 0 {
		t.Fatalf("expected PendingCandidates to exclude rejected rows, got %v (err %v)", remaining, err)
	}
}

// TestResolveAllTerminatesOnAllUnnormalizableBatch is the regression test
// for the infinite-loop bug: a store whose only pending candidates never
// normalize must still let ResolveAll return, because each drained batch
// marks its candidates rejected and PendingCandidates excludes them on the
// next call.
func TestResolveAllTerminatesOnAllUnnormalizableBatch(t *testing.T) {
	orgs := &fakeOrgStore{}
	rows := newFakeStdRowStore([]Candidate{
		{StdID: 1, Role: model.OrgBuyer, RawName: "***", Country: "KE"},
		{StdID: 2, Role: model.OrgSupplier, RawName: "...", Country: "US"},
	})
	log := obslog.NewStage("identity", uuid.New())
	run := newTestRun(t)

	done := make(chan error, 1)
	go func() {
		done <- ResolveAll(context.Background(), log, run, orgs, rows, 0, 100)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ResolveAll did not terminate on an all-unnormalizable batch")
	}

	if !rows.rejectedBuyers[1] || !rows.rejectedSuppliers[2] {
		t.Fatalf("expected both candidates stamped rejected")
	}
}
