package identity

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

// Role is which side of the transaction introduced a candidate name.
type Role = model.OrgType // OrgBuyer or OrgSupplier only, never OrgMixed here.

// Tuple is the (normalized_name, country) identity key.
type Tuple struct {
	NormalizedName string
	Country        string
}

// Candidate is one (role, raw_name, assigned_country) taken from a single
// standardized row still missing a UUID on that side; StdID names the row.
type Candidate struct {
	StdID   int64
	Role    Role
	RawName string
	Country string
}

const DefaultFuzzyThreshold = 0.8

// OrgStore is the organizations_master persistence seam.
type OrgStore interface {
	// ExactMatch bulk-looks-up tuples, returning whichever are found.
	ExactMatch(ctx context.Context, tuples []Tuple) (map[Tuple]uuid.UUID, error)
	// FuzzyCandidates returns every existing org in country with
	// similarity >= threshold against name, for the caller to rank.
	FuzzyCandidates(ctx context.Context, country, normalizedName string, threshold float64) ([]FuzzyHit, error)
	// InsertOrGet inserts a new organization or, on a unique-constraint
	// race, returns the one a concurrent writer just inserted — the
	// ON-CONFLICT-RETURNING-EXISTING semantics of spec.md §4.3 step 5.
	InsertOrGet(ctx context.Context, tuple Tuple, role Role, rawName string) (id uuid.UUID, created bool, err error)
	// PromoteToMixed sets an org's type to MIXED (idempotent, one-way).
	PromoteToMixed(ctx context.Context, id uuid.UUID) error
	// AppendVariant records a new raw-name variant seen for an org.
	AppendVariant(ctx context.Context, id uuid.UUID, rawName string) error
	// TypeOf returns an org's current type.
	TypeOf(ctx context.Context, id uuid.UUID) (Role, error)
}

type FuzzyHit struct {
	UUID       uuid.UUID
	Similarity float64
}

// StdRowStore is the standardized_rows persistence seam for S3.
type StdRowStore interface {
	// PendingCandidates returns one Candidate per row with a NULL uuid on
	// that side, per spec.md §4.3 step 1; rows sharing a tuple come back
	// separately and ResolveBatch groups them. Blank/unnormalizable names
	// are pre-filtered by the caller.
	PendingCandidates(ctx context.Context, limit int) ([]Candidate, error)
	// WriteBackBuyer/WriteBackSupplier batch-update std rows by stdID set
	// membership. They set only the buyer/supplier uuid column;
	// hidden_buyer_flag is left as S2 wrote it.
	WriteBackBuyer(ctx context.Context, stdIDs []int64, buyerUUID uuid.UUID) error
	WriteBackSupplier(ctx context.Context, stdIDs []int64, supplierUUID uuid.UUID) error
	// MarkBuyerUnresolvable/MarkSupplierUnresolvable stamp a durable
	// rejection marker on rows whose raw name normalizes to empty, so
	// PendingCandidates excludes them from future batches. Without this,
	// a batch consisting entirely of unnormalizable names would drop every
	// candidate and report no writeback, and ResolveAll would spin forever.
	MarkBuyerUnresolvable(ctx context.Context, stdIDs []int64) error
	MarkSupplierUnresolvable(ctx context.Context, stdIDs []int64) error
}

// ResolveBatch implements spec.md §4.3's two-pass batched algorithm over
// one fetched batch of candidates.
func ResolveBatch(
	ctx context.Context,
	log *obslog.Stage,
	run *pipeline.Run,
	orgs OrgStore,
	rows StdRowStore,
	threshold float64,
	batchSize int,
) (processedAny bool, err error) {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}

	raw, err := rows.PendingCandidates(ctx, batchSize)
	if err != nil {
		return false, fmt.Errorf("failed to fetch identity candidates: %w", err)
	}
	if len(raw) == 0 {
		return false, nil
	}

	// Step 2: normalize, dropping candidates that collapse to empty. Those
	// are stamped unresolvable so they never come back from
	// PendingCandidates — otherwise a batch that is entirely unnormalizable
	// names would leave every row untouched and spin ResolveAll forever.
	type resolved struct {
		Candidate
		tuple Tuple
	}
	var candidates []resolved
	var unresolvableBuyers, unresolvableSuppliers []int64
	for _, c := range raw {
		run.AddProcessed(1)
		norm, ok := NormalizeName(c.RawName)
		if !ok {
			run.AddSkipped(1)
			if c.Role == model.OrgBuyer {
				unresolvableBuyers = append(unresolvableBuyers, c.StdID)
			} else {
				unresolvableSuppliers = append(unresolvableSuppliers, c.StdID)
			}
			continue
		}
		candidates = append(candidates, resolved{Candidate: c, tuple: Tuple{NormalizedName: norm, Country: c.Country}})
	}
	if len(unresolvableBuyers) > 0 {
		if err := rows.MarkBuyerUnresolvable(ctx, unresolvableBuyers); err != nil {
			return false, fmt.Errorf("failed to mark unresolvable buyer candidates: %w", err)
		}
	}
	if len(unresolvableSuppliers) > 0 {
		if err := rows.MarkSupplierUnresolvable(ctx, unresolvableSuppliers); err != nil {
			return false, fmt.Errorf("failed to mark unresolvable supplier candidates: %w", err)
		}
	}
	if len(candidates) == 0 {
		return true, nil
	}

	// Step 3: bulk exact match.
	tupleSet := map[Tuple]bool{}
	for _, c := range candidates {
		tupleSet[c.tuple] = true
	}
	tuples := make([]Tuple, 0, len(tupleSet))
	for t := range tupleSet {
		tuples = append(tuples, t)
	}
	exact, err := orgs.ExactMatch(ctx, tuples)
	if err != nil {
		return false, fmt.Errorf("failed to exact-match organizations: %w", err)
	}

	resolvedUUID := make(map[Tuple]uuid.UUID, len(exact))
	for t, id := range exact {
		resolvedUUID[t] = id
	}

	// Step 4: fuzzy match remaining tuples.
	for t := range tupleSet {
		if _, ok := resolvedUUID[t]; ok {
			continue
		}
		hits, err := orgs.FuzzyCandidates(ctx, t.Country, t.NormalizedName, threshold)
		if err != nil {
			return false, fmt.Errorf("failed to fuzzy-match organizations: %w", err)
		}
		if best, ok := bestFuzzyHit(hits); ok {
			resolvedUUID[t] = best
		}
	}

	// Step 5: insert unmatched tuples as new organizations. A tuple may
	// be introduced by either role; the first candidate encountered sets
	// the initial type.
	firstRoleFor := map[Tuple]Candidate{}
	for _, c := range candidates {
		if _, ok := firstRoleFor[c.tuple]; !ok {
			firstRoleFor[c.tuple] = c.Candidate
		}
	}
	for t := range tupleSet {
		if _, ok := resolvedUUID[t]; ok {
			continue
		}
		introducer := firstRoleFor[t]
		id, _, err := orgs.InsertOrGet(ctx, t, introducer.Role, introducer.RawName)
		if err != nil {
			return false, fmt.Errorf("failed to insert organization: %w", err)
		}
		resolvedUUID[t] = id
		run.AddCreated(1)
	}

	// Step 6: type merge — promote on role mismatch, never demote.
	for _, c := range candidates {
		id := resolvedUUID[c.tuple]
		current, err := orgs.TypeOf(ctx, id)
		if err != nil {
			return false, fmt.Errorf("failed to read organization type: %w", err)
		}
		if current != model.OrgMixed && current != c.Role {
			if err := orgs.PromoteToMixed(ctx, id); err != nil {
				return false, fmt.Errorf("failed to promote organization to MIXED: %w", err)
			}
		}
		if err := orgs.AppendVariant(ctx, id, c.RawName); err != nil {
			return false, fmt.Errorf("failed to append raw name variant: %w", err)
		}
	}

	// Step 7: writeback, grouped by (role, uuid) -> std IDs.
	buyerGroups := map[uuid.UUID][]int64{}
	supplierGroups := map[uuid.UUID][]int64{}
	for _, c := range candidates {
		id := resolvedUUID[c.tuple]
		if c.Role == model.OrgBuyer {
			buyerGroups[id] = append(buyerGroups[id], c.StdID)
		} else {
			supplierGroups[id] = append(supplierGroups[id], c.StdID)
		}
	}
	for id, ids := range buyerGroups {
		if err := rows.WriteBackBuyer(ctx, ids, id); err != nil {
			return false, fmt.Errorf("failed to write back buyer uuids: %w", err)
		}
		run.AddUpdated(int64(len(ids)))
	}
	for id, ids := range supplierGroups {
		if err := rows.WriteBackSupplier(ctx, ids, id); err != nil {
			return false, fmt.Errorf("failed to write back supplier uuids: %w", err)
		}
		run.AddUpdated(int64(len(ids)))
	}

	log.Info().Int("candidates", len(candidates)).Int("tuples", len(tuples)).Msg("identity batch resolved")
	return true, nil
}

// bestFuzzyHit picks the highest-similarity hit, breaking ties
// deterministically by lexicographic UUID order per spec.md §4.3 step 4.
func bestFuzzyHit(hits []FuzzyHit) (uuid.UUID, bool) {
	if len(hits) == 0 {
		return uuid.UUID{}, false
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].UUID.String() < hits[j].UUID.String()
	})
	return hits[0].UUID, true
}

// ResolveAll drains ResolveBatch until a batch returns no candidates.
func ResolveAll(
	ctx context.Context,
	log *obslog.Stage,
	run *pipeline.Run,
	orgs OrgStore,
	rows StdRowStore,
	threshold float64,
	batchSize int,
) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: identity resolution", pipeline.ErrCancelled)
		default:
		}
		more, err := ResolveBatch(ctx, log, run, orgs, rows, threshold, batchSize)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
