// Package mirror implements S5, the Mirror Matcher: for export facts with
// a hidden buyer, find the corresponding import fact in the destination
// country and infer the buyer, per spec.md §4.5.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"

	"github.com/google/uuid"
)

const (
	DefaultMinLagDays  = 15
	DefaultMaxLagDays  = 45
	DefaultQtyTolPct   = 0.05
	DefaultMinScore    = 70.0
	MinMargin          = 5.0
	weightHS6          = 40.0
	weightQty          = 25.0
	weightDate         = 20.0
	weightContainer    = 10.0
	weightVessel       = 5.0
)

// Params bundles the tunable matching thresholds, all defaulted in
// DefaultParams per spec.md §4.5.
type Params struct {
	MinLag   time.Duration
	MaxLag   time.Duration
	QtyTolPct float64
	MinScore  float64
}

func DefaultParams() Params {
	return Params{
		MinLag:    DefaultMinLagDays * 24 * time.Hour,
		MaxLag:    DefaultMaxLagDays * 24 * time.Hour,
		QtyTolPct: DefaultQtyTolPct,
		MinScore:  DefaultMinScore,
	}
}

// Store is the S5 persistence seam.
type Store interface {
	// HiddenBuyerExports returns export facts still awaiting a mirror
	// match: hidden_buyer_flag, buyer_uuid IS NULL, mirror_matched_at IS NULL.
	HiddenBuyerExports(ctx context.Context, limit int) ([]*model.LedgerFact, error)
	// CandidateImports returns the candidate set for export e per
	// spec.md §4.5's filter (reporting/origin/hs6 match, buyer_uuid set);
	// the date and quantity filters are applied in-process against
	// params since they depend on e's own values.
	CandidateImports(ctx context.Context, e *model.LedgerFact) ([]*model.LedgerFact, error)
	// RecordMatch inserts a MirrorMatch row and updates the export fact's
	// buyer_uuid/mirror_matched_at, all in one transaction. A pre-existing
	// match (unique on export id) comes back as ErrConstraintViolation.
	RecordMatch(ctx context.Context, match *model.MirrorMatch, exportTxnID string, buyerUUID uuid.UUID) error
	// RecordSkip records why a hidden-buyer export was left unmatched
	// (ambiguous/low_score/no_candidates) for operator visibility.
	RecordSkip(ctx context.Context, exportTxnID string, reason string) error
}

// Score computes the weighted criteria for candidate i against export e,
// per spec.md §4.5's scoring table. Both facts are assumed to already
// satisfy the hard candidate-set filter (hs6/reporting/origin/buyer set).
func Score(e, i *model.LedgerFact, p Params) (total float64, breakdown map[string]float64) {
	breakdown = map[string]float64{}

	breakdown["hs6"] = weightHS6 // always contributes once in the candidate set

	if e.QtyKg == nil || i.QtyKg == nil {
		// No qty filter applicable, per spec.md §4.5: "otherwise quantity
		// not required" — award nothing but don't penalize either.
	} else {
		lo := *e.QtyKg * (1 - p.QtyTolPct)
		hi := *e.QtyKg * (1 + p.QtyTolPct)
		if *i.QtyKg >= lo && *i.QtyKg <= hi {
			breakdown["qty"] = weightQty
		}
	}

	lagMin := e.ShipmentDate.Add(p.MinLag)
	lagMax := e.ShipmentDate.Add(p.MaxLag)
	if !i.ShipmentDate.Before(lagMin) && !i.ShipmentDate.After(lagMax) {
		breakdown["date"] = weightDate
	}

	if e.ContainerID != "" && e.ContainerID == i.ContainerID {
		breakdown["container"] = weightContainer
	}
	if e.VesselName != "" && e.VesselName == i.VesselName {
		breakdown["vessel"] = weightVessel
	}

	for _, v := range breakdown {
		total += v
	}
	return total, breakdown
}

// IsCandidate applies the date-window and quantity-tolerance portions of
// spec.md §4.5's candidate-set filter that depend on comparing e and i
// directly (the store applies the simpler equality filters).
func IsCandidate(e, i *model.LedgerFact, p Params) bool {
	lagMin := e.ShipmentDate.Add(p.MinLag)
	lagMax := e.ShipmentDate.Add(p.MaxLag)
	if i.ShipmentDate.Before(lagMin) || i.ShipmentDate.After(lagMax) {
		return false
	}
	if e.QtyKg != nil {
		lo := *e.QtyKg * (1 - p.QtyTolPct)
		hi := *e.QtyKg * (1 + p.QtyTolPct)
		if *i.QtyKg < lo || *i.QtyKg > hi {
			return false
		}
	}
	if i.BuyerUUID == nil {
		return false
	}
	return true
}

// MatchOne runs the full decision procedure for one export fact against
// its candidate set: compute all scores, accept the best iff it clears
// MinScore and beats the runner-up by more than MinMargin.
func MatchOne(e *model.LedgerFact, candidates []*model.LedgerFact, p Params) (best *model.LedgerFact, bestScore float64, breakdown map[string]float64, reason string) {
	var filtered []*model.LedgerFact
	for _, c := range candidates {
		if IsCandidate(e, c, p) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil, 0, nil, "no_candidates"
	}

	type scored struct {
		fact  *model.LedgerFact
		score float64
		bd    map[string]float64
	}
	scores := make([]scored, 0, len(filtered))
	for _, c := range filtered {
		s, bd := Score(e, c, p)
		scores = append(scores, scored{fact: c, score: s, bd: bd})
	}

	s1, s2 := scores[0], scored{}
	for _, s := range scores[1:] {
		if s.score > s1.score {
			s2 = s1
			s1 = s
		} else if s.score > s2.score {
			s2 = s
		}
	}

	if s1.score >= p.MinScore && (s1.score-s2.score) > MinMargin {
		return s1.fact, s1.score, s1.bd, ""
	}
	if s1.score < p.MinScore {
		return nil, s1.score, s1.bd, "low_score"
	}
	return nil, s1.score, s1.bd, "ambiguous"
}

// ProcessBatch drains one batch of hidden-buyer exports and resolves each
// against its candidate set.
func ProcessBatch(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, p Params, limit int) (processedAny bool, err error) {
	exports, err := store.HiddenBuyerExports(ctx, limit)
	if err != nil {
		return false, fmt.Errorf("failed to fetch hidden-buyer exports: %w", err)
	}
	if len(exports) == 0 {
		return false, nil
	}

	for _, e := range exports {
		run.AddProcessed(1)
		candidates, err := store.CandidateImports(ctx, e)
		if err != nil {
			return false, fmt.Errorf("failed to fetch mirror candidates for %s: %w", e.TransactionID, err)
		}

		best, score, breakdown, reason := MatchOne(e, candidates, p)
		if best == nil {
			if err := store.RecordSkip(ctx, e.TransactionID, reason); err != nil {
				return false, fmt.Errorf("failed to record mirror skip: %w", err)
			}
			run.AddSkipped(1)
			log.Debug().Str("export_txn", e.TransactionID).Str("reason", reason).Float64("score", score).Msg("mirror match not accepted")
			continue
		}

		match := &model.MirrorMatch{
			ExportTransactionID: e.TransactionID,
			ImportTransactionID: best.TransactionID,
			Score:               score,
			Breakdown:           breakdown,
		}
		if err := store.RecordMatch(ctx, match, e.TransactionID, *best.BuyerUUID); err != nil {
			if errors.Is(err, pipeline.ErrConstraintViolation) {
				continue // already matched by a previous run
			}
			return false, fmt.Errorf("failed to record mirror match: %w", err)
		}
		run.AddUpdated(1)
		log.Info().Str("export_txn", e.TransactionID).Str("import_txn", best.TransactionID).Float64("score", score).Msg("mirror match accepted")
	}

	return true, nil
}

// ProcessAll drains ProcessBatch until no hidden-buyer exports remain.
func ProcessAll(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, p Params, batchSize int) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: mirror match", pipeline.ErrCancelled)
		default:
		}
		more, err := ProcessBatch(ctx, log, run, store, p, batchSize)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
