package mirror

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
)

func qty(f float64) *float64 { return &f }

// TestHiddenBuyerMirrorMatch covers spec scenario (b): a single good
// candidate scores HS6(40) + qty(25) + date(20) = 85 and is accepted.
func TestHiddenBuyerMirrorMatch(t *testing.T) {
	buyer := uuid.New()
	eShip := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	iShip := time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC)

	e := &model.LedgerFact{
		TransactionID:      "E1",
		Direction:          model.DirectionExport,
		OriginCountry:      "INDONESIA",
		DestinationCountry: "VIETNAM",
		HSCode6:            "690721",
		QtyKg:              qty(1000),
		ShipmentDate:       eShip,
	}
	i1 := &model.LedgerFact{
		TransactionID:      "I1",
		Direction:          model.DirectionImport,
		ReportingCountry:   "VIETNAM",
		OriginCountry:      "INDONESIA",
		DestinationCountry: "VIETNAM",
		HSCode6:            "690721",
		QtyKg:              qty(1020),
		ShipmentDate:       iShip,
		BuyerUUID:          &buyer,
	}

	p := DefaultParams()
	best, score, _, reason := MatchOne(e, []*model.LedgerFact{i1}, p)
	if best == nil {
		t.Fatalf("expected a match, got reason=%q", reason)
	}
	if score < 85 {
		t.Fatalf("expected score >= 85, got %v", score)
	}
	if best.TransactionID != "I1" {
		t.Fatalf("expected match to I1, got %s", best.TransactionID)
	}
}

// TestAmbiguousMirrorRejection covers spec scenario (c): two imports
// scoring identically (both 85) must yield no match and reason=ambiguous.
func TestAmbiguousMirrorRejection(t *testing.T) {
	buyer := uuid.New()
	eShip := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	iShip := time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC)

	e := &model.LedgerFact{
		TransactionID: "E1",
		HSCode6:       "690721",
		QtyKg:         qty(1000),
		ShipmentDate:  eShip,
	}
	mk := func(id string) *model.LedgerFact {
		return &model.LedgerFact{
			TransactionID: id,
			HSCode6:       "690721",
			QtyKg:         qty(1020),
			ShipmentDate:  iShip,
			BuyerUUID:     &buyer,
		}
	}
	i1, i2 := mk("I1"), mk("I2")

	p := DefaultParams()
	best, _, _, reason := MatchOne(e, []*model.LedgerFact{i1, i2}, p)
	if best != nil {
		t.Fatalf("expected no match on tie, got %v", best)
	}
	if reason != "ambiguous" {
		t.Fatalf("expected reason=ambiguous, got %q", reason)
	}
}

func TestNoCandidatesReason(t *testing.T) {
	e := &model.LedgerFact{TransactionID: "E1", ShipmentDate: time.Now(), HSCode6: "690721"}
	best, _, _, reason := MatchOne(e, nil, DefaultParams())
	if best != nil || reason != "no_candidates" {
		t.Fatalf("expected no_candidates, got best=%v reason=%q", best, reason)
	}
}

func TestLowScoreReason(t *testing.T) {
	eShip := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	iShip := time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC)
	buyer := uuid.New()

	e := &model.LedgerFact{TransactionID: "E1", HSCode6: "690721", ShipmentDate: eShip}
	i1 := &model.LedgerFact{TransactionID: "I1", HSCode6: "690721", ShipmentDate: iShip, BuyerUUID: &buyer}

	// Only HS6(40) + date(20) = 60, below MinScore 70.
	best, score, _, reason := MatchOne(e, []*model.LedgerFact{i1}, DefaultParams())
	if best != nil {
		t.Fatalf("expected no match below min score, got %v", best)
	}
	if reason != "low_score" {
		t.Fatalf("expected low_score, got %q (score=%v)", reason, score)
	}
}

func TestScoreNeverMutatesSupplierUUID(t *testing.T) {
	supplier := uuid.New()
	e := &model.LedgerFact{TransactionID: "E1", SupplierUUID: &supplier}
	before := *e.SupplierUUID
	_, _ = Score(e, &model.LedgerFact{}, DefaultParams())
	if *e.SupplierUUID != before {
		t.Fatalf("Score must never mutate supplier_uuid")
	}
}
