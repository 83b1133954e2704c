package risk

import (
	"testing"
	"time"

	"github.com/obsrvr/tradeledger/internal/analytics"
	"github.com/obsrvr/tradeledger/internal/model"
)

func usd(f float64) *float64 { return &f }

// TestUnderInvoiceCriticalScenario matches spec scenario (e): corridor
// centre 7.0 (set as Mean, which ZScore measures from) / std 1.5 / sample
// 847, shipment price 0.57 -> UNDER_INVOICE,
// risk_level CRITICAL, context carries the z-score.
func TestUnderInvoiceCriticalScenario(t *testing.T) {
	corridor := analytics.PriceCorridor{
		HSCode6: "690721", DestinationCountry: "KENYA",
		Year: 2024, Month: 6, Direction: "IMPORT", ReportingCountry: "KENYA",
		Mean: 7.0, StdDev: 1.5, SampleSize: 847,
	}
	fact := &model.LedgerFact{
		TransactionID: "T1", HSCode6: "690721", Year: 2024,
		PriceUSDPerKg: usd(0.57),
	}
	ctx := ShipmentContext{Fact: fact, Corridor: corridor, HasCorridor: true}

	opinion := ScoreShipment(ctx, time.Now())
	if opinion == nil {
		t.Fatal("expected a risk opinion")
	}
	if opinion.MainReason != ReasonUnderInvoice {
		t.Errorf("expected main_reason_code=UNDER_INVOICE, got %q", opinion.MainReason)
	}
	if opinion.Level != model.RiskCritical {
		t.Errorf("expected risk level CRITICAL, got %v (score=%v)", opinion.Level, opinion.Score)
	}
	if _, ok := opinion.Reasons[0].Context["z_score"]; !ok {
		t.Error("expected context to carry z_score")
	}
}

func TestOverInvoiceSymmetric(t *testing.T) {
	corridor := analytics.PriceCorridor{Mean: 7.0, StdDev: 1.5}
	r := UnderOverInvoice(13.0, corridor) // z = +4
	if r == nil || r.Code != ReasonOverInvoice {
		t.Fatalf("expected OVER_INVOICE, got %v", r)
	}
}

func TestUnderOverInvoiceNoRuleBelowThreshold(t *testing.T) {
	corridor := analytics.PriceCorridor{Mean: 7.0, StdDev: 1.5}
	if r := UnderOverInvoice(7.5, corridor); r != nil {
		t.Errorf("expected no rule fired for z within +-2, got %v", r)
	}
}

func TestWeirdLaneThreshold(t *testing.T) {
	if r := WeirdLane(3, 50); r == nil {
		t.Error("expected WEIRD_LANE to fire at lane<=3, global>=50")
	}
	if r := WeirdLane(4, 50); r != nil {
		t.Error("expected WEIRD_LANE not to fire when lane shipments > 3")
	}
	if r := WeirdLane(1, 10); r != nil {
		t.Error("expected WEIRD_LANE not to fire when global HS6 count < 50")
	}
}

func TestGhostEntityRequiresHighValueAndNoWebsite(t *testing.T) {
	if r := GhostEntity(600_000, false); r == nil {
		t.Error("expected GHOST_ENTITY to fire")
	}
	if r := GhostEntity(600_000, true); r != nil {
		t.Error("expected no GHOST_ENTITY when website present")
	}
	if r := GhostEntity(100_000, false); r != nil {
		t.Error("expected no GHOST_ENTITY below value threshold")
	}
}

func TestFreeEmailRequiresAllDomainsFree(t *testing.T) {
	if r := FreeEmail(true, []string{"gmail.com", "yahoo.com"}); r == nil {
		t.Error("expected FREE_EMAIL to fire for all-free domains")
	}
	if r := FreeEmail(true, []string{"gmail.com", "acme-corp.com"}); r != nil {
		t.Error("expected no FREE_EMAIL when any domain is not free webmail")
	}
	if r := FreeEmail(false, []string{"gmail.com"}); r != nil {
		t.Error("expected no FREE_EMAIL when buyer is not high-volume")
	}
}

func TestCompositeTakesMax(t *testing.T) {
	reasons := []model.RiskReason{
		{Code: "A", Score: 30},
		{Code: "B", Score: 80},
		{Code: "C", Score: 50},
	}
	score, main := Composite(reasons)
	if score != 80 || main != "B" {
		t.Errorf("expected max(80, B), got score=%v main=%v", score, main)
	}
}

func TestLevelBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  model.RiskLevel
	}{
		{10, model.RiskLow}, {45, model.RiskMedium}, {65, model.RiskHigh}, {90, model.RiskCritical},
	}
	for _, c := range cases {
		if got := Level(c.score); got != c.want {
			t.Errorf("Level(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

// TestEngineVersionLinearity covers spec invariant 8: for any (entity,
// scope), engine-version strings are monotone non-decreasing in
// computed_at. Since EngineVersion is a single constant bumped only by a
// deploy, consecutive opinions from this build always carry the same
// (and therefore non-decreasing) version string.
func TestEngineVersionLinearity(t *testing.T) {
	fact := &model.LedgerFact{TransactionID: "T1", HSCode6: "690721", Year: 2024, PriceUSDPerKg: usd(0.5)}
	corridor := analytics.PriceCorridor{Mean: 7, StdDev: 1.5}

	first := ScoreShipment(ShipmentContext{Fact: fact, Corridor: corridor, HasCorridor: true}, time.Now())
	second := ScoreShipment(ShipmentContext{Fact: fact, Corridor: corridor, HasCorridor: true}, time.Now().Add(time.Hour))

	if first.EngineVersion != second.EngineVersion {
		t.Fatalf("expected stable engine version across runs, got %q vs %q", first.EngineVersion, second.EngineVersion)
	}
}
