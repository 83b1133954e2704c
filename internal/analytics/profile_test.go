package analytics

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
)

func usd(f float64) *float64 { return &f }

func TestPersonaThresholds(t *testing.T) {
	cases := []struct {
		value     float64
		shipments int64
		want      string
	}{
		{2_000_000, 10, "Whale"},
		{200_000, 10, "Mid"},
		{20_000, 10, "Value"},
		{1_000, 10, "Small"},
		{5_000_000, 2, "New"}, // shipments <= 2 always New, regardless of value
	}
	for _, c := range cases {
		if got := Persona(c.value, c.shipments); got != c.want {
			t.Errorf("Persona(%v, %d) = %q, want %q", c.value, c.shipments, got, c.want)
		}
	}
}

func TestBuildBuyerProfileAggregates(t *testing.T) {
	buyer := uuid.New()
	s1 := uuid.New()
	facts := []*model.LedgerFact{
		{BuyerUUID: &buyer, SupplierUUID: &s1, HSCode6: "690721", CustomsValueUSD: usd(100), QtyKg: usd(10)},
		{BuyerUUID: &buyer, SupplierUUID: &s1, HSCode6: "690721", CustomsValueUSD: usd(200), QtyKg: usd(20)},
		{BuyerUUID: &buyer, SupplierUUID: &s1, HSCode6: "640411", CustomsValueUSD: usd(50), QtyKg: usd(5)},
	}
	p := BuildBuyerProfile(buyer, "KENYA", facts, 0)
	if p.Shipments != 3 {
		t.Errorf("expected 3 shipments, got %d", p.Shipments)
	}
	if p.ValueUSD != 350 {
		t.Errorf("expected value 350, got %v", p.ValueUSD)
	}
	if p.UniqueHS6 != 2 {
		t.Errorf("expected 2 unique HS6, got %d", p.UniqueHS6)
	}
	if len(p.TopHS6) != 2 {
		t.Errorf("expected 2 top HS6 entries, got %v", p.TopHS6)
	}
}

func TestBuildBuyerProfileYoYGrowth(t *testing.T) {
	buyer := uuid.New()
	facts := []*model.LedgerFact{
		{BuyerUUID: &buyer, HSCode6: "1", CustomsValueUSD: usd(150)},
	}
	p := BuildBuyerProfile(buyer, "KE", facts, 100)
	if math.Abs(p.YoYGrowth-0.5) > 1e-9 {
		t.Errorf("expected 50%% growth, got %v", p.YoYGrowth)
	}
}

func TestStabilityScoreHalves(t *testing.T) {
	allActive := [12]int64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	if got := MonthsActiveScore(allActive); got != 50 {
		t.Errorf("expected months-active score 50, got %v", got)
	}
	if got := VarianceStabilityScore(allActive); got != 50 {
		t.Errorf("expected variance score 50 for constant counts, got %v", got)
	}

	sparse := [12]int64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 3}
	if got := MonthsActiveScore(sparse); math.Abs(got-50.0/12.0) > 1e-9 {
		t.Errorf("expected months-active score ~4.17, got %v", got)
	}
}
