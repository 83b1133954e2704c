package analytics

import (
	"math"
	"testing"
)

func TestBuildPriceCorridorStats(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	c, ok := BuildPriceCorridor(PriceCorridor{HSCode6: "690721"}, prices)
	if !ok {
		t.Fatal("expected ok=true for non-empty sample")
	}
	if c.SampleSize != 10 {
		t.Errorf("expected sample size 10, got %d", c.SampleSize)
	}
	if c.Min != 1 || c.Max != 10 {
		t.Errorf("expected min=1 max=10, got min=%v max=%v", c.Min, c.Max)
	}
	if math.Abs(c.Mean-5.5) > 1e-9 {
		t.Errorf("expected mean 5.5, got %v", c.Mean)
	}
}

func TestBuildPriceCorridorEmptySample(t *testing.T) {
	if _, ok := BuildPriceCorridor(PriceCorridor{}, nil); ok {
		t.Error("expected ok=false for empty sample")
	}
}

// TestUnderInvoiceZScore matches spec scenario (e): median 7.0, std 1.5,
// a shipment price of 0.57 should land at a strongly negative z-score.
func TestUnderInvoiceZScore(t *testing.T) {
	c := PriceCorridor{Mean: 7.0, StdDev: 1.5}
	z, ok := c.ZScore(0.57)
	if !ok {
		t.Fatal("expected z-score to be computable")
	}
	if z >= -2 {
		t.Errorf("expected z-score <= -2 for under-invoicing, got %v", z)
	}
}

func TestQualifyingPricesFiltersNonPositive(t *testing.T) {
	prices := []float64{5, -1, 0, 10}
	qtys := []float64{10, 10, 10, 10}
	got := QualifyingPrices(prices, qtys)
	if len(got) != 2 {
		t.Fatalf("expected 2 qualifying prices, got %v", got)
	}
}
