package standardize

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeHSCodeIdempotent(t *testing.T) {
	cases := []string{"690721", "69.07.21", "6907", "abc690721xyz", "", "12"}
	for _, c := range cases {
		once, ok1 := NormalizeHSCode(c)
		twice, ok2 := NormalizeHSCode(once)
		if ok1 != ok2 || once != twice {
			t.Errorf("NormalizeHSCode(%q) not idempotent: once=%q(%v) twice=%q(%v)", c, once, ok1, twice, ok2)
		}
	}
}

func TestNormalizeHSCodePadsAndTruncates(t *testing.T) {
	hs, ok := NormalizeHSCode("12")
	if !ok || hs != "000012" {
		t.Fatalf("expected 000012, got %q ok=%v", hs, ok)
	}
	hs, ok = NormalizeHSCode("69072199")
	if !ok || hs != "690721" {
		t.Fatalf("expected truncation to 690721, got %q", hs)
	}
	if _, ok := NormalizeHSCode("n/a"); ok {
		t.Fatalf("expected invalid HS code to report ok=false")
	}
}

func TestNormalizeCountryAliasAndPassthrough(t *testing.T) {
	if got := NormalizeCountry("U.S.A."); got != "USA" {
		t.Errorf("expected USA, got %q", got)
	}
	if got := NormalizeCountry("united arab emirates"); got != "UAE" {
		t.Errorf("expected UAE, got %q", got)
	}
	if got := NormalizeCountry("Narnia"); got != "NARNIA" {
		t.Errorf("expected passthrough uppercased, got %q", got)
	}
}

func TestConvertWeightToKgRoundTrips(t *testing.T) {
	cases := []struct {
		unit   string
		factor float64
	}{
		{"KG", 1}, {"KGM", 1}, {"MT", 1000}, {"TNE", 1000},
		{"LBS", 0.4536}, {"G", 0.001}, {"GRM", 0.001},
	}
	for _, c := range cases {
		kg, ok, _ := ConvertWeightToKg(10, c.unit)
		if !ok {
			t.Fatalf("unit %s: expected ok", c.unit)
		}
		want := 10 * c.factor
		if math.Abs(kg-want) > 1e-9*math.Max(1, math.Abs(want)) {
			t.Errorf("unit %s: got %v want %v", c.unit, kg, want)
		}
	}
}

func TestConvertWeightUnknownUnitsAreNull(t *testing.T) {
	for _, u := range []string{"PCS", "NMB", "DZN", "FOO"} {
		if _, ok, _ := ConvertWeightToKg(5, u); ok {
			t.Errorf("unit %s: expected NULL (ok=false)", u)
		}
	}
}

func TestConvertWeightLTRWarns(t *testing.T) {
	kg, ok, warn := ConvertWeightToKg(3, "LTR")
	if !ok || kg != 3 || !warn {
		t.Fatalf("expected LTR to convert 1:1 with warning, got kg=%v ok=%v warn=%v", kg, ok, warn)
	}
}

func TestParseDateOrderedFormats(t *testing.T) {
	formats := []string{"2006-01-02", "02/01/2006"}
	t1, ok := ParseDate("15/06/2024", formats)
	if !ok || t1.Year() != 2024 || t1.Month() != time.June || t1.Day() != 15 {
		t.Fatalf("expected 2024-06-15, got %v ok=%v", t1, ok)
	}

	t2, ok := ParseDate("2024-06-15", formats)
	if !ok || t2.Day() != 15 {
		t.Fatalf("expected first-format match, got %v", t2)
	}
}

func TestParseDateFallsBackToInference(t *testing.T) {
	t1, ok := ParseDate("2024/06/15", nil)
	if !ok || t1.Month() != time.June {
		t.Fatalf("expected inferred parse, got %v ok=%v", t1, ok)
	}
}

func TestDerivePriceRequiresPositiveBoth(t *testing.T) {
	pos := func(f float64) *float64 { return &f }

	if _, ok := DerivePriceUSDPerKg(nil, pos(10)); ok {
		t.Error("expected false when customs value missing")
	}
	if _, ok := DerivePriceUSDPerKg(pos(100), pos(0)); ok {
		t.Error("expected false when qty is zero")
	}
	price, ok := DerivePriceUSDPerKg(pos(100), pos(20))
	if !ok || price != 5 {
		t.Errorf("expected 5, got %v ok=%v", price, ok)
	}
}

func TestIsHiddenBuyer(t *testing.T) {
	cases := map[string]bool{
		"":                       true,
		"   ":                    true,
		"TO THE ORDER":           true,
		"to order of shipper":    true,
		"First National Bank":    true,
		"Irrevocable L/C No 123": true,
		"LETTER OF CREDIT":       true,
		"ACME TRADING LTD":       false,
	}
	for name, want := range cases {
		if got := IsHiddenBuyer(name); got != want {
			t.Errorf("IsHiddenBuyer(%q) = %v, want %v", name, got, want)
		}
	}
}
