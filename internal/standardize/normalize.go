// Package standardize implements S2: project raw field->value bags into
// the canonical StandardizedRow column set per the country+direction+format
// mapping, per spec.md §4.2.
package standardize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var nonDigit = regexp.MustCompile(`[^0-9]`)

// NormalizeHSCode strips non-digits, left-pads to at least 6 digits, and
// truncates to the first 6. An empty result is invalid (NULL).
// Idempotent: NormalizeHSCode(NormalizeHSCode(x)) == NormalizeHSCode(x).
func NormalizeHSCode(raw string) (string, bool) {
	digits := nonDigit.ReplaceAllString(raw, "")
	if digits == "" {
		return "", false
	}
	for len(digits) < 6 {
		digits = "0" + digits
	}
	return digits[:6], true
}

var countryAliases = map[string]string{
	"U.S.A.":              "USA",
	"USA.":                "USA",
	"UNITED STATES":       "USA",
	"UNITED STATES OF AMERICA": "USA",
	"UNITED ARAB EMIRATES": "UAE",
	"U.A.E.":              "UAE",
	"UNITED KINGDOM":      "UK",
	"GREAT BRITAIN":       "UK",
	"PEOPLE'S REPUBLIC OF CHINA": "CHINA",
	"P.R. CHINA":          "CHINA",
	"REPUBLIC OF KOREA":   "SOUTH KOREA",
	"KOREA, REPUBLIC OF":  "SOUTH KOREA",
}

// NormalizeCountry uppercases and applies the alias table; unknown values
// pass through unchanged (still uppercased).
func NormalizeCountry(raw string) string {
	u := strings.ToUpper(strings.TrimSpace(raw))
	if alias, ok := countryAliases[u]; ok {
		return alias
	}
	return u
}

// unitTable converts to kilograms; a zero factor with ok=false means the
// unit carries no convertible mass (PCS/NMB/DZN -> NULL). LTR converts at
// 1.0 with a caller-visible warning (liquid density unknown).
type unitResult struct {
	factor  float64
	warn    bool
	unknown bool
}

var unitTable = map[string]unitResult{
	"KG":  {factor: 1},
	"KGM": {factor: 1},
	"MT":  {factor: 1000},
	"TNE": {factor: 1000},
	"LBS": {factor: 0.4536},
	"G":   {factor: 0.001},
	"GRM": {factor: 0.001},
	"LTR": {factor: 1.0, warn: true},
	"PCS": {unknown: true},
	"NMB": {unknown: true},
	"DZN": {unknown: true},
}

// ConvertWeightToKg converts qty in unit to kilograms using the closed
// unit table. ok=false when the unit carries no convertible mass or is not
// recognized. warn=true for the LTR special case.
func ConvertWeightToKg(qty float64, unit string) (kg float64, ok bool, warn bool) {
	u, found := unitTable[strings.ToUpper(strings.TrimSpace(unit))]
	if !found || u.unknown {
		return 0, false, false
	}
	return qty * u.factor, true, u.warn
}

// ParseDate tries formats left to right, first success wins, then falls
// back to a small set of format-inference heuristics.
func ParseDate(raw string, formats []string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, f := range formats {
		if t, err := time.Parse(f, raw); err == nil {
			return t, true
		}
	}
	return inferDate(raw)
}

var fallbackFormats = []string{
	"2006-01-02", "2006/01/02", "02-01-2006", "02/01/2006",
	"01-02-2006", "01/02/2006", "2006-01-02T15:04:05Z07:00",
	"Jan 2, 2006", "2 Jan 2006", "20060102",
}

func inferDate(raw string) (time.Time, bool) {
	for _, f := range fallbackFormats {
		if t, err := time.Parse(f, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DerivePriceUSDPerKg computes customsValueUSD/qtyKg when both are
// strictly positive, else reports ok=false (leave NULL).
func DerivePriceUSDPerKg(customsValueUSD, qtyKg *float64) (float64, bool) {
	if customsValueUSD == nil || qtyKg == nil {
		return 0, false
	}
	if *customsValueUSD <= 0 || *qtyKg <= 0 {
		return 0, false
	}
	return *customsValueUSD / *qtyKg, true
}

var hiddenBuyerPatterns = []string{
	"TO THE ORDER", "TO ORDER", "BANK", "L/C", "LETTER OF CREDIT",
}

// IsHiddenBuyer reports whether the raw buyer name is blank or matches any
// of the closed bank/letter-of-credit patterns, case-insensitively.
func IsHiddenBuyer(rawBuyerName string) bool {
	name := strings.TrimSpace(rawBuyerName)
	if name == "" {
		return true
	}
	upper := strings.ToUpper(name)
	for _, pat := range hiddenBuyerPatterns {
		if strings.Contains(upper, pat) {
			return true
		}
	}
	return false
}

// ParseFloatLoose parses the qty/value columns, tolerating thousands
// separators, as real customs exports rarely hand back clean numerics.
func ParseFloatLoose(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
