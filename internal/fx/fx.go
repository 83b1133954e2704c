// Package fx supplies the currency->USD lookup spec.md §9 says is assumed
// external ("if absent, currency conversion is a no-op yielding NULL USD").
package fx

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table is an in-memory currency->USD rate lookup. Nil or zero-value Table
// behaves as "no rates known", which is the documented no-op fallback.
type Table struct {
	rates map[string]float64
}

func NewTable(rates map[string]float64) *Table {
	t := &Table{rates: make(map[string]float64, len(rates))}
	for k, v := range rates {
		t.rates[strings.ToUpper(k)] = v
	}
	return t
}

// Rate returns the USD-per-unit rate for currency, or ok=false when no
// rate is on file — callers must leave USD fields NULL rather than guess.
func (t *Table) Rate(currency string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	r, ok := t.rates[strings.ToUpper(currency)]
	return r, ok
}

// LoadTable reads a flat `currency: rate` YAML map (USD-per-unit) from
// path into a Table, for cmd/tradeledger to populate once at startup.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fx rates config: %w", err)
	}
	var rates map[string]float64
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return nil, fmt.Errorf("failed to parse fx rates config: %w", err)
	}
	return NewTable(rates), nil
}

// ToUSD converts an amount in currency to USD, or returns ok=false.
func (t *Table) ToUSD(amount float64, currency string) (float64, bool) {
	rate, ok := t.Rate(currency)
	if !ok {
		return 0, false
	}
	return amount * rate, true
}
