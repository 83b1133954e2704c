package fx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTableAndToUSD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	if err := os.WriteFile(path, []byte("KES: 0.0067\nUSD: 1.0\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	usd, ok := table.ToUSD(1000, "kes")
	if !ok {
		t.Fatal("expected a known rate for KES")
	}
	if usd < 6.6999 || usd > 6.7001 {
		t.Errorf("unexpected USD conversion: %v", usd)
	}

	if _, ok := table.Rate("XYZ"); ok {
		t.Error("expected no rate for an unknown currency")
	}
}

func TestNilTableIsNoOp(t *testing.T) {
	var table *Table
	if _, ok := table.Rate("USD"); ok {
		t.Error("expected nil table to report no rate")
	}
}
