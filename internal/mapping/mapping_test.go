package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/obsrvr/tradeledger/internal/model"
)

func TestLoadRegistryAndGroups(t *testing.T) {
	doc := `
mappings:
  - country: KE
    direction: export
    source_format: full
    lifecycle: LIVE
    column_mapping:
      buyer_name_raw: [buyer, importer]
      value_raw: [value]
    weight_unit: KG
    value_currency: USD
    value_type: FOB
    defaults:
      weight_unit_raw: KG
    date_formats: ["2006-01-02"]
`
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	spec, err := reg.Lookup("KE", model.DirectionExport, model.FormatFull)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if spec.ValueCurrency != "USD" || spec.ValueType != ValueFOB {
		t.Errorf("unexpected spec: %+v", spec)
	}
	if v, ok := spec.First(model.NewBag(), "buyer_name_raw"); ok {
		t.Errorf("expected no match against an empty bag, got %q", v)
	}

	groups := reg.Groups()
	if len(groups) != 1 || groups[0].Country != "KE" {
		t.Fatalf("expected one group, got %+v", groups)
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
