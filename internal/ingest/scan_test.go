package ingest

import (
	"testing"

	"github.com/obsrvr/tradeledger/internal/model"
)

type fakeLister struct{ paths []string }

func (f fakeLister) List(root string) ([]string, error) { return f.paths, nil }

func TestScanDerivesMetadataFromPath(t *testing.T) {
	lister := fakeLister{paths: []string{
		"/root/KE/export/2024/06/shipments.csv",
		"/root/KE/export/2024/06/notes.txt",
		"/root/vn/import/2025/3/manifest.xlsx",
		"/root/ke_export_202406_synthetic.csv",
	}}

	specs, err := Scan(lister, "/root")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 recognized files, got %d: %+v", len(specs), specs)
	}

	var csvSpec, xlsxSpec FileSpec
	for _, s := range specs {
		switch s.Name {
		case "shipments.csv":
			csvSpec = s
		case "manifest.xlsx":
			xlsxSpec = s
		}
	}

	if csvSpec.Country != "KE" || csvSpec.Direction != model.DirectionExport || csvSpec.Year != 2024 || csvSpec.Month != 6 {
		t.Errorf("unexpected metadata for shipments.csv: %+v", csvSpec)
	}
	if xlsxSpec.Country != "VN" || xlsxSpec.Direction != model.DirectionImport || xlsxSpec.Month != 3 {
		t.Errorf("unexpected metadata for manifest.xlsx: %+v", xlsxSpec)
	}
}

func TestScanFlagsSyntheticByRegex(t *testing.T) {
	lister := fakeLister{paths: []string{"/root/ke_export_202406_run1.csv"}}
	specs, err := Scan(lister, "/root")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(specs) != 1 || !specs[0].Synthetic {
		t.Fatalf("expected one synthetic spec, got %+v", specs)
	}
}

func TestExtractHints(t *testing.T) {
	fields := map[string]string{
		"hs_code":   "690721",
		"buyer":     "ACME LTD",
		"exporter":  "Kenya Tea Co",
		"shipment_date": "2024-06-01",
	}
	hs, buyer, supplier, date := ExtractHints(fields)
	if hs != "690721" || buyer != "ACME LTD" || supplier != "Kenya Tea Co" || date != "2024-06-01" {
		t.Errorf("unexpected hints: %q %q %q %q", hs, buyer, supplier, date)
	}
}
