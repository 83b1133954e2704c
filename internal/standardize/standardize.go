package standardize

import (
	"fmt"
	"time"

	"github.com/obsrvr/tradeledger/internal/fx"
	"github.com/obsrvr/tradeledger/internal/mapping"
	"github.com/obsrvr/tradeledger/internal/model"
)

// Row transforms one RawRow into a StandardizedRow using spec's column
// mapping and defaults, per spec.md §4.2's normalization rules. It never
// returns an error for "missing optional field" — only a hard structural
// problem (no raw fields at all) is an error; everything else degrades to
// NULL columns, matching the spec's "leave NULL, do not guess" posture.
func Row(raw *model.RawRow, spec *mapping.Spec, rates *fx.Table) (*model.StandardizedRow, error) {
	if raw.Fields == nil {
		return nil, fmt.Errorf("raw row %d has no fields", raw.ID)
	}

	out := &model.StandardizedRow{
		RawID:     raw.ID,
		FileID:    raw.FileID,
		Direction: spec.Direction,
	}

	out.BuyerNameRaw, _ = spec.First(raw.Fields, "buyer_name_raw")
	out.SupplierNameRaw, _ = spec.First(raw.Fields, "supplier_name_raw")
	out.HiddenBuyerFlag = IsHiddenBuyer(out.BuyerNameRaw)

	if hsRaw, ok := spec.First(raw.Fields, "hs_code_raw"); ok {
		if hs, ok := NormalizeHSCode(hsRaw); ok {
			out.HSCode6 = hs
		}
	}

	out.ReportingCountry = NormalizeCountry(spec.Country)
	origin, hasOrigin := spec.First(raw.Fields, "origin_country_raw")
	dest, hasDest := spec.First(raw.Fields, "destination_country_raw")
	switch spec.Direction {
	case model.DirectionExport:
		out.OriginCountry = NormalizeCountry(pick(origin, hasOrigin, spec.Country))
		if hasDest {
			out.DestinationCountry = NormalizeCountry(dest)
		}
	case model.DirectionImport:
		out.DestinationCountry = NormalizeCountry(pick(dest, hasDest, spec.Country))
		if hasOrigin {
			out.OriginCountry = NormalizeCountry(origin)
		}
	}

	out.ShipmentDate, out.ExportDate, out.ImportDate = parseDates(raw.Fields, spec)
	if out.ShipmentDate != nil {
		y, m := out.ShipmentDate.Year(), int(out.ShipmentDate.Month())
		out.Year, out.Month = &y, &m
	}

	out.QtyUnit = spec.WeightUnit
	if qtyRaw, ok := spec.First(raw.Fields, "qty_raw"); ok {
		if qty, ok := ParseFloatLoose(qtyRaw); ok {
			out.QtyOriginal = &qty
			if kg, ok, _ := ConvertWeightToKg(qty, spec.WeightUnit); ok {
				out.QtyKg = &kg
			}
		}
	}

	out.ValueCurrency = spec.ValueCurrency
	out.ValueType = string(spec.ValueType)
	if valRaw, ok := spec.First(raw.Fields, "value_raw"); ok {
		if val, ok := ParseFloatLoose(valRaw); ok {
			out.ValueOriginal = &val
			if usd, ok := rates.ToUSD(val, spec.ValueCurrency); ok {
				switch spec.ValueType {
				case mapping.ValueFOB:
					out.FOBValueUSD = &usd
				case mapping.ValueCIF:
					out.CIFValueUSD = &usd
				case mapping.ValueCustoms:
					out.CustomsValueUSD = &usd
				}
			}
		}
	}
	// The risk/corridor engines and the validity gate key off customs
	// value specifically; when the mapping nominates FOB/CIF as primary,
	// customs value is still populated from the same USD figure absent a
	// separate customs-value column, since spec.md treats "value_type"
	// as selecting which USD column is primary rather than requiring all
	// three independently.
	if out.CustomsValueUSD == nil {
		if out.FOBValueUSD != nil {
			out.CustomsValueUSD = out.FOBValueUSD
		} else if out.CIFValueUSD != nil {
			out.CustomsValueUSD = out.CIFValueUSD
		}
	}

	if price, ok := DerivePriceUSDPerKg(out.CustomsValueUSD, out.QtyKg); ok {
		out.PriceUSDPerKg = &price
	}

	out.VesselName, _ = spec.First(raw.Fields, "vessel_raw")
	out.ContainerID, _ = spec.First(raw.Fields, "container_raw")
	out.PortOfLoading, _ = spec.First(raw.Fields, "port_of_loading_raw")
	out.PortOfDischarge, _ = spec.First(raw.Fields, "port_of_discharge_raw")
	if teuRaw, ok := spec.First(raw.Fields, "teu_raw"); ok {
		if teu, ok := ParseFloatLoose(teuRaw); ok {
			out.TEU = &teu
		}
	}

	return out, nil
}

func pick(v string, ok bool, fallback string) string {
	if ok && v != "" {
		return v
	}
	return fallback
}

// parseDates populates shipment_date from the first non-null of
// shipment_date, export_date, import_date, per spec.md §4.2.
func parseDates(fields *model.Bag, spec *mapping.Spec) (shipment, export, imp *time.Time) {
	parse := func(canonical string) *time.Time {
		raw, ok := spec.First(fields, canonical)
		if !ok {
			return nil
		}
		if t, ok := ParseDate(raw, spec.DateFormats); ok {
			return &t
		}
		return nil
	}

	shipRaw := parse("shipment_date_raw")
	export = parse("export_date_raw")
	imp = parse("import_date_raw")

	switch {
	case shipRaw != nil:
		shipment = shipRaw
	case export != nil:
		shipment = export
	case imp != nil:
		shipment = imp
	}
	return shipment, export, imp
}
