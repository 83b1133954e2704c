// Package analytics implements S6, the Profile/Corridor/Lane Builders:
// incremental aggregation of the ledger into buyer/exporter profiles,
// price corridors, and lane stats, per spec.md §4.6.
package analytics

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
)

// Persona thresholds, spec.md §4.6.
const (
	PersonaWhaleMinUSD = 1_000_000.0
	PersonaMidMinUSD   = 100_000.0
	PersonaValueMinUSD = 10_000.0
	PersonaNewMaxShipments = 2
)

// BuyerProfile is the grain (buyer_uuid, destination_country) aggregate.
type BuyerProfile struct {
	BuyerUUID          uuid.UUID
	DestinationCountry string

	Shipments int64
	ValueUSD  float64
	WeightKg  float64
	UniqueHS6 int
	TopHS6    []string
	TopSuppliers []string
	YoYGrowth    float64
	Persona      string
}

// Persona labels a buyer by total USD value and shipment count, per
// spec.md §4.6's threshold table. A buyer with at most
// PersonaNewMaxShipments shipments is New whatever its value; otherwise
// the value thresholds are checked in descending order (Whale, Mid,
// Value), falling back to Small.
func Persona(totalValueUSD float64, shipments int64) string {
	if shipments <= PersonaNewMaxShipments {
		return "New"
	}
	switch {
	case totalValueUSD >= PersonaWhaleMinUSD:
		return "Whale"
	case totalValueUSD >= PersonaMidMinUSD:
		return "Mid"
	case totalValueUSD >= PersonaValueMinUSD:
		return "Value"
	default:
		return "Small"
	}
}

// BuildBuyerProfile recomputes one buyer's profile from scratch over the
// facts attributed to it, plus the prior year's value for YoY growth.
func BuildBuyerProfile(buyerUUID uuid.UUID, destCountry string, facts []*model.LedgerFact, priorYearValueUSD float64) *BuyerProfile {
	p := &BuyerProfile{BuyerUUID: buyerUUID, DestinationCountry: destCountry}

	hs6Counts := map[string]int64{}
	supplierCounts := map[uuid.UUID]int64{}

	for _, f := range facts {
		p.Shipments++
		if f.CustomsValueUSD != nil {
			p.ValueUSD += *f.CustomsValueUSD
		}
		if f.QtyKg != nil {
			p.WeightKg += *f.QtyKg
		}
		hs6Counts[f.HSCode6]++
		if f.SupplierUUID != nil {
			supplierCounts[*f.SupplierUUID]++
		}
	}

	p.UniqueHS6 = len(hs6Counts)
	p.TopHS6 = topNKeys(hs6Counts, 5)
	p.TopSuppliers = topNUUIDKeys(supplierCounts, 5)

	if priorYearValueUSD > 0 {
		p.YoYGrowth = (p.ValueUSD - priorYearValueUSD) / priorYearValueUSD
	}
	p.Persona = Persona(p.ValueUSD, p.Shipments)
	return p
}

// ExporterProfile is the symmetric grain (supplier_uuid, origin_country)
// aggregate, with an added stability score.
type ExporterProfile struct {
	SupplierUUID  uuid.UUID
	OriginCountry string

	Shipments    int64
	ValueUSD     float64
	WeightKg     float64
	UniqueHS6    int
	TopHS6       []string
	TopBuyers    []string
	YoYGrowth    float64
	StabilityScore float64// 0-100: months-active half + inverse-variance half
}

// MonthsActiveScore is the first 0-50 half of the stability score: the
// fraction of the trailing 12 months with at least one shipment.
func MonthsActiveScore(monthlyShipments [12]int64) float64 {
	active := 0
	for _, c := range monthlyShipments {
		if c > 0 {
			active++
		}
	}
	return float64(active) / 12.0 * 50.0
}

// VarianceStabilityScore is the second 0-50 half: higher when monthly
// shipment counts are more consistent (lower coefficient of variation).
func VarianceStabilityScore(monthlyShipments [12]int64) float64 {
	var sum float64
	for _, c := range monthlyShipments {
		sum += float64(c)
	}
	mean := sum / 12.0
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, c := range monthlyShipments {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= 12.0
	cv := math.Sqrt(variance) / mean
	// Map coefficient of variation in [0, +inf) to a 0-50 score: cv=0 is
	// perfectly stable (50), cv>=1 floors to 0.
	score := 50.0 * (1 - math.Min(cv, 1))
	if score < 0 {
		return 0
	}
	return score
}

func BuildExporterProfile(supplierUUID uuid.UUID, originCountry string, facts []*model.LedgerFact, priorYearValueUSD float64, monthlyShipments [12]int64) *ExporterProfile {
	p := &ExporterProfile{SupplierUUID: supplierUUID, OriginCountry: originCountry}

	hs6Counts := map[string]int64{}
	buyerCounts := map[uuid.UUID]int64{}

	for _, f := range facts {
		p.Shipments++
		if f.CustomsValueUSD != nil {
			p.ValueUSD += *f.CustomsValueUSD
		}
		if f.QtyKg != nil {
			p.WeightKg += *f.QtyKg
		}
		hs6Counts[f.HSCode6]++
		if f.BuyerUUID != nil {
			buyerCounts[*f.BuyerUUID]++
		}
	}

	p.UniqueHS6 = len(hs6Counts)
	p.TopHS6 = topNKeys(hs6Counts, 5)
	p.TopBuyers = topNUUIDKeys(buyerCounts, 5)
	if priorYearValueUSD > 0 {
		p.YoYGrowth = (p.ValueUSD - priorYearValueUSD) / priorYearValueUSD
	}
	p.StabilityScore = MonthsActiveScore(monthlyShipments) + VarianceStabilityScore(monthlyShipments)
	return p
}

func topNKeys(counts map[string]int64, n int) []string {
	type kv struct {
		k string
		v int64
	}
	items := make([]kv, 0, len(counts))
	for k, v := range counts {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v != items[j].v {
			return items[i].v > items[j].v
		}
		return items[i].k < items[j].k
	})
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.k
	}
	return out
}

func topNUUIDKeys(counts map[uuid.UUID]int64, n int) []string {
	strCounts := make(map[string]int64, len(counts))
	for k, v := range counts {
		strCounts[k.String()] = v
	}
	return topNKeys(strCounts, n)
}
