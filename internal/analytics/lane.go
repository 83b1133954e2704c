package analytics

import (
	"github.com/obsrvr/tradeledger/internal/model"
)

// LaneStats is the grain (origin_country, destination_country, hs_code_6)
// aggregate, optionally further sliced per month, per spec.md §4.6.
type LaneStats struct {
	OriginCountry      string
	DestinationCountry string
	HSCode6            string
	Month              int // 0 means not sliced by month

	Shipments   int64
	ValueUSD    float64
	TEU         float64
	TopCarriers []string
}

// BuildLaneStats folds a set of facts already filtered to one lane (and
// optionally one month) into its summary.
func BuildLaneStats(origin, dest, hs6 string, month int, facts []*model.LedgerFact) LaneStats {
	l := LaneStats{OriginCountry: origin, DestinationCountry: dest, HSCode6: hs6, Month: month}

	carrierCounts := map[string]int64{}
	for _, f := range facts {
		l.Shipments++
		if f.CustomsValueUSD != nil {
			l.ValueUSD += *f.CustomsValueUSD
		}
		if f.TEU != nil {
			l.TEU += *f.TEU
		}
		if f.VesselName != "" {
			carrierCounts[f.VesselName]++
		}
	}
	l.TopCarriers = topNKeys(carrierCounts, 5)
	return l
}
