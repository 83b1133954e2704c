// Package risk implements S7, the Risk Engine: rule-based risk opinions
// for shipments and buyers written to a sidecar table, never mutating
// facts, per spec.md §4.7.
package risk

import (
	"math"

	"github.com/obsrvr/tradeledger/internal/analytics"
	"github.com/obsrvr/tradeledger/internal/model"
)

const (
	ReasonUnderInvoice = "UNDER_INVOICE"
	ReasonOverInvoice  = "OVER_INVOICE"
	ReasonWeirdLane    = "WEIRD_LANE"
	ReasonGhostEntity  = "GHOST_ENTITY"
	ReasonVolumeSpike  = "VOLUME_SPIKE"
	ReasonFreeEmail    = "FREE_EMAIL"

	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
	SeverityMedium   = "MEDIUM"
)

// freeWebmailDomains is the closed list behind the FREE_EMAIL rule.
var freeWebmailDomains = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true,
	"outlook.com": true, "aol.com": true, "icloud.com": true,
}

// UnderOverInvoice computes the UNDER_INVOICE/OVER_INVOICE rules for one
// shipment against its matching price corridor, per spec.md §4.7.
// Returns nil if neither rule fires (|z| < 2).
func UnderOverInvoice(priceUSDPerKg float64, corridor analytics.PriceCorridor) *model.RiskReason {
	z, ok := corridor.ZScore(priceUSDPerKg)
	if !ok {
		return nil
	}

	switch {
	case z <= -2:
		return &model.RiskReason{
			Code:     ReasonUnderInvoice,
			Severity: severityForZ(z),
			Score:    scoreForZ(z),
			Context:  map[string]any{"z_score": z, "corridor_mean": corridor.Mean, "corridor_stddev": corridor.StdDev},
		}
	case z >= 2:
		return &model.RiskReason{
			Code:     ReasonOverInvoice,
			Severity: severityForZ(z),
			Score:    scoreForZ(z),
			Context:  map[string]any{"z_score": z, "corridor_mean": corridor.Mean, "corridor_stddev": corridor.StdDev},
		}
	default:
		return nil
	}
}

func scoreForZ(z float64) float64 {
	return 50 + math.Min(40, 10*math.Abs(z))
}

func severityForZ(z float64) string {
	abs := math.Abs(z)
	switch {
	case abs >= 5:
		return SeverityCritical
	case abs >= 3:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// WeirdLane fires when a lane's own shipment count is small but the
// global HS6 shipment count is large, suggesting an unusual routing.
func WeirdLane(laneShipments, globalHS6Shipments int64) *model.RiskReason {
	if laneShipments > 3 || globalHS6Shipments < 50 {
		return nil
	}
	// Linear interpolation 40-60 as lane count falls 3->0.
	score := 60 - float64(laneShipments)*(20.0/3.0)
	return &model.RiskReason{
		Code:     ReasonWeirdLane,
		Severity: SeverityMedium,
		Score:    score,
		Context:  map[string]any{"lane_shipments": laneShipments, "global_hs6_shipments": globalHS6Shipments},
	}
}

// GhostEntity fires for a high-value buyer with no website-present signal.
func GhostEntity(totalValueUSD float64, websitePresent bool) *model.RiskReason {
	if websitePresent || totalValueUSD < 500_000 {
		return nil
	}
	// Scales 45 at threshold up toward 70 as value grows past 2x threshold.
	over := totalValueUSD / 500_000
	score := math.Min(70, 45+(over-1)*25)
	return &model.RiskReason{
		Code:     ReasonGhostEntity,
		Severity: SeverityMedium,
		Score:    score,
		Context:  map[string]any{"total_value_usd": totalValueUSD},
	}
}

// VolumeSpike fires when a buyer's monthly shipment count z-scores above
// 2, or month-over-month growth is at least 200%.
func VolumeSpike(currentMonthCount int64, monthlyMean, monthlyStdDev float64, priorMonthCount int64) *model.RiskReason {
	var z float64
	zOK := monthlyStdDev > 0
	if zOK {
		z = (float64(currentMonthCount) - monthlyMean) / monthlyStdDev
	}

	var momGrowth float64
	momOK := priorMonthCount > 0
	if momOK {
		momGrowth = (float64(currentMonthCount) - float64(priorMonthCount)) / float64(priorMonthCount)
	}

	triggered := (zOK && z > 2) || (momOK && momGrowth >= 2.0)
	if !triggered {
		return nil
	}

	score := 30.0
	if zOK && z > 2 {
		score = math.Max(score, math.Min(70, 30+(z-2)*10))
	}
	if momOK && momGrowth >= 2.0 {
		score = math.Max(score, math.Min(70, 30+(momGrowth-2)*15))
	}

	return &model.RiskReason{
		Code:     ReasonVolumeSpike,
		Severity: SeverityMedium,
		Score:    score,
		Context:  map[string]any{"z_score": z, "mom_growth": momGrowth, "current_month_count": currentMonthCount},
	}
}

// FreeEmail fires for a high-volume buyer whose observed contact email
// domains are entirely within the closed free-webmail list.
func FreeEmail(highVolume bool, observedDomains []string) *model.RiskReason {
	if !highVolume || len(observedDomains) == 0 {
		return nil
	}
	for _, d := range observedDomains {
		if !freeWebmailDomains[d] {
			return nil
		}
	}
	return &model.RiskReason{
		Code:     ReasonFreeEmail,
		Severity: SeverityMedium,
		Score:    35,
		Context:  map[string]any{"domains": observedDomains},
	}
}

// Composite is the max-score-across-rules aggregate for one (entity, scope).
func Composite(reasons []model.RiskReason) (score float64, main string) {
	for _, r := range reasons {
		if r.Score > score {
			score = r.Score
			main = r.Code
		}
	}
	return score, main
}

// Level buckets a composite score into spec.md §4.7's risk levels.
func Level(score float64) model.RiskLevel {
	switch {
	case score >= 80:
		return model.RiskCritical
	case score >= 60:
		return model.RiskHigh
	case score >= 40:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}
