package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/obsrvr/tradeledger/internal/analytics"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

const EngineVersion = "v1"

const DefaultLookback = 7 * 24 * time.Hour

// ShipmentContext bundles everything a shipment-scope rule pass needs for
// one fact beyond the fact itself.
type ShipmentContext struct {
	Fact               *model.LedgerFact
	Corridor           analytics.PriceCorridor
	HasCorridor        bool
	LaneShipments      int64
	GlobalHS6Shipments int64
}

// BuyerContext bundles everything a buyer-scope rule pass needs.
type BuyerContext struct {
	BuyerUUID         string
	TotalValueUSD     float64
	WebsitePresent    bool
	CurrentMonthCount int64
	MonthlyMean       float64
	MonthlyStdDev     float64
	PriorMonthCount   int64
	HighVolume        bool
	ObservedDomains   []string
}

// Store is the S7 persistence seam. The history-archive-on-update
// semantics spec.md §4.7 assigns to a DB trigger are the store's job:
// UpsertOpinion must archive the prior row for (entity_type, entity_id,
// scope_key) to history before writing the new engine_version row.
type Store interface {
	ShipmentContexts(ctx context.Context, since time.Time) ([]ShipmentContext, error)
	BuyerContexts(ctx context.Context, since time.Time) ([]BuyerContext, error)
	UpsertOpinion(ctx context.Context, opinion *model.RiskOpinion) error

	GetWatermark(ctx context.Context, job string) (*model.Watermark, error)
	SetWatermark(ctx context.Context, job string, upTo time.Time) error
}

const (
	JobShipmentRisk = "risk_shipment"
	JobBuyerRisk    = "risk_buyer"
)

// ScoreShipment runs every shipment-scope rule against one context and
// returns the composite opinion, or nil if no rule fired.
func ScoreShipment(c ShipmentContext, now time.Time) *model.RiskOpinion {
	var reasons []model.RiskReason

	if c.HasCorridor && c.Fact.PriceUSDPerKg != nil {
		if r := UnderOverInvoice(*c.Fact.PriceUSDPerKg, c.Corridor); r != nil {
			reasons = append(reasons, *r)
		}
	}
	if r := WeirdLane(c.LaneShipments, c.GlobalHS6Shipments); r != nil {
		reasons = append(reasons, *r)
	}
	if len(reasons) == 0 {
		return nil
	}

	score, main := Composite(reasons)
	return &model.RiskOpinion{
		EntityType:    "SHIPMENT",
		EntityID:      c.Fact.TransactionID,
		ScopeKey:      fmt.Sprintf("%s:%d", c.Fact.HSCode6, c.Fact.Year),
		EngineVersion: EngineVersion,
		Score:         score,
		Level:         Level(score),
		MainReason:    main,
		Reasons:       reasons,
		Confidence:    confidenceFor(reasons),
		ComputedAt:    now,
	}
}

// ScoreBuyer runs every buyer-scope rule against one context.
func ScoreBuyer(c BuyerContext, now time.Time) *model.RiskOpinion {
	var reasons []model.RiskReason

	if r := GhostEntity(c.TotalValueUSD, c.WebsitePresent); r != nil {
		reasons = append(reasons, *r)
	}
	if r := VolumeSpike(c.CurrentMonthCount, c.MonthlyMean, c.MonthlyStdDev, c.PriorMonthCount); r != nil {
		reasons = append(reasons, *r)
	}
	if r := FreeEmail(c.HighVolume, c.ObservedDomains); r != nil {
		reasons = append(reasons, *r)
	}
	if len(reasons) == 0 {
		return nil
	}

	score, main := Composite(reasons)
	return &model.RiskOpinion{
		EntityType:    "BUYER",
		EntityID:      c.BuyerUUID,
		ScopeKey:      "global",
		EngineVersion: EngineVersion,
		Score:         score,
		Level:         Level(score),
		MainReason:    main,
		Reasons:       reasons,
		Confidence:    confidenceFor(reasons),
		ComputedAt:    now,
	}
}

// confidenceFor is higher when multiple independent rules agree.
func confidenceFor(reasons []model.RiskReason) float64 {
	switch len(reasons) {
	case 0:
		return 0
	case 1:
		return 0.7
	default:
		return 0.9
	}
}

// RunShipmentRisk scores every shipment fact touched since the watermark
// (minus lookback) and upserts opinions for those where a rule fired.
func RunShipmentRisk(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, lookback time.Duration, now time.Time) error {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	wm, err := store.GetWatermark(ctx, JobShipmentRisk)
	if err != nil {
		return fmt.Errorf("failed to read shipment risk watermark: %w", err)
	}
	since := time.Time{}
	if wm != nil {
		since = wm.UpTo.Add(-lookback)
	}

	contexts, err := store.ShipmentContexts(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to fetch shipment risk contexts: %w", err)
	}

	var written int64
	for _, c := range contexts {
		run.AddProcessed(1)
		opinion := ScoreShipment(c, now)
		if opinion == nil {
			continue
		}
		if err := store.UpsertOpinion(ctx, opinion); err != nil {
			return fmt.Errorf("failed to upsert shipment risk opinion: %w", err)
		}
		written++
	}
	run.AddUpdated(written)

	if err := store.SetWatermark(ctx, JobShipmentRisk, now); err != nil {
		return fmt.Errorf("failed to advance shipment risk watermark: %w", err)
	}
	log.Info().Int64("opinions_written", written).Int("contexts", len(contexts)).Msg("shipment risk pass complete")
	return nil
}

// RunBuyerRisk is the symmetric pass over buyer-scope contexts.
func RunBuyerRisk(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, lookback time.Duration, now time.Time) error {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	wm, err := store.GetWatermark(ctx, JobBuyerRisk)
	if err != nil {
		return fmt.Errorf("failed to read buyer risk watermark: %w", err)
	}
	since := time.Time{}
	if wm != nil {
		since = wm.UpTo.Add(-lookback)
	}

	contexts, err := store.BuyerContexts(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to fetch buyer risk contexts: %w", err)
	}

	var written int64
	for _, c := range contexts {
		run.AddProcessed(1)
		opinion := ScoreBuyer(c, now)
		if opinion == nil {
			continue
		}
		if err := store.UpsertOpinion(ctx, opinion); err != nil {
			return fmt.Errorf("failed to upsert buyer risk opinion: %w", err)
		}
		written++
	}
	run.AddUpdated(written)

	if err := store.SetWatermark(ctx, JobBuyerRisk, now); err != nil {
		return fmt.Errorf("failed to advance buyer risk watermark: %w", err)
	}
	log.Info().Int64("opinions_written", written).Int("contexts", len(contexts)).Msg("buyer risk pass complete")
	return nil
}
