package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

const DefaultLookback = 7 * 24 * time.Hour

// Store is the S6 persistence seam. One Store implementation backs all
// three builders; each job name gets its own watermark row.
type Store interface {
	GetWatermark(ctx context.Context, job string) (*model.Watermark, error)
	SetWatermark(ctx context.Context, job string, upTo time.Time) error

	// FactsSince returns every LedgerFact with shipment_date >= since,
	// for the builder identified by job to aggregate over.
	FactsSince(ctx context.Context, job string, since time.Time) ([]*model.LedgerFact, error)

	UpsertBuyerProfiles(ctx context.Context, profiles []*BuyerProfile) error
	UpsertExporterProfiles(ctx context.Context, profiles []*ExporterProfile) error
	UpsertPriceCorridors(ctx context.Context, corridors []PriceCorridor) error
	UpsertLaneStats(ctx context.Context, stats []LaneStats) error

	// PriorYearBuyerValueUSD/PriorYearSupplierValueUSD support
	// year-over-year growth: total value for
	// entity in the year preceding asOf.
	PriorYearBuyerValueUSD(ctx context.Context, buyerUUID, destCountry string, asOf time.Time) (float64, error)
	PriorYearSupplierValueUSD(ctx context.Context, supplierUUID, originCountry string, asOf time.Time) (float64, error)
	// MonthlyShipmentCounts returns the trailing 12 monthly shipment
	// counts for a supplier, most-recent last.
	MonthlyShipmentCounts(ctx context.Context, supplierUUID, originCountry string, asOf time.Time) ([12]int64, error)
}

const (
	JobBuyerProfile    = "buyer_profile"
	JobExporterProfile = "exporter_profile"
	JobPriceCorridor   = "price_corridor"
	JobLaneStats       = "lane_stats"
)

// watermarkSince computes the incremental window start: the stored
// watermark minus the lookback, or the zero time if none yet recorded.
func watermarkSince(wm *model.Watermark, lookback time.Duration) time.Time {
	if wm == nil {
		return time.Time{}
	}
	return wm.UpTo.Add(-lookback)
}

// RunBuyerProfiles recomputes buyer profiles for every buyer/destination
// pair touched since the watermark, grouping facts in-process.
func RunBuyerProfiles(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, lookback time.Duration, now time.Time) error {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	wm, err := store.GetWatermark(ctx, JobBuyerProfile)
	if err != nil {
		return fmt.Errorf("failed to read buyer profile watermark: %w", err)
	}
	since := watermarkSince(wm, lookback)

	facts, err := store.FactsSince(ctx, JobBuyerProfile, since)
	if err != nil {
		return fmt.Errorf("failed to fetch facts for buyer profiles: %w", err)
	}

	type key struct {
		buyer string
		dest  string
	}
	grouped := map[key][]*model.LedgerFact{}
	for _, f := range facts {
		run.AddProcessed(1)
		if f.BuyerUUID == nil {
			run.AddSkipped(1)
			continue
		}
		k := key{buyer: f.BuyerUUID.String(), dest: f.DestinationCountry}
		grouped[k] = append(grouped[k], f)
	}

	profiles := make([]*BuyerProfile, 0, len(grouped))
	for k, group := range grouped {
		prior, err := store.PriorYearBuyerValueUSD(ctx, k.buyer, k.dest, now)
		if err != nil {
			return fmt.Errorf("failed to fetch prior-year buyer value: %w", err)
		}
		p := BuildBuyerProfile(*group[0].BuyerUUID, k.dest, group, prior)
		profiles = append(profiles, p)
	}

	if err := store.UpsertBuyerProfiles(ctx, profiles); err != nil {
		return fmt.Errorf("failed to upsert buyer profiles: %w", err)
	}
	run.AddUpdated(int64(len(profiles)))

	if err := store.SetWatermark(ctx, JobBuyerProfile, now); err != nil {
		return fmt.Errorf("failed to advance buyer profile watermark: %w", err)
	}
	log.Info().Int("profiles", len(profiles)).Msg("buyer profiles recomputed")
	return nil
}

// RunExporterProfiles is the symmetric builder for (supplier_uuid, origin_country).
func RunExporterProfiles(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, lookback time.Duration, now time.Time) error {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	wm, err := store.GetWatermark(ctx, JobExporterProfile)
	if err != nil {
		return fmt.Errorf("failed to read exporter profile watermark: %w", err)
	}
	since := watermarkSince(wm, lookback)

	facts, err := store.FactsSince(ctx, JobExporterProfile, since)
	if err != nil {
		return fmt.Errorf("failed to fetch facts for exporter profiles: %w", err)
	}

	type key struct {
		supplier string
		origin   string
	}
	grouped := map[key][]*model.LedgerFact{}
	for _, f := range facts {
		run.AddProcessed(1)
		if f.SupplierUUID == nil {
			run.AddSkipped(1)
			continue
		}
		k := key{supplier: f.SupplierUUID.String(), origin: f.OriginCountry}
		grouped[k] = append(grouped[k], f)
	}

	profiles := make([]*ExporterProfile, 0, len(grouped))
	for k, group := range grouped {
		prior, err := store.PriorYearSupplierValueUSD(ctx, k.supplier, k.origin, now)
		if err != nil {
			return fmt.Errorf("failed to fetch prior-year supplier value: %w", err)
		}
		monthly, err := store.MonthlyShipmentCounts(ctx, k.supplier, k.origin, now)
		if err != nil {
			return fmt.Errorf("failed to fetch monthly shipment counts: %w", err)
		}
		p := BuildExporterProfile(*group[0].SupplierUUID, k.origin, group, prior, monthly)
		profiles = append(profiles, p)
	}

	if err := store.UpsertExporterProfiles(ctx, profiles); err != nil {
		return fmt.Errorf("failed to upsert exporter profiles: %w", err)
	}
	run.AddUpdated(int64(len(profiles)))

	if err := store.SetWatermark(ctx, JobExporterProfile, now); err != nil {
		return fmt.Errorf("failed to advance exporter profile watermark: %w", err)
	}
	log.Info().Int("profiles", len(profiles)).Msg("exporter profiles recomputed")
	return nil
}

// RunPriceCorridors recomputes the (hs6, dest, year, month, direction,
// reporting_country) price corridor grain.
func RunPriceCorridors(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, lookback time.Duration, now time.Time) error {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	wm, err := store.GetWatermark(ctx, JobPriceCorridor)
	if err != nil {
		return fmt.Errorf("failed to read price corridor watermark: %w", err)
	}
	since := watermarkSince(wm, lookback)

	facts, err := store.FactsSince(ctx, JobPriceCorridor, since)
	if err != nil {
		return fmt.Errorf("failed to fetch facts for price corridors: %w", err)
	}

	type key struct {
		hs6, dest, direction, reporting string
		year, month                     int
	}
	prices := map[key][]float64{}
	for _, f := range facts {
		run.AddProcessed(1)
		if f.PriceUSDPerKg == nil || *f.PriceUSDPerKg <= 0 || f.QtyKg == nil || *f.QtyKg <= 0 {
			run.AddSkipped(1)
			continue
		}
		k := key{hs6: f.HSCode6, dest: f.DestinationCountry, direction: string(f.Direction), reporting: f.ReportingCountry, year: f.Year, month: f.Month}
		prices[k] = append(prices[k], *f.PriceUSDPerKg)
	}

	corridors := make([]PriceCorridor, 0, len(prices))
	for k, sample := range prices {
		base := PriceCorridor{HSCode6: k.hs6, DestinationCountry: k.dest, Year: k.year, Month: k.month, Direction: k.direction, ReportingCountry: k.reporting}
		corridor, ok := BuildPriceCorridor(base, sample)
		if !ok {
			continue
		}
		corridors = append(corridors, corridor)
	}

	if err := store.UpsertPriceCorridors(ctx, corridors); err != nil {
		return fmt.Errorf("failed to upsert price corridors: %w", err)
	}
	run.AddUpdated(int64(len(corridors)))

	if err := store.SetWatermark(ctx, JobPriceCorridor, now); err != nil {
		return fmt.Errorf("failed to advance price corridor watermark: %w", err)
	}
	log.Info().Int("corridors", len(corridors)).Msg("price corridors recomputed")
	return nil
}

// RunLaneStats recomputes the (origin, dest, hs6) lane grain.
func RunLaneStats(ctx context.Context, log *obslog.Stage, run *pipeline.Run, store Store, lookback time.Duration, now time.Time) error {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	wm, err := store.GetWatermark(ctx, JobLaneStats)
	if err != nil {
		return fmt.Errorf("failed to read lane stats watermark: %w", err)
	}
	since := watermarkSince(wm, lookback)

	facts, err := store.FactsSince(ctx, JobLaneStats, since)
	if err != nil {
		return fmt.Errorf("failed to fetch facts for lane stats: %w", err)
	}

	type key struct {
		origin, dest, hs6 string
	}
	grouped := map[key][]*model.LedgerFact{}
	for _, f := range facts {
		run.AddProcessed(1)
		k := key{origin: f.OriginCountry, dest: f.DestinationCountry, hs6: f.HSCode6}
		grouped[k] = append(grouped[k], f)
	}

	stats := make([]LaneStats, 0, len(grouped))
	for k, group := range grouped {
		stats = append(stats, BuildLaneStats(k.origin, k.dest, k.hs6, 0, group))
	}

	if err := store.UpsertLaneStats(ctx, stats); err != nil {
		return fmt.Errorf("failed to upsert lane stats: %w", err)
	}
	run.AddUpdated(int64(len(stats)))

	if err := store.SetWatermark(ctx, JobLaneStats, now); err != nil {
		return fmt.Errorf("failed to advance lane stats watermark: %w", err)
	}
	log.Info().Int("lanes", len(stats)).Msg("lane stats recomputed")
	return nil
}
