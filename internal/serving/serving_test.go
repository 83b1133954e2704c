package serving

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

type fakeStore struct {
	summary Summary
	refreshed Summary
	stages    []string
	runs      map[string]RunStatusView
	viewsWritten []RunStatusView
}

func (f *fakeStore) ComputeSummary(ctx context.Context) (Summary, error) { return f.summary, nil }
func (f *fakeStore) RefreshSummary(ctx context.Context, s Summary) error {
	f.refreshed = s
	return nil
}
func (f *fakeStore) StageNames(ctx context.Context) ([]string, error) { return f.stages, nil }
func (f *fakeStore) LastRun(ctx context.Context, stage string) (RunStatusView, error) {
	return f.runs[stage], nil
}
func (f *fakeStore) RefreshRunStatusView(ctx context.Context, views []RunStatusView) error {
	f.viewsWritten = views
	return nil
}

type fakeRunStore struct{}

func (fakeRunStore) StartRun(ctx context.Context, run *model.PipelineRun) error  { return nil }
func (fakeRunStore) FinishRun(ctx context.Context, run *model.PipelineRun) error { return nil }
func (fakeRunStore) RunningCount(ctx context.Context, stage string) (int, error) { return 0, nil }

func TestRefreshWritesSummaryAndViews(t *testing.T) {
	store := &fakeStore{
		summary: Summary{TotalShipments: 42, TotalValueUSD: 1000},
		stages:  []string{"ingest", "standardize"},
		runs: map[string]RunStatusView{
			"ingest":      {Stage: "ingest", LastStatus: "SUCCESS"},
			"standardize": {Stage: "standardize", LastStatus: "PARTIAL"},
		},
	}

	log := obslog.NewStage("serving", uuid.New())
	run, err := pipeline.Start(context.Background(), fakeRunStore{}, "serving", nil)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Refresh(context.Background(), log, run, store, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.refreshed.TotalShipments != 42 {
		t.Errorf("expected summary to carry through, got %+v", store.refreshed)
	}
	if store.refreshed.RefreshedAt != now {
		t.Errorf("expected RefreshedAt stamped, got %v", store.refreshed.RefreshedAt)
	}
	if len(store.viewsWritten) != 2 {
		t.Fatalf("expected 2 stage views written, got %d", len(store.viewsWritten))
	}
}
