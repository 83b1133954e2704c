package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRowsProcessedIncrements(t *testing.T) {
	RowsProcessed.WithLabelValues("test_stage").Add(5)
	got := testutil.ToFloat64(RowsProcessed.WithLabelValues("test_stage"))
	if got < 5 {
		t.Errorf("expected at least 5 rows processed, got %v", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	if Handler() == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
}
