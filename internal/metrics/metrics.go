// Package metrics exposes the per-stage Prometheus counters, grounded on
// contract-data-processor/consumer/postgresql/metrics.go and
// bronze-silver-transformer's client_golang wiring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_rows_processed_total",
		Help: "Rows processed per stage.",
	}, []string{"stage"})

	RowsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_rows_created_total",
		Help: "Rows created per stage.",
	}, []string{"stage"})

	RowsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_rows_skipped_total",
		Help: "Rows skipped per stage, labeled by reason.",
	}, []string{"stage", "reason"})

	ChunkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeledger_chunk_duration_seconds",
		Help:    "Wall time to process one chunk.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_pipeline_runs_total",
		Help: "Pipeline run terminal outcomes.",
	}, []string{"stage", "status"})
)

func init() {
	prometheus.MustRegister(RowsProcessed, RowsCreated, RowsSkipped, ChunkDuration, RunsTotal)
}

// Handler returns the /metrics HTTP handler for the health server.
func Handler() http.Handler {
	return promhttp.Handler()
}
