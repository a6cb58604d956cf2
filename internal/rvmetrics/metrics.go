// Package rvmetrics exposes a prometheus registry and /health, /ready,
// /live handlers in the teacher's shape (pkg/metrics/metrics.go,
// pkg/metrics/health.go), scoped to this service's own counters instead of
// cluster/scheduler ones.
package rvmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rivault_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rivault_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	ChunksStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rivault_chunks_stored_total",
			Help: "Total chunks accepted by append_chunk",
		},
	)

	BytesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rivault_bytes_stored",
			Help: "Aggregate plaintext bytes currently stored across all users",
		},
	)

	ActiveUserActors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rivault_active_user_actors",
			Help: "Number of per-user metadata actors currently open",
		},
	)

	OrphanedChunksSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rivault_orphaned_chunks_swept_total",
			Help: "Total blob references removed by SweepOrphans",
		},
	)

	FileCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rivault_file_count",
			Help: "Aggregate file_count across all users' stats",
		},
	)

	FolderCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rivault_folder_count",
			Help: "Aggregate folder_count across all users' stats",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ChunksStoredTotal,
		BytesStored,
		ActiveUserActors,
		OrphanedChunksSwept,
		FileCount,
		FolderCount,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing one request.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveSeconds(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
