package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_runs_total",
			Help: "Total number of code run requests by aggregate status",
		},
		[]string{"language", "status"},
	)

	FailureReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_failure_reasons_total",
			Help: "Fine-grained failure reason tags (telemetry only)",
		},
		[]string{"language", "reason"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_stage_duration_seconds",
			Help:    "Wall-clock duration per execution stage",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"language", "stage"}, // stage: "compile", "run", "total"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_queue_depth",
			Help: "Current number of jobs waiting in the queue",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_active_workers",
			Help: "Number of workers currently executing jobs",
		},
	)

	NotebookCells = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_notebook_cells_total",
			Help: "Total number of notebook cells executed",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
