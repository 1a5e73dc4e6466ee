package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_etl_runs_total",
			Help: "Pipeline runs by final status and error kind",
		},
		[]string{"status", "kind"},
	)

	attemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weather_etl_run_attempts_total",
			Help: "Pipeline attempts including retries",
		},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weather_etl_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"stage", "status"},
	)

	stageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_etl_stage_errors_total",
			Help: "Stage failures by error kind",
		},
		[]string{"stage", "kind"},
	)

	rowsLoadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weather_etl_rows_loaded_total",
			Help: "Rows inserted into the destination table",
		},
	)

	lastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weather_etl_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		},
	)
)

// ObserveStage records one stage execution. kind is empty on success.
func ObserveStage(stage, kind string, d time.Duration) {
	status := "success"
	if kind != "" {
		status = "failure"
		stageErrorsTotal.WithLabelValues(stage, kind).Inc()
	}
	stageDurationSeconds.WithLabelValues(stage, status).Observe(d.Seconds())
}

// ObserveAttempt counts one pipeline attempt.
func ObserveAttempt() {
	attemptsTotal.Inc()
}

// ObserveRun records the final outcome of a run. kind is empty on success.
func ObserveRun(kind string) {
	if kind == "" {
		runsTotal.WithLabelValues("success", "").Inc()
		lastSuccessTimestamp.SetToCurrentTime()
		return
	}
	runsTotal.WithLabelValues("failed", kind).Inc()
}

// RowLoaded counts one inserted row.
func RowLoaded() {
	rowsLoadedTotal.Inc()
}
