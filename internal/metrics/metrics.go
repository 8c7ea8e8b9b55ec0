package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fissure_samples_loaded_total",
			Help: "Total sensor samples kept after load filtering",
		},
		[]string{"format"},
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fissure_samples_rejected_total",
			Help: "Total raw records dropped while loading",
		},
		[]string{"reason"},
	)

	DaysAnalyzed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fissure_days_analyzed_total",
			Help: "Total calendar days run through the daily statistics engine",
		},
	)

	DaysSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fissure_days_skipped_total",
			Help: "Days that produced no result for a stage",
		},
		[]string{"stage", "reason"},
	)

	ExtremaEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fissure_extrema_events_total",
			Help: "Total max-then-min events emitted",
		},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fissure_analysis_duration_seconds",
			Help:    "Wall time of a full analysis pipeline run",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fissure_fetch_attempts_total",
			Help: "Remote measurement file retrieval attempts",
		},
		[]string{"status"},
	)

	FetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fissure_fetch_latency_seconds",
			Help:    "Remote measurement file retrieval latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// WriteTextfile dumps the default registry for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
