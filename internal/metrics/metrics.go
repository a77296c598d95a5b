// Package metrics declares the Prometheus collectors of the optimizer and
// the observer that feeds them from batch runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-file metrics
var (
	FilesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_optimizer_files_processed_total",
			Help: "Total number of files processed, by media kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	FileErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_optimizer_file_errors_total",
			Help: "Total number of failed files, by media kind and error kind",
		},
		[]string{"kind", "error_kind"},
	)

	TargetMissedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_optimizer_target_missed_total",
			Help: "Files left above their size target",
		},
		[]string{"kind"},
	)

	BytesSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_optimizer_bytes_saved_total",
			Help: "Bytes removed from disk by recompression",
		},
		[]string{"kind"},
	)

	FileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portfolio_optimizer_file_duration_seconds",
			Help:    "Time spent compressing a single file",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"kind"},
	)

	ImageQuality = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolio_optimizer_image_quality",
			Help:    "Final JPEG quality of re-encoded images",
			Buckets: prometheus.LinearBuckets(40, 5, 12),
		},
	)

	VideoBitrateKbps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolio_optimizer_video_bitrate_kbps",
			Help:    "Target video bitrate used for re-encodes",
			Buckets: prometheus.ExponentialBuckets(250, 2, 8),
		},
	)
)

// Run metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_optimizer_runs_total",
			Help: "Total number of batch runs, by mode and status",
		},
		[]string{"mode", "status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolio_optimizer_run_duration_seconds",
			Help:    "Duration of a batch run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	RunInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portfolio_optimizer_run_in_progress",
			Help: "Whether a batch run is currently active (1 = running, 0 = idle)",
		},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portfolio_optimizer_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed batch run",
		},
	)
)
