package metrics

import (
	"context"
	"errors"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/optimizer"
)

// runObserver implements optimizer.Observer using the collectors declared
// in metrics.go.
type runObserver struct{}

// NewRunObserver creates an observer that records batch runs into the
// Prometheus collectors of this package.
func NewRunObserver() optimizer.Observer {
	return &runObserver{}
}

func (o *runObserver) RunStarted(mode string) {
	RunInProgress.Set(1)
}

func (o *runObserver) FileProcessed(res compressor.CompressionResult) {
	kind := string(res.Kind)
	FilesProcessedTotal.WithLabelValues(kind, string(res.Outcome)).Inc()
	FileDuration.WithLabelValues(kind).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	if res.Outcome == compressor.OutcomeError {
		FileErrorsTotal.WithLabelValues(kind, string(res.ErrorKind)).Inc()
		return
	}
	if !res.TargetMet {
		TargetMissedTotal.WithLabelValues(kind).Inc()
	}
	if saved := res.BytesSaved(); saved > 0 {
		BytesSavedTotal.WithLabelValues(kind).Add(float64(saved))
	}
	if res.Outcome.Modified() {
		if res.Quality > 0 {
			ImageQuality.Observe(float64(res.Quality))
		}
		if res.BitrateKbps > 0 {
			VideoBitrateKbps.Observe(float64(res.BitrateKbps))
		}
	}
}

func (o *runObserver) RunFinished(mode string, elapsed time.Duration, err error) {
	status := "success"
	switch {
	case errors.Is(err, context.Canceled):
		status = "stopped"
	case err != nil:
		status = "error"
	}
	RunsTotal.WithLabelValues(mode, status).Inc()
	RunDuration.Observe(elapsed.Seconds())
	RunInProgress.Set(0)
	LastRunTimestamp.SetToCurrentTime()
}
