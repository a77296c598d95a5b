package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/media"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunObserverRecordsFiles(t *testing.T) {
	obs := NewRunObserver()

	processed := testutil.ToFloat64(FilesProcessedTotal.WithLabelValues("image", "resized"))
	saved := testutil.ToFloat64(BytesSavedTotal.WithLabelValues("image"))
	missed := testutil.ToFloat64(TargetMissedTotal.WithLabelValues("image"))
	failures := testutil.ToFloat64(FileErrorsTotal.WithLabelValues("video", "subprocess-error"))

	start := time.Now()
	obs.RunStarted("optimize")
	if got := testutil.ToFloat64(RunInProgress); got != 1 {
		t.Errorf("run in progress = %v, want 1", got)
	}

	obs.FileProcessed(compressor.CompressionResult{
		Kind:         media.KindImage,
		Outcome:      compressor.OutcomeResized,
		OriginalSize: 5000,
		NewSize:      3000,
		Quality:      60,
		TargetMet:    false,
		StartedAt:    start,
		FinishedAt:   start.Add(time.Second),
	})
	obs.FileProcessed(compressor.CompressionResult{
		Kind:      media.KindVideo,
		Outcome:   compressor.OutcomeError,
		ErrorKind: compressor.ErrorKindSubprocess,
	})

	if got := testutil.ToFloat64(FilesProcessedTotal.WithLabelValues("image", "resized")) - processed; got != 1 {
		t.Errorf("files processed delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BytesSavedTotal.WithLabelValues("image")) - saved; got != 2000 {
		t.Errorf("bytes saved delta = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(TargetMissedTotal.WithLabelValues("image")) - missed; got != 1 {
		t.Errorf("target missed delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(FileErrorsTotal.WithLabelValues("video", "subprocess-error")) - failures; got != 1 {
		t.Errorf("file errors delta = %v, want 1", got)
	}

	obs.RunFinished("optimize", time.Second, nil)
	if got := testutil.ToFloat64(RunInProgress); got != 0 {
		t.Errorf("run in progress = %v, want 0", got)
	}
}

func TestRunObserverStatus(t *testing.T) {
	obs := NewRunObserver()

	tests := []struct {
		err    error
		status string
	}{
		{nil, "success"},
		{context.Canceled, "stopped"},
		{errors.New("root directory not found"), "error"},
	}

	for _, tt := range tests {
		before := testutil.ToFloat64(RunsTotal.WithLabelValues("scan", tt.status))
		obs.RunStarted("scan")
		obs.RunFinished("scan", time.Millisecond, tt.err)
		if got := testutil.ToFloat64(RunsTotal.WithLabelValues("scan", tt.status)) - before; got != 1 {
			t.Errorf("err %v: runs{status=%s} delta = %v, want 1", tt.err, tt.status, got)
		}
	}
}
