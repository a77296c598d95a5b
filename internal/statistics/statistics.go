package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/media"
)

// Statistics contains all statistics for an optimization run.
type Statistics struct {
	TotalFilesFound     int64
	ImagesFound         int64
	VideosFound         int64
	TotalFilesProcessed int64

	FilesConverted    int64
	FilesResized      int64
	FilesRecompressed int64
	FilesSkipped      int64
	FilesKeptOriginal int64
	FilesWithErrors   int64

	TargetMissed      int64
	FloorReached      int64
	DurationFallbacks int64
	WouldCompress     int64
	BackupsCreated    int64

	DirectoriesScanned int64

	BytesBefore int64
	BytesAfter  int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex

	OutcomeStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the counters, safe to serialize.
type Snapshot struct {
	TotalFilesFound     int64            `json:"total_files_found"`
	ImagesFound         int64            `json:"images_found"`
	VideosFound         int64            `json:"videos_found"`
	TotalFilesProcessed int64            `json:"total_files_processed"`
	FilesConverted      int64            `json:"files_converted"`
	FilesResized        int64            `json:"files_resized"`
	FilesRecompressed   int64            `json:"files_recompressed"`
	FilesSkipped        int64            `json:"files_skipped"`
	FilesKeptOriginal   int64            `json:"files_kept_original"`
	FilesWithErrors     int64            `json:"files_with_errors"`
	TargetMissed        int64            `json:"target_missed"`
	FloorReached        int64            `json:"floor_reached"`
	DurationFallbacks   int64            `json:"duration_fallbacks"`
	WouldCompress       int64            `json:"would_compress"`
	BackupsCreated      int64            `json:"backups_created"`
	BytesBefore         int64            `json:"bytes_before"`
	BytesAfter          int64            `json:"bytes_after"`
	BytesSaved          int64            `json:"bytes_saved"`
	Duration            string           `json:"duration"`
	FilesPerSecond      float64          `json:"files_per_second"`
	OutcomeStats        map[string]int64 `json:"outcomes"`
	Errors              []StatError      `json:"errors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:    time.Now(),
		OutcomeStats: make(map[string]int64),
		Errors:       make([]StatError, 0),
	}
}

// IncrementFilesFound counts a discovered file of the given kind.
func (s *Statistics) IncrementFilesFound(kind media.Kind) {
	atomic.AddInt64(&s.TotalFilesFound, 1)
	switch kind {
	case media.KindImage:
		atomic.AddInt64(&s.ImagesFound, 1)
	case media.KindVideo:
		atomic.AddInt64(&s.VideosFound, 1)
	}
}

// IncrementDirectoriesScanned increases the count of scanned directories by 1.
func (s *Statistics) IncrementDirectoriesScanned() {
	atomic.AddInt64(&s.DirectoriesScanned, 1)
}

// IncrementBackupsCreated increases the count of backup copies by 1.
func (s *Statistics) IncrementBackupsCreated() {
	atomic.AddInt64(&s.BackupsCreated, 1)
}

// IncrementWouldCompress counts a file a dry run found above its target.
func (s *Statistics) IncrementWouldCompress() {
	atomic.AddInt64(&s.WouldCompress, 1)
}

// Record folds one compression result into the counters.
func (s *Statistics) Record(res compressor.CompressionResult) {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)

	switch res.Outcome {
	case compressor.OutcomeConverted:
		atomic.AddInt64(&s.FilesConverted, 1)
	case compressor.OutcomeResized:
		atomic.AddInt64(&s.FilesResized, 1)
	case compressor.OutcomeRecompressed:
		atomic.AddInt64(&s.FilesRecompressed, 1)
	case compressor.OutcomeSkipped:
		atomic.AddInt64(&s.FilesSkipped, 1)
	case compressor.OutcomeKeptOriginal:
		atomic.AddInt64(&s.FilesKeptOriginal, 1)
	case compressor.OutcomeError:
		atomic.AddInt64(&s.FilesWithErrors, 1)
		s.AddError(res.InputPath, string(res.ErrorKind), res.Message)
	}

	if res.Outcome != compressor.OutcomeError {
		atomic.AddInt64(&s.BytesBefore, res.OriginalSize)
		atomic.AddInt64(&s.BytesAfter, res.OriginalSize-res.BytesSaved())
		if !res.TargetMet {
			atomic.AddInt64(&s.TargetMissed, 1)
		}
	}
	if res.FloorReached {
		atomic.AddInt64(&s.FloorReached, 1)
	}
	if res.DurationFallback {
		atomic.AddInt64(&s.DurationFallbacks, 1)
	}

	s.mutex.Lock()
	s.OutcomeStats[fmt.Sprintf("%s/%s", res.Kind, res.Outcome)]++
	s.mutex.Unlock()
}

// BytesSaved returns the total reduction over all recorded files.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesBefore) - atomic.LoadInt64(&s.BytesAfter)
}

// Finalize calculates final statistics such as duration and files per second.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	outcomes := make(map[string]int64, len(s.OutcomeStats))
	for k, v := range s.OutcomeStats {
		outcomes[k] = v
	}
	errs := make([]StatError, len(s.Errors))
	copy(errs, s.Errors)

	return Snapshot{
		TotalFilesFound:     atomic.LoadInt64(&s.TotalFilesFound),
		ImagesFound:         atomic.LoadInt64(&s.ImagesFound),
		VideosFound:         atomic.LoadInt64(&s.VideosFound),
		TotalFilesProcessed: atomic.LoadInt64(&s.TotalFilesProcessed),
		FilesConverted:      atomic.LoadInt64(&s.FilesConverted),
		FilesResized:        atomic.LoadInt64(&s.FilesResized),
		FilesRecompressed:   atomic.LoadInt64(&s.FilesRecompressed),
		FilesSkipped:        atomic.LoadInt64(&s.FilesSkipped),
		FilesKeptOriginal:   atomic.LoadInt64(&s.FilesKeptOriginal),
		FilesWithErrors:     atomic.LoadInt64(&s.FilesWithErrors),
		TargetMissed:        atomic.LoadInt64(&s.TargetMissed),
		FloorReached:        atomic.LoadInt64(&s.FloorReached),
		DurationFallbacks:   atomic.LoadInt64(&s.DurationFallbacks),
		WouldCompress:       atomic.LoadInt64(&s.WouldCompress),
		BackupsCreated:      atomic.LoadInt64(&s.BackupsCreated),
		BytesBefore:         atomic.LoadInt64(&s.BytesBefore),
		BytesAfter:          atomic.LoadInt64(&s.BytesAfter),
		BytesSaved:          s.BytesSaved(),
		Duration:            s.Duration.String(),
		FilesPerSecond:      s.FilesPerSecond,
		OutcomeStats:        outcomes,
		Errors:              errs,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	saved := 0.0
	if snap.BytesBefore > 0 {
		saved = float64(snap.BytesSaved) * 100 / float64(snap.BytesBefore)
	}

	return fmt.Sprintf(`Portfolio Optimizer Summary:

Files:
		Total Found: %d (images %d, videos %d)
		Processed: %d
		Converted: %d
		Resized: %d
		Recompressed: %d
		Already Small: %d
		Kept Original: %d
		Errors: %d

Targets:
		Missed: %d
		Quality Floor Reached: %d
		Duration Fallbacks: %d
		Would Compress (dry run): %d

Size:
		Before: %s
		After: %s
		Saved: %s (%.1f%%)
		Backups Created: %d

Performance:
		Duration: %v
		Files/Second: %.2f
		Directories Scanned: %d`,
		snap.TotalFilesFound, snap.ImagesFound, snap.VideosFound,
		snap.TotalFilesProcessed,
		snap.FilesConverted,
		snap.FilesResized,
		snap.FilesRecompressed,
		snap.FilesSkipped,
		snap.FilesKeptOriginal,
		snap.FilesWithErrors,
		snap.TargetMissed,
		snap.FloorReached,
		snap.DurationFallbacks,
		snap.WouldCompress,
		FormatBytes(snap.BytesBefore),
		FormatBytes(snap.BytesAfter),
		FormatBytes(snap.BytesSaved), saved,
		snap.BackupsCreated,
		s.GetDuration(),
		snap.FilesPerSecond,
		atomic.LoadInt64(&s.DirectoriesScanned))
}

// GetOutcomeBreakdown returns a formatted breakdown of kind/outcome pairs.
func (s *Statistics) GetOutcomeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.OutcomeStats) == 0 {
		return "No outcome statistics available"
	}

	keys := make([]string, 0, len(s.OutcomeStats))
	for k := range s.OutcomeStats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Outcome Breakdown:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %d\n", k, s.OutcomeStats[k])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + FormatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetTotalFilesProcessed returns the total number of files processed.
func (s *Statistics) GetTotalFilesProcessed() int64 {
	return atomic.LoadInt64(&s.TotalFilesProcessed)
}

// GetFilesWithErrors returns the total number of files with errors.
func (s *Statistics) GetFilesWithErrors() int64 {
	return atomic.LoadInt64(&s.FilesWithErrors)
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
