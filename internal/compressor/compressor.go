package compressor

import (
	"context"
	"time"

	"portfolio-optimizer/internal/media"
)

// Outcome tags what happened to a single file.
type Outcome string

const (
	OutcomeConverted    Outcome = "converted-format"
	OutcomeResized      Outcome = "resized"
	OutcomeRecompressed Outcome = "recompressed"
	OutcomeSkipped      Outcome = "skipped-already-small"
	OutcomeKeptOriginal Outcome = "kept-original"
	OutcomeError        Outcome = "error"
)

// Modified reports whether the outcome replaced the file on disk.
func (o Outcome) Modified() bool {
	return o == OutcomeConverted || o == OutcomeResized || o == OutcomeRecompressed
}

// TransparencyPolicy decides what happens to images that really use
// their alpha channel.
type TransparencyPolicy string

const (
	// TransparencyKeep always re-encodes transparent images as PNG, even
	// if the target size is not met.
	TransparencyKeep TransparencyPolicy = "keep"
	// TransparencyFlattenIfOversized tries PNG first and flattens onto
	// white for lossy encoding when the PNG is still above target.
	TransparencyFlattenIfOversized TransparencyPolicy = "flatten-if-oversized"
)

// CompressionTarget parameterizes the image compressor.
type CompressionTarget struct {
	MaxBytes       int64
	MaxWidth       int // 0 means no limit
	MaxHeight      int // 0 means no limit
	InitialQuality int
	QualityStep    int
	QualityFloor   int
	Transparency   TransparencyPolicy
}

// VideoTarget parameterizes the video compressor.
type VideoTarget struct {
	MaxBytes         int64
	DefaultDuration  float64 // seconds, used when probing fails
	SafetyMargin     float64
	MinBitrateKbps   int
	AudioBitrateKbps int
	Preset           string
	Timeout          time.Duration
}

// CompressionResult describes the result of compressing a single file.
type CompressionResult struct {
	InputPath        string     `json:"input_path"`
	OutputPath       string     `json:"output_path,omitempty"`
	Kind             media.Kind `json:"kind"`
	OriginalSize     int64      `json:"original_size"`
	NewSize          int64      `json:"new_size"`
	Quality          int        `json:"quality,omitempty"`
	BitrateKbps      int        `json:"bitrate_kbps,omitempty"`
	Width            int        `json:"width,omitempty"`
	Height           int        `json:"height,omitempty"`
	Outcome          Outcome    `json:"outcome"`
	TargetMet        bool       `json:"target_met"`
	FloorReached     bool       `json:"floor_reached"`
	DurationFallback bool       `json:"duration_fallback,omitempty"`
	ErrorKind        ErrorKind  `json:"error_kind,omitempty"`
	Message          string     `json:"message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
	Error            error      `json:"-"`
}

// BytesSaved returns how many bytes the operation removed from disk.
func (r CompressionResult) BytesSaved() int64 {
	if !r.Outcome.Modified() {
		return 0
	}
	return r.OriginalSize - r.NewSize
}

// PercentageSaved returns the size reduction in percent.
func (r CompressionResult) PercentageSaved() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.BytesSaved()) * 100 / float64(r.OriginalSize)
}

// Compressor shrinks a single file towards its configured target.
type Compressor interface {
	// Compress processes the file at path and never returns without a
	// result; failures are reported through the Error outcome.
	Compress(ctx context.Context, path string) CompressionResult
}

// MetadataCopier copies descriptive metadata from one file onto another.
type MetadataCopier interface {
	CopyTags(src, dst string) error
}

func (r *CompressionResult) fail(err error) CompressionResult {
	r.Outcome = OutcomeError
	r.Error = err
	r.ErrorKind = Classify(err)
	r.Message = err.Error()
	r.TargetMet = false
	r.FinishedAt = time.Now()
	return *r
}

func (r *CompressionResult) finish(outcome Outcome, message string) CompressionResult {
	r.Outcome = outcome
	r.Message = message
	r.FinishedAt = time.Now()
	return *r
}
