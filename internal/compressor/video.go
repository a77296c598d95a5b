package compressor

import (
	"context"
	"fmt"
	"os"
	"time"

	"portfolio-optimizer/internal/ffmpeg"
	"portfolio-optimizer/internal/logger"
	"portfolio-optimizer/internal/media"

	"github.com/sirupsen/logrus"
)

// VideoEncoder is the external tool that measures and re-encodes videos.
// *ffmpeg.Runner implements it.
type VideoEncoder interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Transcode(ctx context.Context, opts ffmpeg.TranscodeOptions) error
}

// VideoCompressor re-encodes a video once at a bitrate derived from the
// target size and the probed duration.
type VideoCompressor struct {
	target  VideoTarget
	encoder VideoEncoder
	logger  *logrus.Logger
}

// NewVideoCompressor returns a VideoCompressor for target.
func NewVideoCompressor(target VideoTarget, encoder VideoEncoder, log *logrus.Logger) *VideoCompressor {
	if log == nil {
		log = logrus.New()
	}
	if target.DefaultDuration <= 0 {
		target.DefaultDuration = 10
	}
	if target.SafetyMargin <= 0 || target.SafetyMargin > 1 {
		target.SafetyMargin = 0.9
	}
	if target.AudioBitrateKbps <= 0 {
		target.AudioBitrateKbps = 128
	}
	return &VideoCompressor{
		target:  target,
		encoder: encoder,
		logger:  log,
	}
}

// Target returns the effective target.
func (c *VideoCompressor) Target() VideoTarget {
	return c.target
}

// TargetBitrateKbps computes the video bitrate needed to land maxBytes
// over duration seconds, scaled by margin and clamped to minKbps.
func TargetBitrateKbps(maxBytes int64, duration, margin float64, minKbps int) int {
	if duration <= 0 {
		return minKbps
	}
	kbps := int(float64(maxBytes) * 8 / duration / 1000 * margin)
	return max(kbps, minKbps)
}

// Compress shrinks the video at path. The encoder writes to a temporary
// file which only replaces the original after a successful encode.
func (c *VideoCompressor) Compress(ctx context.Context, path string) CompressionResult {
	res := CompressionResult{
		InputPath: path,
		Kind:      media.KindVideo,
		StartedAt: time.Now(),
	}
	log := logger.WithFileOperation(c.logger, path, "compress_video")

	info, err := os.Stat(path)
	if err != nil {
		return res.fail(fmt.Errorf("stat error: %w", err))
	}
	res.OriginalSize = info.Size()

	if res.OriginalSize <= c.target.MaxBytes {
		res.NewSize = res.OriginalSize
		res.TargetMet = true
		return res.finish(OutcomeSkipped, "already within target size")
	}

	if c.target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.target.Timeout)
		defer cancel()
	}

	duration, err := c.encoder.ProbeDuration(ctx, path)
	if err != nil || duration <= 0 {
		if err == nil {
			err = fmt.Errorf("non-positive duration %v", duration)
		}
		log.Warnf("%v; assuming %.0fs", fmt.Errorf("%w: %w", ErrProbe, err), c.target.DefaultDuration)
		duration = c.target.DefaultDuration
		res.DurationFallback = true
	}

	res.BitrateKbps = TargetBitrateKbps(c.target.MaxBytes, duration, c.target.SafetyMargin, c.target.MinBitrateKbps)
	log.Infof("Encoding at %dk video / %dk audio (duration %.1fs)", res.BitrateKbps, c.target.AudioBitrateKbps, duration)

	tmp, err := createTemp(path)
	if err != nil {
		return res.fail(err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	opts := ffmpeg.NewTranscodeOptions(path, tmpPath, res.BitrateKbps, c.target.AudioBitrateKbps, c.target.Preset)
	if err := c.encoder.Transcode(ctx, opts); err != nil {
		_ = os.Remove(tmpPath)
		return res.fail(fmt.Errorf("%w: %w", ErrSubprocess, err))
	}

	tmpInfo, err := os.Stat(tmpPath)
	if err != nil || tmpInfo.Size() == 0 {
		_ = os.Remove(tmpPath)
		return res.fail(fmt.Errorf("%w: encoder reported success but produced no output", ErrSubprocess))
	}

	if tmpInfo.Size() >= res.OriginalSize {
		_ = os.Remove(tmpPath)
		res.NewSize = res.OriginalSize
		return res.finish(OutcomeKeptOriginal, "re-encoded output not smaller than original, kept original")
	}

	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		log.Warnf("Could not copy file mode: %v", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return res.fail(fmt.Errorf("%w: rename error: %w", ErrEncode, err))
	}

	res.OutputPath = path
	res.NewSize = tmpInfo.Size()
	res.TargetMet = res.NewSize <= c.target.MaxBytes
	if !res.TargetMet {
		log.Warnf("Output %d bytes still above target %d", res.NewSize, c.target.MaxBytes)
	}
	return res.finish(OutcomeRecompressed, fmt.Sprintf("recompressed at %dk", res.BitrateKbps))
}
