package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// stderrTail bounds how much ffmpeg stderr is carried in error messages.
const stderrTail = 512

// Runner invokes the ffprobe and ffmpeg binaries.
type Runner struct {
	FFmpegPath  string
	FFprobePath string
	logger      *logrus.Logger
}

// NewRunner returns a Runner. Empty paths default to the binaries on PATH.
func NewRunner(ffmpegPath, ffprobePath string, logger *logrus.Logger) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		logger:      logger,
	}
}

// Available reports an error if ffmpeg cannot be found. A missing
// ffprobe is tolerated since callers fall back to a default duration.
func (r *Runner) Available() error {
	if _, err := exec.LookPath(r.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// Transcode runs ffmpeg for opts and blocks until it exits or ctx is done.
// The error carries the tail of ffmpeg's stderr.
func (r *Runner) Transcode(ctx context.Context, opts TranscodeOptions) error {
	if err := r.Available(); err != nil {
		return err
	}

	args := Build(opts)
	r.logger.Debugf("Running %s %s", r.FFmpegPath, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg timed out: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg cancelled: %w", ctxErr)
	}

	msg := strings.TrimSpace(stderr.String())
	if len(msg) > stderrTail {
		msg = msg[len(msg)-stderrTail:]
	}
	if msg == "" {
		msg = "unknown"
	}
	return fmt.Errorf("ffmpeg failed: %w - %s", err, msg)
}
