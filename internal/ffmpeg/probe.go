// Package ffmpeg wraps the ffprobe and ffmpeg binaries used to measure
// and re-encode portfolio videos.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoDuration is returned when ffprobe output carries no usable duration.
var ErrNoDuration = errors.New("no duration in ffprobe output")

type ffprobeOutput struct {
	Format ffprobeFormat `json:"format"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeDuration runs a single ffprobe JSON call against path and returns
// the container duration in seconds.
func (r *Runner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %q: %w - %s", path, err, strings.TrimSpace(stderr.String()))
	}

	return ParseDuration(stdout.Bytes())
}

// ParseDuration extracts format.duration from raw ffprobe JSON output.
// Exported for testing without a real ffprobe binary.
func ParseDuration(data []byte) (float64, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	s := strings.TrimSpace(raw.Format.Duration)
	if s == "" || s == "N/A" {
		return 0, ErrNoDuration
	}

	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: non-positive value %q", ErrNoDuration, s)
	}
	return d, nil
}
