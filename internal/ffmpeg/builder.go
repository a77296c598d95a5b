package ffmpeg

import (
	"path/filepath"
	"strconv"
	"strings"
)

// TranscodeOptions describes one constrained-bitrate encode.
type TranscodeOptions struct {
	Input            string
	Output           string
	VideoCodec       string
	AudioCodec       string
	VideoBitrateKbps int
	AudioBitrateKbps int
	Preset           string
	Format           string
	FastStart        bool
}

// Container holds the codec choices used for an output container.
type Container struct {
	Format     string
	VideoCodec string
	AudioCodec string
	FastStart  bool
}

var containers = map[string]Container{
	".mp4":  {Format: "mp4", VideoCodec: "libx264", AudioCodec: "aac", FastStart: true},
	".m4v":  {Format: "mp4", VideoCodec: "libx264", AudioCodec: "aac", FastStart: true},
	".mov":  {Format: "mov", VideoCodec: "libx264", AudioCodec: "aac", FastStart: true},
	".webm": {Format: "webm", VideoCodec: "libvpx-vp9", AudioCodec: "libopus"},
}

// ContainerFor returns the codec choices for the extension of path.
// Unknown extensions fall back to H.264/AAC in MP4.
func ContainerFor(path string) Container {
	if c, ok := containers[strings.ToLower(filepath.Ext(path))]; ok {
		return c
	}
	return containers[".mp4"]
}

// NewTranscodeOptions fills codec and container fields for input → output
// at the given bitrates.
func NewTranscodeOptions(input, output string, videoKbps, audioKbps int, preset string) TranscodeOptions {
	c := ContainerFor(output)
	return TranscodeOptions{
		Input:            input,
		Output:           output,
		VideoCodec:       c.VideoCodec,
		AudioCodec:       c.AudioCodec,
		VideoBitrateKbps: videoKbps,
		AudioBitrateKbps: audioKbps,
		Preset:           preset,
		Format:           c.Format,
		FastStart:        c.FastStart,
	}
}

// Build returns the complete ffmpeg argument list (without the binary
// name) for opts.
func Build(opts TranscodeOptions) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", opts.Input,
		"-c:v", opts.VideoCodec,
	}

	if opts.Preset != "" && opts.VideoCodec == "libx264" {
		args = append(args, "-preset", opts.Preset)
	}

	args = append(args,
		"-b:v", kbps(opts.VideoBitrateKbps),
		"-c:a", opts.AudioCodec,
		"-b:a", kbps(opts.AudioBitrateKbps),
	)

	if opts.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}

	return append(args, opts.Output)
}

func kbps(n int) string {
	return strconv.Itoa(n) + "k"
}
