package metadata

import (
	"fmt"
	"sync"

	"portfolio-optimizer/internal/logger"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// DefaultTags are the descriptive tags carried over to re-encoded images.
// Orientation is left out on purpose: pixels are already rotated on decode.
var DefaultTags = []string{
	"Make",
	"Model",
	"LensModel",
	"DateTimeOriginal",
	"CreateDate",
	"Artist",
	"Copyright",
	"ImageDescription",
}

// Preserver copies EXIF tags between files through a long-running
// exiftool process.
type Preserver struct {
	et     *exiftool.Exiftool
	tags   []string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewPreserver starts exiftool. binaryPath may be empty to use $PATH.
func NewPreserver(binaryPath string, log *logrus.Logger) (*Preserver, error) {
	var opts []func(*exiftool.Exiftool) error
	if binaryPath != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(binaryPath))
	}

	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start exiftool: %w", err)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Preserver{
		et:     et,
		tags:   DefaultTags,
		logger: log,
	}, nil
}

// CopyTags writes the DefaultTags present in src onto dst. Sources
// without EXIF are a no-op.
func (p *Preserver) CopyTags(src, dst string) error {
	if !HasEXIF(src) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	extracted := p.et.ExtractMetadata(src)
	if len(extracted) == 0 {
		return fmt.Errorf("exiftool returned no metadata for %s", src)
	}
	if extracted[0].Err != nil {
		return fmt.Errorf("exiftool read failed: %w", extracted[0].Err)
	}

	out := exiftool.EmptyFileMetadata()
	out.File = dst
	copied := 0
	for _, tag := range p.tags {
		if v, err := extracted[0].GetString(tag); err == nil && v != "" {
			out.SetString(tag, v)
			copied++
		}
	}
	if copied == 0 {
		return nil
	}

	batch := []exiftool.FileMetadata{out}
	p.et.WriteMetadata(batch)
	if batch[0].Err != nil {
		return fmt.Errorf("exiftool write failed: %w", batch[0].Err)
	}

	logger.WithFields(p.logger, logrus.Fields{
		"source": src,
		"tags":   copied,
	}).Debug("Copied EXIF tags")
	return nil
}

// Close stops the exiftool process.
func (p *Preserver) Close() error {
	return p.et.Close()
}
