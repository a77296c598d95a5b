// Package metadata reads EXIF summaries and carries descriptive tags over
// to re-encoded images.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ErrNoEXIF is returned when a file carries no readable EXIF block.
var ErrNoEXIF = errors.New("no EXIF data")

// DateSource names the EXIF field a capture date came from.
type DateSource int

const (
	DateSourceUnknown DateSource = iota
	DateSourceEXIFDateTime
	DateSourceEXIFDateTimeOriginal
	DateSourceEXIFDateTimeDigitized
)

// String returns a human-readable description of the date source.
func (ds DateSource) String() string {
	switch ds {
	case DateSourceEXIFDateTime:
		return "EXIF DateTime"
	case DateSourceEXIFDateTimeOriginal:
		return "EXIF DateTimeOriginal"
	case DateSourceEXIFDateTimeDigitized:
		return "EXIF DateTimeDigitized"
	default:
		return "Unknown"
	}
}

// Summary is the subset of EXIF worth showing next to a compression
// decision.
type Summary struct {
	Make        string     `json:"make,omitempty"`
	Model       string     `json:"model,omitempty"`
	LensModel   string     `json:"lens_model,omitempty"`
	Software    string     `json:"software,omitempty"`
	Artist      string     `json:"artist,omitempty"`
	Copyright   string     `json:"copyright,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	DateSource  DateSource `json:"-"`
}

// Camera returns "Make Model" without duplicating a make that the model
// already starts with.
func (s *Summary) Camera() string {
	switch {
	case s.Model == "":
		return s.Make
	case s.Make == "" || strings.HasPrefix(s.Model, s.Make):
		return s.Model
	default:
		return s.Make + " " + s.Model
	}
}

// ReadSummary decodes the EXIF block of the file at path.
func ReadSummary(path string) (*Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		if x == nil {
			return nil, fmt.Errorf("%w: %v", ErrNoEXIF, err)
		}
		// Partially decoded EXIF is still useful.
	}

	s := &Summary{
		Make:      stringField(x, exif.Make),
		Model:     stringField(x, exif.Model),
		LensModel: stringField(x, exif.LensModel),
		Software:  stringField(x, exif.Software),
		Artist:    stringField(x, exif.Artist),
		Copyright: stringField(x, exif.Copyright),
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			s.Orientation = v
		}
	}
	s.TakenAt, s.DateSource = captureDate(x)
	return s, nil
}

// HasEXIF reports whether the file at path carries a decodable EXIF block.
func HasEXIF(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	x, _ := exif.Decode(file)
	return x != nil
}

func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.StringVal {
		return ""
	}
	v, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(v, "\x00"))
}

func captureDate(x *exif.Exif) (*time.Time, DateSource) {
	fields := []struct {
		name   exif.FieldName
		source DateSource
	}{
		{exif.DateTimeOriginal, DateSourceEXIFDateTimeOriginal},
		{exif.DateTimeDigitized, DateSourceEXIFDateTimeDigitized},
		{exif.DateTime, DateSourceEXIFDateTime},
	}
	for _, f := range fields {
		if date := parseEXIFDateTime(stringField(x, f.name)); date != nil {
			return date, f.source
		}
	}
	return nil, DateSourceUnknown
}

// parseEXIFDateTime parses an EXIF date time string and returns a time.Time pointer.
// Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}
