package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

type ifdEntry struct {
	tag   uint16
	ascii string // ASCII value, or empty for a SHORT
	short uint16
}

// buildTIFF returns a little-endian TIFF block holding a single IFD.
// Entries must be sorted by tag.
func buildTIFF(entries []ifdEntry) []byte {
	le := binary.LittleEndian
	var head, data bytes.Buffer

	head.WriteString("II*\x00")
	binary.Write(&head, le, uint32(8))
	binary.Write(&head, le, uint16(len(entries)))

	dataStart := 8 + 2 + 12*len(entries) + 4
	for _, e := range entries {
		binary.Write(&head, le, e.tag)
		if e.ascii == "" {
			binary.Write(&head, le, uint16(3))
			binary.Write(&head, le, uint32(1))
			binary.Write(&head, le, e.short)
			binary.Write(&head, le, uint16(0))
			continue
		}
		value := e.ascii + "\x00"
		binary.Write(&head, le, uint16(2))
		binary.Write(&head, le, uint32(len(value)))
		binary.Write(&head, le, uint32(dataStart+data.Len()))
		data.WriteString(value)
	}
	binary.Write(&head, le, uint32(0))
	head.Write(data.Bytes())
	return head.Bytes()
}

// writeJPEGWithEXIF writes a small JPEG whose APP1 segment holds tiff.
func writeJPEGWithEXIF(t *testing.T, path string, tiff []byte) {
	t.Helper()
	var img bytes.Buffer
	if err := jpeg.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
	raw := img.Bytes()

	payload := append([]byte("Exif\x00\x00"), tiff...)
	var out bytes.Buffer
	out.Write(raw[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(raw[2:])

	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func writePlainJPEG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
}

func sampleTIFF() []byte {
	return buildTIFF([]ifdEntry{
		{tag: 0x010F, ascii: "Canon"},
		{tag: 0x0110, ascii: "Canon EOS R5"},
		{tag: 0x0112, short: 6},
		{tag: 0x0132, ascii: "2023:12:25 15:30:45"},
	})
}

func TestReadSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.jpg")
	writeJPEGWithEXIF(t, path, sampleTIFF())

	s, err := ReadSummary(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Make != "Canon" || s.Model != "Canon EOS R5" {
		t.Errorf("make/model = %q/%q", s.Make, s.Model)
	}
	if s.Camera() != "Canon EOS R5" {
		t.Errorf("Camera() = %q", s.Camera())
	}
	if s.Orientation != 6 {
		t.Errorf("orientation = %d, want 6", s.Orientation)
	}
	want := time.Date(2023, 12, 25, 15, 30, 45, 0, time.UTC)
	if s.TakenAt == nil || !s.TakenAt.Equal(want) {
		t.Errorf("taken at = %v, want %v", s.TakenAt, want)
	}
	if s.DateSource != DateSourceEXIFDateTime {
		t.Errorf("date source = %s", s.DateSource)
	}
	if !HasEXIF(path) {
		t.Error("HasEXIF = false")
	}
}

func TestReadSummaryWithoutEXIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	writePlainJPEG(t, path)

	if _, err := ReadSummary(path); !errors.Is(err, ErrNoEXIF) {
		t.Errorf("err = %v, want ErrNoEXIF", err)
	}
	if HasEXIF(path) {
		t.Error("HasEXIF = true for plain JPEG")
	}
}

func TestParseEXIFDateTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2023:12:25 15:30:45", "2023-12-25T15:30:45Z"},
		{"2023-12-25 15:30:45", "2023-12-25T15:30:45Z"},
		{"2023:12:25", "2023-12-25T00:00:00Z"},
		{"2023-12-25T15:30:45+02:00", "2023-12-25T15:30:45+02:00"},
		{"0000:00:00 00:00:00", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := parseEXIFDateTime(tt.in)
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("parseEXIFDateTime(%q) = %v, want nil", tt.in, got)
		case tt.want != "" && (got == nil || got.Format(time.RFC3339) != tt.want):
			t.Errorf("parseEXIFDateTime(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCameraFormatting(t *testing.T) {
	tests := []struct {
		make, model, want string
	}{
		{"NIKON CORPORATION", "NIKON D850", "NIKON CORPORATION NIKON D850"},
		{"Canon", "Canon EOS R5", "Canon EOS R5"},
		{"FUJIFILM", "", "FUJIFILM"},
		{"", "X100V", "X100V"},
	}
	for _, tt := range tests {
		s := &Summary{Make: tt.make, Model: tt.model}
		if got := s.Camera(); got != tt.want {
			t.Errorf("Camera(%q, %q) = %q, want %q", tt.make, tt.model, got, tt.want)
		}
	}
}

func TestCopyTagsWithoutSourceEXIFIsNoop(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	writePlainJPEG(t, src)
	writePlainJPEG(t, dst)
	before, _ := os.ReadFile(dst)

	// No exiftool process is needed when the source has no EXIF.
	p := &Preserver{tags: DefaultTags}
	if err := p.CopyTags(src, dst); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(dst)
	if !bytes.Equal(before, after) {
		t.Error("destination modified")
	}
}

func TestCopyTagsWithExiftool(t *testing.T) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		t.Skip("exiftool not installed")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	writeJPEGWithEXIF(t, src, sampleTIFF())
	writePlainJPEG(t, dst)

	p, err := NewPreserver("", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.CopyTags(src, dst); err != nil {
		t.Fatal(err)
	}

	s, err := ReadSummary(dst)
	if err != nil {
		t.Fatalf("destination has no EXIF after copy: %v", err)
	}
	if s.Make != "Canon" || s.Model != "Canon EOS R5" {
		t.Errorf("copied make/model = %q/%q", s.Make, s.Model)
	}
	if s.Orientation != 0 {
		t.Errorf("orientation must not be copied, got %d", s.Orientation)
	}
}
