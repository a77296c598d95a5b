package media

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp" // WebP format support
)

// Kind is the broad category of a media file.
type Kind string

const (
	KindUnknown Kind = "unknown"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
)

// DefaultImageExtensions are the image extensions recognized when no
// configuration overrides them.
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// DefaultVideoExtensions are the video extensions recognized when no
// configuration overrides them.
var DefaultVideoExtensions = []string{".mp4", ".mov", ".webm"}

// Asset describes a media file as it is on disk at inspection time.
// Width, Height, HasAlpha and UsesTransparency are only set for images.
type Asset struct {
	Path             string `json:"path"`
	Kind             Kind   `json:"kind"`
	Size             int64  `json:"size"`
	Format           string `json:"format,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	HasAlpha         bool   `json:"has_alpha"`
	UsesTransparency bool   `json:"uses_transparency"`
}

// Classifier maps file extensions to media kinds.
type Classifier struct {
	images map[string]struct{}
	videos map[string]struct{}
}

// NewClassifier returns a Classifier for the given extension lists.
// Extensions are matched case-insensitively and may omit the leading dot.
func NewClassifier(imageExts, videoExts []string) *Classifier {
	c := &Classifier{
		images: make(map[string]struct{}, len(imageExts)),
		videos: make(map[string]struct{}, len(videoExts)),
	}
	for _, ext := range imageExts {
		c.images[NormalizeExtension(ext)] = struct{}{}
	}
	for _, ext := range videoExts {
		c.videos[NormalizeExtension(ext)] = struct{}{}
	}
	return c
}

// DefaultClassifier recognizes DefaultImageExtensions and DefaultVideoExtensions.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultImageExtensions, DefaultVideoExtensions)
}

// KindOf returns the kind of the file at path based on its extension.
func (c *Classifier) KindOf(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := c.images[ext]; ok {
		return KindImage
	}
	if _, ok := c.videos[ext]; ok {
		return KindVideo
	}
	return KindUnknown
}

// NormalizeExtension lowercases ext and makes sure it starts with a dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Inspect reads the current state of the file at path. For images the
// pixels are decoded so that real transparency can be determined.
func (c *Classifier) Inspect(path string) (*Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	asset := &Asset{
		Path: path,
		Kind: c.KindOf(path),
		Size: info.Size(),
	}
	if asset.Kind != KindImage {
		return asset, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	asset.Format = format
	asset.Width = bounds.Dx()
	asset.Height = bounds.Dy()
	asset.HasAlpha = HasAlphaChannel(img)
	asset.UsesTransparency = asset.HasAlpha && UsesTransparency(img)
	return asset, nil
}
