package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"portfolio-optimizer/internal/logger"
	"portfolio-optimizer/internal/media"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp" // WebP format support
)

// ImageCompressor re-encodes images at decreasing quality until they fit
// the configured CompressionTarget.
type ImageCompressor struct {
	target   CompressionTarget
	logger   *logrus.Logger
	metadata MetadataCopier
}

// encoded is one candidate output of the encode step.
type encoded struct {
	data         []byte
	format       imaging.Format
	ext          string
	quality      int
	floorReached bool
}

// NewImageCompressor returns an ImageCompressor for target.
func NewImageCompressor(target CompressionTarget, log *logrus.Logger) *ImageCompressor {
	if log == nil {
		log = logrus.New()
	}
	if target.QualityStep <= 0 {
		target.QualityStep = 5
	}
	if target.QualityFloor > target.InitialQuality {
		target.QualityFloor = target.InitialQuality
	}
	if target.Transparency == "" {
		target.Transparency = TransparencyKeep
	}
	return &ImageCompressor{
		target: target,
		logger: log,
	}
}

// WithMetadataCopier enables copying descriptive tags from the original
// onto JPEG re-encodes of JPEG sources.
func (c *ImageCompressor) WithMetadataCopier(m MetadataCopier) *ImageCompressor {
	c.metadata = m
	return c
}

// Target returns the effective target.
func (c *ImageCompressor) Target() CompressionTarget {
	return c.target
}

// Compress shrinks the image at path. Errors leave the file untouched.
func (c *ImageCompressor) Compress(ctx context.Context, path string) CompressionResult {
	res := CompressionResult{
		InputPath: path,
		Kind:      media.KindImage,
		StartedAt: time.Now(),
	}
	log := logger.WithFileOperation(c.logger, path, "compress_image")

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

	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}

	img, err := decodeImage(path)
	if err != nil {
		return res.fail(err)
	}

	bounds := img.Bounds()
	resized := false
	if w, h, ok := FitDimensions(bounds.Dx(), bounds.Dy(), c.target.MaxWidth, c.target.MaxHeight); ok {
		log.Debugf("Resizing %dx%d -> %dx%d", bounds.Dx(), bounds.Dy(), w, h)
		img = imaging.Resize(img, w, h, imaging.Lanczos)
		resized = true
	}
	res.Width = img.Bounds().Dx()
	res.Height = img.Bounds().Dy()

	enc, err := c.encode(img)
	if err != nil {
		return res.fail(err)
	}
	res.Quality = enc.quality
	res.FloorReached = enc.floorReached

	if int64(len(enc.data)) >= res.OriginalSize {
		res.NewSize = res.OriginalSize
		return res.finish(OutcomeKeptOriginal, "re-encoded output not smaller than original, kept original")
	}

	srcExt := strings.ToLower(filepath.Ext(path))
	converted := formatOf(srcExt) != enc.format
	dest := path
	if converted {
		dest = uniquePath(strings.TrimSuffix(path, filepath.Ext(path)) + enc.ext)
	}

	var hook func(string) error
	if c.metadata != nil && enc.format == imaging.JPEG && formatOf(srcExt) == imaging.JPEG {
		hook = func(tmp string) error {
			if err := c.metadata.CopyTags(path, tmp); err != nil {
				log.Warnf("Metadata not preserved: %v", err)
			}
			tagged, err := os.Stat(tmp)
			if err != nil {
				return err
			}
			if tagged.Size() >= res.OriginalSize {
				return errNotSmaller
			}
			return nil
		}
	}

	if err := writeFileAtomic(dest, enc.data, info.Mode().Perm(), hook); err != nil {
		if errors.Is(err, errNotSmaller) {
			res.NewSize = res.OriginalSize
			res.TargetMet = res.OriginalSize <= c.target.MaxBytes
			return res.finish(OutcomeKeptOriginal, "output with copied metadata not smaller than original, kept original")
		}
		return res.fail(fmt.Errorf("%w: %w", ErrEncode, err))
	}
	res.OutputPath = dest

	newInfo, err := os.Stat(dest)
	if err != nil {
		return res.fail(fmt.Errorf("stat compressed error: %w", err))
	}
	res.NewSize = newInfo.Size()
	res.TargetMet = res.NewSize <= c.target.MaxBytes

	message := fmt.Sprintf("%s at quality %d", strings.TrimPrefix(enc.ext, "."), enc.quality)
	if converted {
		if err := os.Remove(path); err != nil {
			message += fmt.Sprintf("; warning: original not removed: %v", err)
			log.Warnf("Could not remove original after conversion: %v", err)
		}
		return res.finish(OutcomeConverted, fmt.Sprintf("converted %s -> %s", srcExt, message))
	}
	if resized {
		return res.finish(OutcomeResized, "resized, "+message)
	}
	return res.finish(OutcomeRecompressed, "recompressed, "+message)
}

// encode picks the output format and runs the quality loop.
func (c *ImageCompressor) encode(img image.Image) (*encoded, error) {
	if media.HasAlphaChannel(img) && media.UsesTransparency(img) {
		enc, err := encodePNG(img)
		if err != nil {
			return nil, err
		}
		if c.target.Transparency != TransparencyFlattenIfOversized || int64(len(enc.data)) <= c.target.MaxBytes {
			return enc, nil
		}
		c.logger.Debugf("Transparent PNG is %d bytes, above target; flattening", len(enc.data))
	}
	return c.encodeLossy(flatten(img))
}

// encodeLossy encodes JPEG from InitialQuality downwards by QualityStep
// until the output fits or QualityFloor was tried.
func (c *ImageCompressor) encodeLossy(img image.Image) (*encoded, error) {
	var buf bytes.Buffer
	quality := c.target.InitialQuality
	for {
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("%w: jpeg at quality %d: %w", ErrEncode, quality, err)
		}

		fits := int64(buf.Len()) <= c.target.MaxBytes
		if fits || quality <= c.target.QualityFloor {
			return &encoded{
				data:         buf.Bytes(),
				format:       imaging.JPEG,
				ext:          ".jpg",
				quality:      quality,
				floorReached: quality <= c.target.QualityFloor,
			}, nil
		}

		quality = max(quality-c.target.QualityStep, c.target.QualityFloor)
	}
}

func encodePNG(img image.Image) (*encoded, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("%w: png: %w", ErrEncode, err)
	}
	return &encoded{
		data:   buf.Bytes(),
		format: imaging.PNG,
		ext:    ".png",
	}, nil
}

// flatten composites img onto an opaque white background.
func flatten(img image.Image) image.Image {
	if !media.HasAlphaChannel(img) {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// decodeImage decodes path with EXIF orientation applied. Animated GIFs
// are refused since only their first frame would survive.
func decodeImage(path string) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".gif") {
		frames, err := countGIFFrames(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if frames > 1 {
			return nil, fmt.Errorf("%w: animated GIF with %d frames is not supported", ErrDecode, frames)
		}
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

func countGIFFrames(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return 0, err
	}
	return len(g.Image), nil
}

// formatOf maps an extension to the imaging format it is written with.
// Formats imaging cannot encode (WebP) return -1.
func formatOf(ext string) imaging.Format {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return imaging.JPEG
	case ".png":
		return imaging.PNG
	case ".gif":
		return imaging.GIF
	default:
		return imaging.Format(-1)
	}
}
