package media

import (
	"image"
	"image/color"
)

// HasAlphaChannel reports whether the image's color model can represent
// transparency at all. It says nothing about whether any pixel is
// actually transparent; see UsesTransparency.
func HasAlphaChannel(img image.Image) bool {
	model := img.ColorModel()
	if p, ok := model.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	}

	switch model {
	case color.YCbCrModel, color.GrayModel, color.Gray16Model, color.CMYKModel:
		return false
	default:
		return true
	}
}

// UsesTransparency reports whether the minimum alpha value across all
// pixels is below fully opaque.
func UsesTransparency(img image.Image) bool {
	switch m := img.(type) {
	case *image.NRGBA:
		return !m.Opaque()
	case *image.RGBA:
		return !m.Opaque()
	case *image.NRGBA64:
		return !m.Opaque()
	case *image.RGBA64:
		return !m.Opaque()
	case *image.Paletted:
		return !m.Opaque()
	case *image.NYCbCrA:
		return !m.Opaque()
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return false
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}
