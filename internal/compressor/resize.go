package compressor

import "math"

// FitDimensions scales width×height down so that neither side exceeds its
// limit, keeping the aspect ratio. A limit of 0 leaves that side
// unconstrained. The secondary dimension is rounded to the nearest
// integer. ok is false when no resize is needed.
func FitDimensions(width, height, maxWidth, maxHeight int) (w, h int, ok bool) {
	if width <= 0 || height <= 0 {
		return width, height, false
	}

	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = math.Min(scale, float64(maxWidth)/float64(width))
	}
	if maxHeight > 0 && height > maxHeight {
		scale = math.Min(scale, float64(maxHeight)/float64(height))
	}
	if scale >= 1.0 {
		return width, height, false
	}

	w = int(math.Round(float64(width) * scale))
	h = int(math.Round(float64(height) * scale))

	// Pin the constraining side exactly to its limit.
	if maxWidth > 0 && w > maxWidth {
		w = maxWidth
	}
	if maxHeight > 0 && h > maxHeight {
		h = maxHeight
	}
	return max(w, 1), max(h, 1), true
}
