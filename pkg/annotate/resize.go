package annotate

import (
	"image"

	"github.com/disintegration/imaging"
)

// Resizer shrinks images so that neither dimension exceeds MaxDimension.
// It never enlarges an image.
type Resizer struct {
	MaxDimension int
	Filter       imaging.ResampleFilter
}

func NewResizer(maxDimension int) *Resizer {
	return &Resizer{
		MaxDimension: maxDimension,
		Filter:       imaging.Lanczos,
	}
}

// TargetSize returns the dimensions that Resize would produce for an image of width x height.
// The larger dimension becomes MaxDimension, and the smaller one is scaled proportionally
// (rounded to the nearest pixel, minimum 1). When width == height, width is treated as the
// constrained axis.
func (r *Resizer) TargetSize(width, height int) (int, int) {
	m := r.MaxDimension
	if m <= 0 || (width <= m && height <= m) {
		return width, height
	}
	if width >= height {
		return m, max(1, int(float64(height)*float64(m)/float64(width)+0.5))
	}
	return max(1, int(float64(width)*float64(m)/float64(height)+0.5)), m
}

// Resize returns img unchanged if it already fits, otherwise a downscaled copy
func (r *Resizer) Resize(img image.Image) image.Image {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	tw, th := r.TargetSize(width, height)
	if tw == width && th == height {
		return img
	}
	// Pass zero for the proportional axis, so imaging computes it exactly as TargetSize does
	if width >= height {
		return imaging.Resize(img, tw, 0, r.Filter)
	}
	return imaging.Resize(img, 0, th, r.Filter)
}
