package annotate

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/cyclopcam/lookahead/pkg/nn"
)

// FillRect overwrites every pixel of rect with c. Pixels outside the image are skipped.
// The color is written as-is (no blending), so filling the same rect twice gives the
// same result as filling it once.
func FillRect(img *image.RGBA, rect nn.PixelRect, c color.RGBA) {
	b := img.Bounds()
	rect.Offset(b.Min.X, b.Min.Y)
	clip := rect.Intersection(nn.PixelRect{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()})
	if clip.Empty() {
		return
	}
	for y := clip.Y; y < clip.Y2(); y++ {
		i := img.PixOffset(clip.X, y)
		for x := clip.X; x < clip.X2(); x++ {
			img.Pix[i+0] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = c.A
			i += 4
		}
	}
}

// ToRGBA returns img as an *image.RGBA with origin (0,0).
// If img is already such an image, it is returned unchanged (not copied).
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
