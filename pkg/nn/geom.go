package nn

import "math"

// NormalizedBox is a bounding box expressed as fractions of the image dimensions.
// Vision services are expected to keep Left+Width <= 1 and Top+Height <= 1, but
// we don't enforce that. Out of range values produce odd rectangles, not errors.
type NormalizedBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Prominence is the "size" used to rank boxes for the spoken summary.
// This is width+height in normalized units, and NOT area.
func (b NormalizedBox) Prominence() float64 {
	return b.Width + b.Height
}

func (b NormalizedBox) Right() float64 {
	return b.Left + b.Width
}

func (b NormalizedBox) Bottom() float64 {
	return b.Top + b.Height
}

func (b NormalizedBox) Area() float64 {
	return b.Width * b.Height
}

// IOU returns the intersection over union of the two boxes, or 0 if both are empty
func (b NormalizedBox) IOU(c NormalizedBox) float64 {
	iw := math.Min(b.Right(), c.Right()) - math.Max(b.Left, c.Left)
	ih := math.Min(b.Bottom(), c.Bottom()) - math.Max(b.Top, c.Top)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	intersection := iw * ih
	union := b.Area() + c.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// ToPixels converts the box into pixel space for an image of the given dimensions.
// Every component is floored independently.
func (b NormalizedBox) ToPixels(imageWidth, imageHeight int) PixelRect {
	w := float64(imageWidth)
	h := float64(imageHeight)
	return PixelRect{
		X:      int(math.Floor(b.Left * w)),
		Y:      int(math.Floor(b.Top * h)),
		Width:  int(math.Floor(b.Width * w)),
		Height: int(math.Floor(b.Height * h)),
	}
}

// PixelRect is a rectangle in image pixel coordinates
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r PixelRect) Area() int {
	return r.Width * r.Height
}

func (r PixelRect) X2() int {
	return r.X + r.Width
}

func (r PixelRect) Y2() int {
	return r.Y + r.Height
}

// Center is not floored, so an odd width produces a center on a half pixel.
func (r PixelRect) Center() (float64, float64) {
	return float64(r.X) + float64(r.Width)/2, float64(r.Y) + float64(r.Height)/2
}

func (r PixelRect) Intersection(b PixelRect) PixelRect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return PixelRect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Clip returns the part of r that lies inside an image of the given dimensions
func (r PixelRect) Clip(imageWidth, imageHeight int) PixelRect {
	return r.Intersection(PixelRect{Width: imageWidth, Height: imageHeight})
}

func (r PixelRect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r *PixelRect) Offset(dx, dy int) {
	r.X += dx
	r.Y += dy
}
