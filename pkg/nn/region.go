package nn

// RegionOfInterest is a fractional sub-rectangle of the frame, used to decide which
// detections are "ahead" of the camera. It is configured once, and the pixel bounds
// are recomputed for every image, because image dimensions vary per request.
//
// Inverted (XStart > XEnd) or out of range fractions are not errors. They simply
// produce an empty (or oversized) region, and it's up to the operator to configure
// something sensible.
type RegionOfInterest struct {
	XStart float64 `json:"xStart"`
	XEnd   float64 `json:"xEnd"`
	YStart float64 `json:"yStart"`
	YEnd   float64 `json:"yEnd"`
}

// WholeFrame is a region that accepts every center inside the image
var WholeFrame = RegionOfInterest{XStart: 0, XEnd: 1, YStart: 0, YEnd: 1}

// RegionBounds is a RegionOfInterest resolved against concrete image dimensions
type RegionBounds struct {
	X1, X2 float64
	Y1, Y2 float64
}

func (r RegionOfInterest) Bounds(imageWidth, imageHeight int) RegionBounds {
	w := float64(imageWidth)
	h := float64(imageHeight)
	return RegionBounds{
		X1: w * r.XStart,
		X2: w * r.XEnd,
		Y1: h * r.YStart,
		Y2: h * r.YEnd,
	}
}

// Contains returns true if the point lies inside the bounds. Both ends are inclusive.
func (b RegionBounds) Contains(x, y float64) bool {
	return x >= b.X1 && x <= b.X2 && y >= b.Y1 && y <= b.Y2
}

// Contains returns true if (centerX, centerY) lies inside the region, for an image
// of the given dimensions.
func (r RegionOfInterest) Contains(centerX, centerY float64, imageWidth, imageHeight int) bool {
	return r.Bounds(imageWidth, imageHeight).Contains(centerX, centerY)
}

// ContainsRect returns true if the center of the rectangle lies inside the region
func (r RegionOfInterest) ContainsRect(rect PixelRect, imageWidth, imageHeight int) bool {
	cx, cy := rect.Center()
	return r.Contains(cx, cy, imageWidth, imageHeight)
}
