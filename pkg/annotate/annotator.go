package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"unicode/utf8"

	"github.com/cyclopcam/lookahead/pkg/nn"
	"github.com/fogleman/gg"
)

// Caption layout. A two line white label sits just inside the bottom-left of each box.
const (
	captionPadding     = 2
	captionOffset      = 10  // Horizontal inset from the box's left edge, and gap above its bottom edge
	captionCharWidthEm = 0.6 // Approximate glyph width, as a fraction of the font size
)

var captionBackground = color.RGBA{255, 255, 255, 255}

type Style struct {
	Thickness int        // Border thickness in pixels
	Color     color.RGBA // Border color. Alpha is forced to 255.
}

// Annotator draws detection boxes and captions onto an image
type Annotator struct {
	style Style
	fonts *FontLoader // May be nil, in which case captions are never drawn
}

func NewAnnotator(style Style, fonts *FontLoader) *Annotator {
	if style.Thickness < 1 {
		style.Thickness = 1
	}
	style.Color.A = 255
	return &Annotator{
		style: style,
		fonts: fonts,
	}
}

// DrawnBox is a detection that was drawn onto the image
type DrawnBox struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Rect       nn.PixelRect `json:"rect"`
}

// DrawResult describes what DrawDetections did
type DrawResult struct {
	Drawn           []DrawnBox
	Considered      int  // Total number of instances
	CaptionsSkipped bool // Captions were requested, but the font was not ready
}

// DrawDetections draws every instance whose center lies inside region.
// Instances are drawn in the order of the vision response, so later boxes
// paint over earlier ones where they overlap.
func (a *Annotator) DrawDetections(img *image.RGBA, detections []nn.Detection, region nn.RegionOfInterest, showCaptions bool) DrawResult {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	bounds := region.Bounds(width, height)
	res := DrawResult{
		Drawn: []DrawnBox{},
	}
	for _, inst := range nn.Instances(detections) {
		res.Considered++
		rect := inst.Box.ToPixels(width, height)
		if !bounds.Contains(rect.Center()) {
			continue
		}
		if !a.DrawDetection(img, rect, inst.Label, inst.Confidence, showCaptions) && showCaptions {
			res.CaptionsSkipped = true
		}
		res.Drawn = append(res.Drawn, DrawnBox{
			Label:      inst.Label,
			Confidence: inst.Confidence,
			Rect:       rect,
		})
	}
	return res
}

// DrawDetection draws the border of rect, and optionally a caption.
// Returns true if a caption was drawn.
func (a *Annotator) DrawDetection(img *image.RGBA, rect nn.PixelRect, name string, confidence float64, showCaption bool) bool {
	a.DrawBorder(img, rect)
	if !showCaption {
		return false
	}
	return a.DrawCaption(img, rect, name, confidence)
}

// DrawBorder draws four solid strips along the inside edge of rect
func (a *Annotator) DrawBorder(img *image.RGBA, rect nn.PixelRect) {
	t := a.style.Thickness
	c := a.style.Color
	// top, left, bottom, right
	FillRect(img, nn.PixelRect{X: rect.X, Y: rect.Y, Width: rect.Width, Height: t}, c)
	FillRect(img, nn.PixelRect{X: rect.X, Y: rect.Y, Width: t, Height: rect.Height}, c)
	FillRect(img, nn.PixelRect{X: rect.X, Y: rect.Y2() - t, Width: rect.Width, Height: t}, c)
	FillRect(img, nn.PixelRect{X: rect.X2() - t, Y: rect.Y, Width: t, Height: rect.Height}, c)
}

// CaptionRect returns the white background rectangle for a caption.
// Text width is estimated from the character count, because that's good enough for
// a background plate, and doesn't need the font to be loaded.
func CaptionRect(rect nn.PixelRect, name string, confidence float64, fontSize float64) nn.PixelRect {
	bgHeight := int(fontSize)*2 + captionPadding*2
	nameWidth := float64(utf8.RuneCountInString(name)) * fontSize * captionCharWidthEm
	confWidth := float64(len(formatConfidence(confidence))) * fontSize * captionCharWidthEm
	bgWidth := math.Max(nameWidth, confWidth) + captionPadding*2
	return nn.PixelRect{
		X:      rect.X + captionOffset,
		Y:      rect.Y2() - bgHeight - captionOffset,
		Width:  int(math.Ceil(bgWidth)),
		Height: bgHeight,
	}
}

// DrawCaption draws the label name and confidence onto a white plate inside the
// bottom-left of rect. If the font isn't loaded yet, nothing is drawn and we return false.
func (a *Annotator) DrawCaption(img *image.RGBA, rect nn.PixelRect, name string, confidence float64) bool {
	if a.fonts == nil {
		return false
	}
	face, ok := a.fonts.NewFace()
	if !ok {
		return false
	}
	defer face.Close()

	fontSize := a.fonts.Size()
	bg := CaptionRect(rect, name, confidence, fontSize)
	FillRect(img, bg, captionBackground)

	// gg draws text at the baseline, so shift down by the ascent to get top-left placement
	ascent := float64(face.Metrics().Ascent.Ceil())
	textX := float64(bg.X + captionPadding)
	textY := float64(bg.Y + captionPadding)

	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	dc.DrawString(name, textX, textY+ascent)
	dc.DrawString(formatConfidence(confidence), textX, textY+fontSize+ascent)
	return true
}

func formatConfidence(confidence float64) string {
	return fmt.Sprintf("%.2f", confidence)
}
