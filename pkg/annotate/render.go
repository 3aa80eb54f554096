package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/cyclopcam/lookahead/pkg/nn"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrEmptyImage = errors.New("Image has zero width or height")

// Renderer runs the full annotation pipeline over one image:
// decode, draw boxes for detections in the region, shrink, encode as PNG.
type Renderer struct {
	Annotator *Annotator
	Resizer   *Resizer
	Region    nn.RegionOfInterest
}

func NewRenderer(annotator *Annotator, resizer *Resizer, region nn.RegionOfInterest) *Renderer {
	return &Renderer{
		Annotator: annotator,
		Resizer:   resizer,
		Region:    region,
	}
}

// Rendered is the output of Renderer.Render
type Rendered struct {
	PNG           []byte
	SourceWidth   int
	SourceHeight  int
	Width         int // Width after resizing
	Height        int // Height after resizing
	Draw          DrawResult
	DecodedFormat string // eg "jpeg"
}

// Decode decodes a raster image in any of the registered formats (jpeg, png, gif, bmp, webp)
func Decode(raw []byte) (*image.RGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("Failed to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, format, ErrEmptyImage
	}
	return ToRGBA(img), format, nil
}

// Render decodes raw, and produces the annotated PNG.
// The whole call either succeeds or fails; there is no partial output.
func (r *Renderer) Render(raw []byte, detections []nn.Detection, showCaptions bool) (*Rendered, error) {
	img, format, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return r.RenderImage(img, format, detections, showCaptions)
}

// RenderImage is Render for an already decoded image. img is modified in place.
func (r *Renderer) RenderImage(img *image.RGBA, format string, detections []nn.Detection, showCaptions bool) (*Rendered, error) {
	out := &Rendered{
		SourceWidth:   img.Bounds().Dx(),
		SourceHeight:  img.Bounds().Dy(),
		DecodedFormat: format,
	}
	out.Draw = r.Annotator.DrawDetections(img, detections, r.Region, showCaptions)

	final := r.Resizer.Resize(img)
	out.Width = final.Bounds().Dx()
	out.Height = final.Bounds().Dy()

	var buf bytes.Buffer
	if err := png.Encode(&buf, final); err != nil {
		return nil, fmt.Errorf("Failed to encode PNG: %w", err)
	}
	out.PNG = buf.Bytes()
	return out, nil
}
