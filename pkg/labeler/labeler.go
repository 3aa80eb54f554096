// Package labeler finds and locates objects in an image, using an external vision service
package labeler

import (
	"context"
	"errors"

	"github.com/cyclopcam/lookahead/pkg/nn"
)

var ErrNoImage = errors.New("Image reference has neither a URI nor content")

// ImageRef identifies the image to label.
// A backend uses URI if it can read from there directly, otherwise Data.
type ImageRef struct {
	Key  string // Storage key, for logging
	URI  string // eg gs://bucket/key. May be empty.
	Data []byte // Raw encoded image. May be empty if URI is set.
}

func (r ImageRef) Validate() error {
	if r.URI == "" && len(r.Data) == 0 {
		return ErrNoImage
	}
	return nil
}

// Labeler detects objects in an image.
// The returned detections are in the order produced by the vision service.
type Labeler interface {
	DetectLabels(ctx context.Context, img ImageRef, maxLabels int) ([]nn.Detection, error)
}

// grouper merges located objects that share a label into a single Detection,
// keeping the order in which each label first appeared. The first occurrence's
// confidence is used for the whole group.
type grouper struct {
	dets  []nn.Detection
	index map[string]int
}

func newGrouper() *grouper {
	return &grouper{
		dets:  []nn.Detection{},
		index: map[string]int{},
	}
}

func (g *grouper) add(label string, confidence float64, box nn.NormalizedBox) {
	i, ok := g.index[label]
	if !ok {
		i = len(g.dets)
		g.index[label] = i
		g.dets = append(g.dets, nn.Detection{
			Label:      label,
			Confidence: confidence,
		})
	}
	g.dets[i].Boxes = append(g.dets[i].Boxes, box)
}

// result returns at most maxLabels detections. maxLabels <= 0 means no limit.
func (g *grouper) result(maxLabels int) []nn.Detection {
	if maxLabels > 0 && len(g.dets) > maxLabels {
		return g.dets[:maxLabels]
	}
	return g.dets
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
