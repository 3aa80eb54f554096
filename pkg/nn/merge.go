package nn

import (
	"math"

	flatbush "github.com/bmharper/flatbush-go"
)

// The spatial index works in integers, so boxes are quantized to this many units per frame
const mergeGridScale = 1 << 16

// MergeDuplicateInstances removes instances that are near-copies of an earlier instance
// with the same label (IoU >= minIoU). Vision language models in particular tend to
// repeat a box. The first instance of each duplicate group is kept, and the order of
// detections and instances is otherwise unchanged. Detections that end up with no boxes
// are retained, so the labels are still visible to callers.
// minIoU <= 0 disables merging.
func MergeDuplicateInstances(detections []Detection, minIoU float64) []Detection {
	if minIoU <= 0 {
		return detections
	}
	all := Instances(detections)
	if len(all) < 2 {
		return detections
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(all))
	for _, inst := range all {
		x1, y1, x2, y2 := quantize(inst.Box)
		fb.Add(x1, y1, x2, y2)
	}
	fb.Finish()

	deleted := make([]bool, len(all))
	for i, inst := range all {
		if deleted[i] {
			continue
		}
		x1, y1, x2, y2 := quantize(inst.Box)
		for _, j := range fb.Search(x1, y1, x2, y2) {
			// Only look forward, so that the earliest instance survives
			if j <= i || deleted[j] {
				continue
			}
			if all[j].Label != inst.Label {
				continue
			}
			if inst.Box.IOU(all[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}

	// Instances preserves order, so walk the detections in step with it
	out := make([]Detection, 0, len(detections))
	k := 0
	for _, d := range detections {
		kept := d
		kept.Boxes = make([]NormalizedBox, 0, len(d.Boxes))
		for _, box := range d.Boxes {
			if !deleted[k] {
				kept.Boxes = append(kept.Boxes, box)
			}
			k++
		}
		out = append(out, kept)
	}
	return out
}

func quantize(b NormalizedBox) (x1, y1, x2, y2 int32) {
	q := func(v float64) int32 {
		return int32(math.Round(v * mergeGridScale))
	}
	return q(b.Left), q(b.Top), q(b.Right()), q(b.Bottom())
}
