package nn

// Detection is one labelled object class returned by a vision service.
// A single label may have been located several times in the image, in which case
// there is one box per instance, and all instances share the label's confidence.
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"` // 0..100
	Boxes      []NormalizedBox `json:"boxes"`
}

// Instance is a single located occurrence of a label
type Instance struct {
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Box        NormalizedBox `json:"box"`
}

// Instances flattens detections into (label, box) pairs, preserving the order
// of the vision response. Labels without any boxes contribute nothing.
func Instances(detections []Detection) []Instance {
	all := []Instance{}
	for _, d := range detections {
		for _, box := range d.Boxes {
			all = append(all, Instance{
				Label:      d.Label,
				Confidence: d.Confidence,
				Box:        box,
			})
		}
	}
	return all
}

// CountInstances returns the total number of boxes across all detections
func CountInstances(detections []Detection) int {
	n := 0
	for _, d := range detections {
		n += len(d.Boxes)
	}
	return n
}
