package labeler

import (
	"context"
	"sync/atomic"

	"github.com/cyclopcam/lookahead/pkg/nn"
)

// Fixed returns the same detections for every image.
// It's used when no vision backend is configured, and in tests.
// Detections and Err must not be modified while DetectLabels may be running.
type Fixed struct {
	Detections []nn.Detection
	Err        error
	Calls      atomic.Int64
}

func (f *Fixed) DetectLabels(ctx context.Context, img ImageRef, maxLabels int) ([]nn.Detection, error) {
	f.Calls.Add(1)
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if maxLabels > 0 && len(f.Detections) > maxLabels {
		return f.Detections[:maxLabels], nil
	}
	return f.Detections, nil
}
