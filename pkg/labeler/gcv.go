package labeler

import (
	"context"
	"fmt"
	"math"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookahead/pkg/nn"
	"google.golang.org/api/option"
)

// GoogleVision uses the object localization feature of Google Cloud Vision
type GoogleVision struct {
	log    logs.Log
	client *vision.ImageAnnotatorClient
}

// NewGoogleVision creates a Cloud Vision client.
// If apiKey is empty, the default application credentials are used.
func NewGoogleVision(ctx context.Context, log logs.Log, apiKey string) (*GoogleVision, error) {
	opts := []option.ClientOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("Failed to create Cloud Vision client: %w", err)
	}
	return &GoogleVision{
		log:    log,
		client: client,
	}, nil
}

func (g *GoogleVision) Close() error {
	return g.client.Close()
}

func (g *GoogleVision) DetectLabels(ctx context.Context, img ImageRef, maxLabels int) ([]nn.Detection, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: visionImage(img),
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: int32(maxLabels)},
				},
			},
		},
	}
	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Cloud Vision request for %v failed: %w", img.Key, err)
	}
	if len(resp.Responses) == 0 {
		return []nn.Detection{}, nil
	}
	single := resp.Responses[0]
	if single.GetError().GetMessage() != "" {
		return nil, fmt.Errorf("Cloud Vision failed on %v: %v", img.Key, single.GetError().GetMessage())
	}
	dets := ObjectsToDetections(single.LocalizedObjectAnnotations, maxLabels)
	g.log.Debugf("Cloud Vision found %v labels in %v", len(dets), img.Key)
	return dets, nil
}

func visionImage(img ImageRef) *visionpb.Image {
	if img.URI != "" {
		return &visionpb.Image{
			Source: &visionpb.ImageSource{ImageUri: img.URI},
		}
	}
	return &visionpb.Image{Content: img.Data}
}

// ObjectsToDetections converts Cloud Vision localized objects into detections.
// Objects with the same name become instances of one detection. Scores (0..1) are
// scaled to 0..100. Each box is the axis-aligned bounds of the object's normalized polygon.
// Objects without a polygon are skipped.
func ObjectsToDetections(objects []*visionpb.LocalizedObjectAnnotation, maxLabels int) []nn.Detection {
	g := newGrouper()
	for _, obj := range objects {
		verts := obj.GetBoundingPoly().GetNormalizedVertices()
		if len(verts) == 0 {
			continue
		}
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, v := range verts {
			x := clamp01(float64(v.GetX()))
			y := clamp01(float64(v.GetY()))
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
		box := nn.NormalizedBox{
			Left:   minX,
			Top:    minY,
			Width:  maxX - minX,
			Height: maxY - minY,
		}
		g.add(obj.Name, float64(obj.Score)*100, box)
	}
	return g.result(maxLabels)
}
