package server

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclopcam/lookahead/pkg/annotate"
	"github.com/cyclopcam/lookahead/pkg/labeler"
	"github.com/cyclopcam/lookahead/pkg/nn"
	"github.com/cyclopcam/lookahead/server/model"
	"github.com/cyclopcam/lookahead/server/storage"
)

type analysisResult struct {
	Record       model.Analysis
	Announcement nn.Announcement
	Rendered     *annotate.Rendered
}

// analyze fetches the stored image, asks the labeler what's in it, draws the objects
// that are in the forward path, and records the announcement.
// The announcement considers every detected object, not only those in the forward path.
func (s *Server) analyze(ctx context.Context, imageKey string, showObjects bool) (*analysisResult, error) {
	raw, err := s.imageCache.Read(imageKey)
	if err != nil {
		return nil, fmt.Errorf("Failed to read image %v: %w", imageKey, err)
	}

	ref := labeler.ImageRef{
		Key:  imageKey,
		URI:  storage.ObjectURI(s.storage, imageKey),
		Data: raw,
	}
	detections, err := s.labeler.DetectLabels(ctx, ref, s.config.MaxLabels)
	if err != nil {
		return nil, err
	}
	detections = nn.MergeDuplicateInstances(detections, s.config.DuplicateIoU)

	announcement := s.announcer.Announce(detections)

	rendered, err := s.renderer.Render(raw, detections, showObjects)
	if err != nil {
		return nil, fmt.Errorf("Failed to render %v: %w", imageKey, err)
	}
	if rendered.Draw.CaptionsSkipped {
		s.Log.Infof("Caption font is not ready yet. Rendered %v without captions", imageKey)
	}

	record := model.Analysis{
		ImageKey:      imageKey,
		Sentence:      announcement.Sentence,
		Label:         announcement.Candidate.Label,
		Prominence:    announcement.Candidate.Prominence,
		NumDetections: nn.CountInstances(detections),
		NumDrawn:      len(rendered.Draw.Drawn),
		ShowObjects:   showObjects,
		Width:         rendered.Width,
		Height:        rendered.Height,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.DB.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("Failed to save analysis of %v: %w", imageKey, err)
	}
	if s.sharedLabel != nil {
		s.sharedLabel.Set(record.ID, record.Sentence)
	}
	s.Log.Infof("Analyzed %v: %v of %v objects in the forward path. '%v'", imageKey, record.NumDrawn, record.NumDetections, record.Sentence)

	return &analysisResult{
		Record:       record,
		Announcement: announcement,
		Rendered:     rendered,
	}, nil
}
