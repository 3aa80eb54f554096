package speech

import (
	"context"
	"strings"
)

// Echo is a Synthesizer that returns the text itself as the "audio".
// It's used when no speech backend is configured, and in tests.
type Echo struct {
	Err      error
	LastText string
}

func (e *Echo) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if e.Err != nil {
		return nil, e.Err
	}
	e.LastText = text
	return []byte(text), nil
}
