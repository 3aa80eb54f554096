// Package speech turns announcement sentences into audio
package speech

import (
	"context"
	"errors"
)

var ErrEmptyText = errors.New("Nothing to say")

// VoiceConfig selects the synthesized voice
type VoiceConfig struct {
	LanguageCode  string `json:"languageCode"`  // eg "ko-KR"
	Name          string `json:"name"`          // eg "ko-KR-Neural2-c"
	Gender        string `json:"gender"`        // MALE, FEMALE, NEUTRAL
	AudioEncoding string `json:"audioEncoding"` // MP3, OGG_OPUS, LINEAR16
}

// DefaultVoice is a Korean male neural voice, encoded as MP3
var DefaultVoice = VoiceConfig{
	LanguageCode:  "ko-KR",
	Name:          "ko-KR-Neural2-c",
	Gender:        "MALE",
	AudioEncoding: "MP3",
}

// WithDefaults returns a copy of v, with empty fields taken from DefaultVoice
func (v VoiceConfig) WithDefaults() VoiceConfig {
	if v.LanguageCode == "" {
		v.LanguageCode = DefaultVoice.LanguageCode
	}
	if v.Name == "" && v.LanguageCode == DefaultVoice.LanguageCode {
		v.Name = DefaultVoice.Name
	}
	if v.Gender == "" {
		v.Gender = DefaultVoice.Gender
	}
	if v.AudioEncoding == "" {
		v.AudioEncoding = DefaultVoice.AudioEncoding
	}
	return v
}

// ContentType returns the MIME type of audio produced with this config
func (v VoiceConfig) ContentType() string {
	switch v.AudioEncoding {
	case "OGG_OPUS":
		return "audio/ogg"
	case "LINEAR16":
		return "audio/wav"
	case "MULAW", "ALAW":
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}

// Synthesizer converts text into encoded audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error)
}
