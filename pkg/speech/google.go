package speech

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/cyclopcam/logs"
	"google.golang.org/api/option"
)

// GoogleTTS uses Google Cloud Text-to-Speech
type GoogleTTS struct {
	log    logs.Log
	client *texttospeech.Client
}

// NewGoogleTTS creates a Text-to-Speech client.
// If apiKey is empty, the default application credentials are used.
func NewGoogleTTS(ctx context.Context, log logs.Log, apiKey string) (*GoogleTTS, error) {
	opts := []option.ClientOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("Failed to create Text-to-Speech client: %w", err)
	}
	return &GoogleTTS{
		log:    log,
		client: client,
	}, nil
}

func (g *GoogleTTS) Close() error {
	return g.client.Close()
}

func (g *GoogleTTS) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	req, err := BuildRequest(text, voice)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Text-to-Speech request failed: %w", err)
	}
	g.log.Debugf("Synthesized %v bytes of audio for %v characters", len(resp.AudioContent), len([]rune(text)))
	return resp.AudioContent, nil
}

// BuildRequest creates the synthesis request for text.
// Unknown gender or encoding names are errors, so that config mistakes show up early.
func BuildRequest(text string, voice VoiceConfig) (*texttospeechpb.SynthesizeSpeechRequest, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voice = voice.WithDefaults()
	gender, err := ParseGender(voice.Gender)
	if err != nil {
		return nil, err
	}
	encoding, err := ParseAudioEncoding(voice.AudioEncoding)
	if err != nil {
		return nil, err
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: voice.LanguageCode,
			Name:         voice.Name,
			SsmlGender:   gender,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: encoding,
		},
	}, nil
}

func ParseGender(s string) (texttospeechpb.SsmlVoiceGender, error) {
	v, ok := texttospeechpb.SsmlVoiceGender_value[strings.ToUpper(s)]
	if !ok {
		return 0, fmt.Errorf("Unknown voice gender '%v'", s)
	}
	return texttospeechpb.SsmlVoiceGender(v), nil
}

func ParseAudioEncoding(s string) (texttospeechpb.AudioEncoding, error) {
	v, ok := texttospeechpb.AudioEncoding_value[strings.ToUpper(s)]
	if !ok || v == int32(texttospeechpb.AudioEncoding_AUDIO_ENCODING_UNSPECIFIED) {
		return 0, fmt.Errorf("Unknown audio encoding '%v'", s)
	}
	return texttospeechpb.AudioEncoding(v), nil
}
