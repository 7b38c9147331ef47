package speech

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"
)

// CloudClient synthesizes speech with Google Cloud Text-to-Speech.
type CloudClient struct {
	svc   *texttospeech.Service
	voice string
}

// NewCloud creates a CloudClient. With an empty apiKey the client falls back
// to application default credentials.
func NewCloud(ctx context.Context, apiKey, voice string, opts ...option.ClientOption) (*CloudClient, error) {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating text-to-speech client: %w", err)
	}
	return &CloudClient{svc: svc, voice: voice}, nil
}

// Synthesize returns MP3 audio for text.
func (c *CloudClient) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         c.voice,
		},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}
	resp, err := c.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, synthErr("cloud request: %v", err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, synthErr("decoding audio content: %v", err)
	}
	if len(audio) == 0 {
		return nil, synthErr("empty audio content")
	}
	return audio, nil
}
