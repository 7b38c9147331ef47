// Package speech turns alert messages into spoken audio.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend names accepted by New.
const (
	BackendTranslate = "translate"
	BackendCloud     = "gcloud"
	BackendNone      = "none"
)

// DefaultTemplate is the spoken alert. {name} is replaced with the identity.
const DefaultTemplate = "Внимание! Обнаружено лицо: {name}"

var (
	// ErrSynthesis wraps every backend failure.
	ErrSynthesis = errors.New("speech synthesis failed")
	// ErrDisabled is returned when no backend is configured.
	ErrDisabled = fmt.Errorf("%w: speech disabled", ErrSynthesis)
)

// Synthesizer produces MP3 audio for text in the given locale.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Message renders template for identity.
func Message(template, identity string) string {
	if template == "" {
		template = DefaultTemplate
	}
	return strings.ReplaceAll(template, "{name}", identity)
}

// Options selects and configures a backend.
type Options struct {
	Backend       string
	BaseURL       string // translate endpoint override
	APIKey        string // Cloud Text-to-Speech key
	Voice         string // optional Cloud voice name
	RatePerMinute int    // 0 disables limiting
}

// New builds the configured Synthesizer, wrapped in a rate limiter when
// RatePerMinute is positive.
func New(ctx context.Context, opts Options) (Synthesizer, error) {
	var s Synthesizer
	switch strings.ToLower(opts.Backend) {
	case "", BackendTranslate:
		s = NewTranslate(opts.BaseURL)
	case BackendCloud:
		c, err := NewCloud(ctx, opts.APIKey, opts.Voice)
		if err != nil {
			return nil, err
		}
		s = c
	case BackendNone:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown speech backend %q", opts.Backend)
	}
	if opts.RatePerMinute > 0 {
		s = NewLimited(s, opts.RatePerMinute)
	}
	return s, nil
}

// Disabled always fails with ErrDisabled.
type Disabled struct{}

func (Disabled) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, ErrDisabled
}

func synthErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSynthesis, fmt.Sprintf(format, args...))
}
