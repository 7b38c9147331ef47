package speech

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited spaces out calls to the wrapped Synthesizer.
type Limited struct {
	next    Synthesizer
	limiter *rate.Limiter
}

// NewLimited allows perMinute calls per minute with a small burst.
func NewLimited(next Synthesizer, perMinute int) *Limited {
	burst := max(1, perMinute/6)
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// Synthesize waits for a token, then delegates. A context that ends first
// fails the call.
func (l *Limited) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, synthErr("rate limited: %v", err)
	}
	return l.next.Synthesize(ctx, text, lang)
}
