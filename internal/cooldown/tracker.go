// Package cooldown rate-limits alerts per identity.
package cooldown

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultWindow is the minimum spacing between two alerts for one identity.
const DefaultWindow = 30 * time.Second

// Tracker remembers the last alert instant per identity. Entries are evicted
// once they are older than the retention period, which is never shorter than
// the window.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	last   *cache.Cache
}

// New creates a Tracker. retention below window is raised to window.
func New(window, retention time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if retention < window {
		retention = window
	}
	return &Tracker{
		window: window,
		last:   cache.New(retention, retention),
	}
}

// Window returns the configured cooldown window.
func (t *Tracker) Window() time.Duration { return t.window }

// ShouldAlert reports whether identity may alert at now and, if so, records
// now as its last alert. The check and the update happen atomically.
func (t *Tracker) ShouldAlert(identity string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.last.Get(identity); ok {
		if now.Sub(v.(time.Time)) < t.window {
			return false
		}
	}
	t.last.SetDefault(identity, now)
	return true
}

// Last returns the last alert instant recorded for identity.
func (t *Tracker) Last(identity string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.last.Get(identity)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Len returns the number of identities currently tracked.
func (t *Tracker) Len() int {
	return t.last.ItemCount()
}
