// Package matcher decides which gallery identity, if any, a face belongs to.
package matcher

import (
	"log/slog"
	"math"

	"github.com/kalambet/facewatch/internal/face"
)

// DefaultThreshold is the distance below which a face counts as a match.
const DefaultThreshold = 0.6

// Matcher compares embeddings against a gallery snapshot.
type Matcher struct {
	threshold float64
	logger    *slog.Logger
}

// New creates a Matcher. A non-positive threshold falls back to DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold, logger: slog.Default()}
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match returns Known for the nearest entry when its distance is strictly
// below the threshold, otherwise Unknown. Ties resolve to the earliest entry.
func (m *Matcher) Match(e face.Embedding, gallery []face.Entry) face.Match {
	idx, dist := m.nearest(e, gallery)
	if idx < 0 || dist >= m.threshold {
		return face.Unknown(dist)
	}
	return face.Known(gallery[idx].Identity, dist)
}

func (m *Matcher) nearest(e face.Embedding, gallery []face.Entry) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, entry := range gallery {
		if len(entry.Embedding) != len(e) {
			m.logger.Warn("skipping gallery entry with mismatched dimension",
				"identity", entry.Identity, "want", len(e), "got", len(entry.Embedding))
			continue
		}
		d := face.Distance(e, entry.Embedding)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
