// Package face holds the value types shared by the recognition pipeline.
package face

import (
	"fmt"
	"image"
	"math"
)

// Embedding is a fixed-length face descriptor. It is never mutated after
// it has been computed.
type Embedding []float64

// Entry is one reference embedding in the gallery. Several entries may share
// an identity.
type Entry struct {
	Identity  string
	Embedding Embedding
}

// Detected is a face found in a frame. Box is in source-frame coordinates.
type Detected struct {
	Box       image.Rectangle
	Embedding Embedding
}

// Distance returns the Euclidean distance between a and b. It returns +Inf
// when the dimensions differ.
func Distance(a, b Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match is the outcome of comparing a detected face with the gallery. It is
// either Known (identity and distance) or Unknown.
type Match struct {
	identity string
	distance float64
	known    bool
}

// Known builds a match for a gallery identity.
func Known(identity string, distance float64) Match {
	return Match{identity: identity, distance: distance, known: true}
}

// Unknown builds a non-match. distance is the best distance seen, or +Inf for
// an empty gallery.
func Unknown(distance float64) Match {
	return Match{distance: distance}
}

// Identity returns the matched identity and true for a Known match.
func (m Match) Identity() (string, bool) {
	return m.identity, m.known
}

// IsKnown reports whether m is a Known match.
func (m Match) IsKnown() bool { return m.known }

// Distance returns the best distance observed.
func (m Match) Distance() float64 { return m.distance }

// Label is the display text used for annotations.
func (m Match) Label() string {
	if m.known {
		return m.identity
	}
	return "Unknown"
}

func (m Match) String() string {
	if m.known {
		return fmt.Sprintf("Known(%s, %.3f)", m.identity, m.distance)
	}
	return fmt.Sprintf("Unknown(%.3f)", m.distance)
}
