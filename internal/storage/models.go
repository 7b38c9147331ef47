package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Alert is one journaled recognition alert.
type Alert struct {
	ID         int64
	Identity   string
	DetectedAt time.Time
	ImagePath  string
	AudioPath  string // empty when speech synthesis failed
	Location   string
	Distance   float64
}
