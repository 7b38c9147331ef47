// Package notifylog keeps the bounded, newest-first list of alerts shown to
// operators, backed by an optional append-only journal.
package notifylog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/facewatch/internal/storage"
)

// DefaultCapacity is the number of alerts retained in memory.
const DefaultCapacity = 500

// Alert is a fully constructed alert record. ID is zero until the record is
// appended to a Log.
type Alert struct {
	ID        int64
	Identity  string
	Timestamp time.Time
	ImageRef  string
	AudioRef  string // empty when no audio was produced
	Location  string
	Distance  float64
}

// HasAudio reports whether an audio artifact was produced.
func (a Alert) HasAudio() bool { return a.AudioRef != "" }

// Journal persists every appended alert.
type Journal interface {
	SaveAlert(a storage.Alert) error
}

// JournalReader is the read side used to restore state after a restart.
type JournalReader interface {
	RecentAlerts(limit int) ([]storage.Alert, error)
	MaxAlertID() (int64, error)
	CountAlerts() (int64, error)
}

// Log is safe for one writer and many concurrent readers.
type Log struct {
	mu       sync.RWMutex
	items    []Alert // oldest first
	capacity int
	nextID   int64
	total    int64

	journal Journal

	subsMu sync.Mutex
	subs   map[int]chan Alert
	subSeq int

	logger *slog.Logger
}

// New creates a Log retaining at most capacity alerts. journal may be nil.
func New(capacity int, journal Journal) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		journal:  journal,
		subs:     make(map[int]chan Alert),
		logger:   slog.Default(),
	}
}

// Append assigns the next ID to a, stores it, journals it and notifies
// subscribers. It returns the stored record.
func (l *Log) Append(a Alert) Alert {
	l.mu.Lock()
	l.nextID++
	a.ID = l.nextID
	l.items = append(l.items, a)
	if over := len(l.items) - l.capacity; over > 0 {
		l.items = append(l.items[:0:0], l.items[over:]...)
	}
	l.total++
	l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.SaveAlert(toStorage(a)); err != nil {
			l.logger.Error("journaling alert failed", "id", a.ID, "identity", a.Identity, "error", err)
		}
	}
	l.broadcast(a)
	return a
}

// Recent returns up to n alerts, newest first. n <= 0 returns everything retained.
func (l *Log) Recent(n int) []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.items) {
		n = len(l.items)
	}
	out := make([]Alert, n)
	for i := range n {
		out[i] = l.items[len(l.items)-1-i]
	}
	return out
}

// Get returns the retained alert with the given ID.
func (l *Log) Get(id int64) (Alert, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].ID == id {
			return l.items[i], true
		}
	}
	return Alert{}, false
}

// Clear drops all retained alerts and returns how many were dropped. IDs keep
// increasing and the journal is left untouched.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.items)
	l.items = nil
	return n
}

// Len returns the number of retained alerts.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Total returns the number of alerts ever appended, including those restored
// from the journal.
func (l *Log) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Restore seeds the log from the journal: recent alerts are loaded and the ID
// sequence continues after the highest journaled ID.
func (l *Log) Restore(r JournalReader) error {
	maxID, err := r.MaxAlertID()
	if err != nil {
		return fmt.Errorf("reading max alert id: %w", err)
	}
	total, err := r.CountAlerts()
	if err != nil {
		return fmt.Errorf("counting alerts: %w", err)
	}
	recent, err := r.RecentAlerts(l.capacity)
	if err != nil {
		return fmt.Errorf("reading recent alerts: %w", err)
	}

	items := make([]Alert, len(recent))
	for i, a := range recent {
		items[len(recent)-1-i] = FromStorage(a)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(items, l.items...)
	if maxID > l.nextID {
		l.nextID = maxID
	}
	l.total += total
	return nil
}

// Subscribe returns a channel receiving every alert appended from now on and
// a cancel func. Pushes to a full channel are dropped.
func (l *Log) Subscribe(buffer int) (<-chan Alert, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Alert, buffer)

	l.subsMu.Lock()
	l.subSeq++
	id := l.subSeq
	l.subs[id] = ch
	l.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subsMu.Lock()
			delete(l.subs, id)
			close(ch)
			l.subsMu.Unlock()
		})
	}
}

func (l *Log) broadcast(a Alert) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for id, ch := range l.subs {
		select {
		case ch <- a:
		default:
			l.logger.Debug("subscriber too slow, dropping push", "subscriber", id, "alert", a.ID)
		}
	}
}

func toStorage(a Alert) storage.Alert {
	return storage.Alert{
		ID:         a.ID,
		Identity:   a.Identity,
		DetectedAt: a.Timestamp,
		ImagePath:  a.ImageRef,
		AudioPath:  a.AudioRef,
		Location:   a.Location,
		Distance:   a.Distance,
	}
}

// FromStorage converts a journaled alert back into a log record.
func FromStorage(a storage.Alert) Alert {
	return Alert{
		ID:        a.ID,
		Identity:  a.Identity,
		Timestamp: a.DetectedAt,
		ImageRef:  a.ImagePath,
		AudioRef:  a.AudioPath,
		Location:  a.Location,
		Distance:  a.Distance,
	}
}
