// Package recognition runs the frame-to-alert pipeline: read a frame, find
// faces, match them against the gallery and hand new alerts to the evidence
// pool.
package recognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/facewatch/internal/cooldown"
	"github.com/kalambet/facewatch/internal/evidence"
	"github.com/kalambet/facewatch/internal/face"
	"github.com/kalambet/facewatch/internal/matcher"
	"github.com/kalambet/facewatch/internal/metrics"
	"github.com/kalambet/facewatch/internal/video"
)

// State is the loop's position in its lifecycle.
type State int32

const (
	Connecting State = iota
	Streaming
	Reconnecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FrameSource is satisfied by *video.Adapter.
type FrameSource interface {
	Connect(ctx context.Context) error
	Next(ctx context.Context) (video.Frame, error)
	Reopen(ctx context.Context) error
	Close() error
}

// Detector finds faces and computes their embeddings.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]face.Detected, error)
}

// Gallery provides the reference embeddings.
type Gallery interface {
	Snapshot() []face.Entry
}

// Submitter accepts alerts for asynchronous evidence capture.
type Submitter interface {
	Submit(job evidence.Job) bool
}

// Options tunes the loop.
type Options struct {
	Location          string
	FrameSkip         int           // process every K-th frame; <=1 processes all
	Scale             float64       // detection downscale factor in (0,1]
	FrameInterval     time.Duration // pause after each frame
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	Annotate          bool
	Now               func() time.Time
}

// Status is a point-in-time view of the loop.
type Status struct {
	State      string    `json:"state"`
	Frames     uint64    `json:"frames"`
	Processed  uint64    `json:"processed"`
	Faces      uint64    `json:"faces"`
	Alerts     uint64    `json:"alerts"`
	Reconnects uint64    `json:"reconnects"`
	LastFrame  time.Time `json:"last_frame,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// Result is one face found in a processed frame, in source coordinates.
type Result struct {
	Box   image.Rectangle
	Match face.Match
}

// Loop drives recognition. Run must be called at most once.
type Loop struct {
	src      FrameSource
	detector Detector
	gallery  Gallery
	matcher  *matcher.Matcher
	cooldown *cooldown.Tracker
	pool     Submitter
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state      atomic.Int32
	frames     atomic.Uint64
	processed  atomic.Uint64
	faces      atomic.Uint64
	alerts     atomic.Uint64
	reconnects atomic.Uint64
	lastFrame  atomic.Int64

	failures int // consecutive stream failures, loop goroutine only

	mu         sync.RWMutex
	lastErr    string
	snapshot   []byte
	snapshotAt time.Time
}

// New wires a Loop. m may be nil.
func New(src FrameSource, det Detector, gal Gallery, mt *matcher.Matcher, cd *cooldown.Tracker, pool Submitter, opts Options, m *metrics.Metrics) *Loop {
	if opts.Scale <= 0 || opts.Scale > 1 {
		opts.Scale = 1
	}
	if opts.FrameSkip < 1 {
		opts.FrameSkip = 1
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectDelay {
		opts.ReconnectMaxDelay = opts.ReconnectDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Loop{
		src:      src,
		detector: det,
		gallery:  gal,
		matcher:  mt,
		cooldown: cd,
		pool:     pool,
		opts:     opts,
		metrics:  m,
		logger:   slog.Default(),
	}
	l.setState(Connecting)
	return l
}

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.metrics.State(int(s))
		l.logger.Debug("recognition: state", "state", s.String())
	}
}

// Run connects and processes frames until ctx is cancelled or the initial
// connect fails. Cancellation returns nil; a failed connect returns an error
// wrapping video.ErrFatal.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setState(Stopped)
	defer l.src.Close()

	l.setState(Connecting)
	if err := l.src.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.setError(err)
		return fmt.Errorf("connecting video source: %w", err)
	}
	l.setState(Streaming)
	l.logger.Info("recognition: streaming", "location", l.opts.Location)

	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := l.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.setError(err)
			if !errors.Is(err, video.ErrReconnect) {
				l.logger.Warn("recognition: unexpected read error", "error", err)
			}
			if err := l.reconnect(ctx); err != nil {
				return nil
			}
			continue
		}

		l.failures = 0
		l.setState(Streaming)
		l.frames.Add(1)
		l.lastFrame.Store(f.Captured.UnixNano())

		if (f.Seq-1)%uint64(l.opts.FrameSkip) != 0 {
			l.metrics.Frame("skipped")
		} else if _, err := l.ProcessFrame(ctx, f); err != nil && ctx.Err() == nil {
			l.setError(err)
			l.logger.Warn("recognition: frame not processed", "seq", f.Seq, "error", err)
		}

		if l.opts.FrameInterval > 0 {
			if err := sleep(ctx, l.opts.FrameInterval); err != nil {
				return nil
			}
		}
	}
}

// reconnect waits out the backoff and reopens the source until it succeeds.
// It only returns an error when ctx is done.
func (l *Loop) reconnect(ctx context.Context) error {
	l.setState(Reconnecting)
	for {
		l.failures++
		delay := backoff(l.failures, l.opts.ReconnectDelay, l.opts.ReconnectMaxDelay)
		l.logger.Warn("recognition: stream lost, reconnecting", "attempt", l.failures, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		l.reconnects.Add(1)
		l.metrics.Reconnect()
		if err := l.src.Reopen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.setError(err)
			l.logger.Warn("recognition: reopen failed", "attempt", l.failures, "error", err)
			continue
		}
		return nil
	}
}

// ProcessFrame runs detection and matching on one frame and submits alerts
// for known identities outside their cooldown window.
func (l *Loop) ProcessFrame(ctx context.Context, f video.Frame) ([]Result, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		l.metrics.Frame("undecodable")
		return nil, fmt.Errorf("decoding frame %d: %w", f.Seq, err)
	}

	small := downscale(img, l.opts.Scale)
	start := time.Now()
	detected, err := l.detector.Detect(ctx, small)
	l.metrics.ObserveDetect(time.Since(start).Seconds())
	if err != nil {
		l.metrics.Frame("detect_error")
		return nil, fmt.Errorf("detecting faces: %w", err)
	}
	l.metrics.Frame("processed")
	l.metrics.Faces(len(detected))
	l.processed.Add(1)
	l.faces.Add(uint64(len(detected)))

	if len(detected) == 0 {
		if l.opts.Annotate {
			l.publish(img, nil)
		}
		return nil, nil
	}

	entries := l.gallery.Snapshot()
	l.metrics.Gallery(len(entries))
	now := l.opts.Now()
	results := make([]Result, 0, len(detected))
	for _, d := range detected {
		m := l.matcher.Match(d.Embedding, entries)
		l.metrics.Match(m.IsKnown())
		results = append(results, Result{Box: scaleRect(d.Box, l.opts.Scale, img.Bounds()), Match: m})

		identity, ok := m.Identity()
		if !ok {
			continue
		}
		if !l.cooldown.ShouldAlert(identity, now) {
			l.logger.Debug("recognition: alert suppressed by cooldown", "identity", identity)
			continue
		}
		accepted := l.pool.Submit(evidence.Job{
			Identity:  identity,
			Distance:  m.Distance(),
			Timestamp: now,
			Frame:     f.Data,
			Location:  l.opts.Location,
		})
		if !accepted {
			// The cooldown slot is already spent; the next alert for this
			// identity waits out the full window.
			l.logger.Warn("recognition: alert dropped, cooldown consumed", "identity", identity)
			continue
		}
		l.alerts.Add(1)
		l.logger.Info("recognition: known face", "identity", identity, "distance", m.Distance())
	}

	if l.opts.Annotate {
		l.publish(img, results)
	}
	return results, nil
}

func (l *Loop) publish(img image.Image, results []Result) {
	data, err := annotate(img, results)
	if err != nil {
		l.logger.Debug("recognition: snapshot encode failed", "error", err)
		return
	}
	l.mu.Lock()
	l.snapshot = data
	l.snapshotAt = l.opts.Now()
	l.mu.Unlock()
}

// Snapshot returns the latest annotated frame as JPEG.
func (l *Loop) Snapshot() ([]byte, time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot, l.snapshotAt, l.snapshot != nil
}

// Status returns the loop's counters.
func (l *Loop) Status() Status {
	l.mu.RLock()
	lastErr := l.lastErr
	l.mu.RUnlock()

	st := Status{
		State:      l.State().String(),
		Frames:     l.frames.Load(),
		Processed:  l.processed.Load(),
		Faces:      l.faces.Load(),
		Alerts:     l.alerts.Load(),
		Reconnects: l.reconnects.Load(),
		LastError:  lastErr,
	}
	if ns := l.lastFrame.Load(); ns != 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	return st
}

func (l *Loop) setError(err error) {
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
}

// backoff returns base*2^(attempt-1), capped at limit.
func backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return limit
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > limit || d <= 0 {
		d = limit
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
