// Package video turns a live camera feed into a sequence of JPEG frames and
// classifies transport failures as either recoverable or fatal.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrReconnect means the current stream is unusable; close it and open a
	// new one after a backoff.
	ErrReconnect = errors.New("video: stream lost")
	// ErrFatal means the source could not be opened within the initial
	// retry budget.
	ErrFatal = errors.New("video: source unavailable")
)

// Frame is one captured image. Data is an encoded JPEG owned by the frame.
type Frame struct {
	Seq      uint64
	Captured time.Time
	Data     []byte
}

// Stream yields encoded frames from an open connection.
type Stream interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Source opens streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Adapter wraps a Source with the connect and reconnect policy. It is used
// by a single goroutine.
type Adapter struct {
	src         Source
	stream      Stream
	seq         uint64
	openRetries int
	retryDelay  time.Duration
	readTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewAdapter creates an Adapter. openRetries is the number of initial open
// attempts, spaced by retryDelay. readTimeout bounds the wait for a single
// frame; zero disables it.
func NewAdapter(src Source, openRetries int, retryDelay, readTimeout time.Duration) *Adapter {
	if openRetries <= 0 {
		openRetries = 1
	}
	return &Adapter{
		src:         src,
		openRetries: openRetries,
		retryDelay:  retryDelay,
		readTimeout: readTimeout,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// Connect performs the initial open. It returns an error wrapping ErrFatal
// when every attempt fails, or the context error when cancelled.
func (a *Adapter) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= a.openRetries; attempt++ {
		st, err := a.src.Open(ctx)
		if err == nil {
			a.stream = st
			a.logger.Info("video: stream opened", "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		a.logger.Warn("video: open failed", "attempt", attempt, "max_attempts", a.openRetries, "error", err)
		if attempt == a.openRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.retryDelay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrFatal, a.openRetries, lastErr)
}

// Next returns the next frame. Any read failure, including having no open
// stream or a stream that stays silent past the read timeout, returns an
// error wrapping ErrReconnect. Next never returns ErrFatal.
func (a *Adapter) Next(ctx context.Context) (Frame, error) {
	if a.stream == nil {
		return Frame{}, fmt.Errorf("%w: no open stream", ErrReconnect)
	}
	readCtx := ctx
	if a.readTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, a.readTimeout)
		defer cancel()
	}
	data, err := a.stream.Read(readCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Frame{}, fmt.Errorf("%w: no frame within %v", ErrReconnect, a.readTimeout)
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrReconnect, err)
	}
	a.seq++
	return Frame{Seq: a.seq, Captured: a.now(), Data: data}, nil
}

// Reopen closes the current stream and opens a fresh one. On failure the
// adapter has no stream and Next keeps returning ErrReconnect.
func (a *Adapter) Reopen(ctx context.Context) error {
	a.closeStream()
	st, err := a.src.Open(ctx)
	if err != nil {
		return err
	}
	a.stream = st
	return nil
}

// Close releases the current stream.
func (a *Adapter) Close() error {
	return a.closeStream()
}

func (a *Adapter) closeStream() error {
	if a.stream == nil {
		return nil
	}
	err := a.stream.Close()
	a.stream = nil
	if err != nil {
		a.logger.Debug("video: closing stream", "error", err)
	}
	return err
}
