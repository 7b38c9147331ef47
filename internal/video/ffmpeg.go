package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// SplitJPEG is a bufio.SplitFunc yielding whole JPEG images delimited by the
// SOI and EOI markers.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegSource decodes a camera URL with ffmpeg into an MJPEG pipe.
type FFmpegSource struct {
	URL               string
	Binary            string        // defaults to "ffmpeg"
	FirstFrameTimeout time.Duration // defaults to 10s
}

// Open starts ffmpeg and waits for the first frame, so an unreachable camera
// fails here rather than on the first read.
func (s *FFmpegSource) Open(ctx context.Context) (Stream, error) {
	bin := s.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	timeout := s.FirstFrameTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, bin, ffmpegArgs(s.URL)...)
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	st := newPipeStream(stdout, func() error {
		cancel()
		err := cmd.Wait()
		if msg := stderr.String(); msg != "" && err != nil {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	})

	firstCtx, firstCancel := context.WithTimeout(ctx, timeout)
	defer firstCancel()
	first, err := st.Read(firstCtx)
	if err != nil {
		closeErr := st.Close()
		if msg := stderr.String(); msg != "" {
			return nil, fmt.Errorf("waiting for first frame: %v (ffmpeg: %s)", err, msg)
		}
		return nil, fmt.Errorf("waiting for first frame: %v (%v)", err, closeErr)
	}
	st.pending = first
	return st, nil
}

func ffmpegArgs(url string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(url, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args, "-i", url, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// pipeStream reads JPEG frames from r in a goroutine and keeps only the
// newest unread frame, so slow consumers see fresh frames instead of a
// growing backlog.
type pipeStream struct {
	frames  chan []byte
	done    chan struct{}
	err     error
	pending []byte

	closeFn   func() error
	closeOnce sync.Once
	closeErr  error
}

func newPipeStream(r io.ReadCloser, closeFn func() error) *pipeStream {
	st := &pipeStream{
		frames:  make(chan []byte, 1),
		done:    make(chan struct{}),
		closeFn: func() error { r.Close(); return closeFn() },
	}
	go st.run(r)
	return st
}

func (s *pipeStream) run(r io.Reader) {
	defer close(s.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	scanner.Split(SplitJPEG)
	for scanner.Scan() {
		frame := bytes.Clone(scanner.Bytes())
		select {
		case s.frames <- frame:
		default:
			select {
			case <-s.frames:
			default:
			}
			s.frames <- frame
		}
	}
	s.err = scanner.Err()
	if s.err == nil {
		s.err = io.EOF
	}
}

func (s *pipeStream) Read(ctx context.Context) ([]byte, error) {
	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f, nil
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		// Drain a frame that raced with the end of the stream.
		select {
		case f := <-s.frames:
			return f, nil
		default:
		}
		if errors.Is(s.err, io.EOF) {
			return nil, fmt.Errorf("stream ended")
		}
		return nil, s.err
	}
}

func (s *pipeStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closeFn()
		<-s.done
	})
	return s.closeErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
