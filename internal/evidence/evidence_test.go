package evidence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/facewatch/internal/notifylog"
	"github.com/kalambet/facewatch/internal/speech"
)

var frame = []byte{0xFF, 0xD8, 1, 2, 3, 0xFF, 0xD9}

type fakeSynth struct {
	audio []byte
	err   error
	texts []string
	mu    sync.Mutex
}

func (s *fakeSynth) Synthesize(_ context.Context, text, lang string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, lang+":"+text)
	s.mu.Unlock()
	return s.audio, s.err
}

func newWriter(t *testing.T, synth speech.Synthesizer) *Writer {
	t.Helper()
	w, err := NewWriter(synth, WriterOptions{Dir: filepath.Join(t.TempDir(), "evidence")})
	require.NoError(t, err)
	return w
}

func TestRecord_WritesImageAndAudio(t *testing.T) {
	synth := &fakeSynth{audio: []byte("ID3")}
	w := newWriter(t, synth)
	ts := time.Date(2024, 5, 1, 14, 3, 9, 0, time.UTC)

	a, err := w.Record(context.Background(), Job{Identity: "Анна Петрова", Timestamp: ts, Frame: frame, Location: "Камера 1", Distance: 0.31})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.ImageRef, "detected_Анна_Петрова_20240501_140309_"), a.ImageRef)
	assert.True(t, strings.HasSuffix(a.ImageRef, ".jpg"))
	assert.True(t, strings.HasPrefix(a.AudioRef, "voice_Анна_Петрова_20240501_140309_"), a.AudioRef)
	assert.Equal(t, "Камера 1", a.Location)
	assert.Equal(t, 0.31, a.Distance)
	assert.Zero(t, a.ID)

	img, err := os.ReadFile(filepath.Join(w.Dir(), a.ImageRef))
	require.NoError(t, err)
	assert.Equal(t, frame, img)

	audio, err := os.ReadFile(filepath.Join(w.Dir(), a.AudioRef))
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), audio)

	require.Len(t, synth.texts, 1)
	assert.Equal(t, "ru:Внимание! Обнаружено лицо: Анна Петрова", synth.texts[0])
}

func TestRecord_AudioFailureKeepsAlert(t *testing.T) {
	w := newWriter(t, &fakeSynth{err: errors.New("service unavailable")})

	a, err := w.Record(context.Background(), Job{Identity: "Bob", Timestamp: time.Now(), Frame: frame})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ImageRef)
	assert.Empty(t, a.AudioRef)
	assert.False(t, a.HasAudio())
}

func TestRecord_DisabledSpeech(t *testing.T) {
	w := newWriter(t, nil)

	a, err := w.Record(context.Background(), Job{Identity: "Bob", Timestamp: time.Now(), Frame: frame})
	require.NoError(t, err)
	assert.Empty(t, a.AudioRef)
}

func TestRecord_ImageFailure(t *testing.T) {
	w := newWriter(t, &fakeSynth{audio: []byte("x")})
	require.NoError(t, os.RemoveAll(w.Dir()))

	_, err := w.Record(context.Background(), Job{Identity: "Bob", Timestamp: time.Now(), Frame: frame})
	assert.ErrorIs(t, err, ErrEvidencePersist)

	_, err = newWriter(t, nil).Record(context.Background(), Job{Identity: "Bob"})
	assert.ErrorIs(t, err, ErrEvidencePersist)
}

func TestArtifactNamesAreUnique(t *testing.T) {
	ts := time.Now()
	assert.NotEqual(t, artifactBase("Bob", ts), artifactBase("Bob", ts))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "Jean-Luc_Picard", slug("Jean-Luc Picard"))
	assert.Equal(t, "a_b", slug("../a/b"))
	assert.Equal(t, "face", slug("///"))
}

// recorderFunc adapts a function to Recorder.
type recorderFunc func(context.Context, Job) (notifylog.Alert, error)

func (f recorderFunc) Record(ctx context.Context, j Job) (notifylog.Alert, error) { return f(ctx, j) }

func TestPool_ProcessesAndDrainsOnShutdown(t *testing.T) {
	log := notifylog.New(10, nil)
	rec := recorderFunc(func(_ context.Context, j Job) (notifylog.Alert, error) {
		time.Sleep(5 * time.Millisecond)
		return notifylog.Alert{Identity: j.Identity, ImageRef: "x.jpg"}, nil
	})
	p := NewPool(rec, log, 2, 8, nil)
	p.Start()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, p.Submit(Job{Identity: id}))
	}
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 4, log.Len())
	assert.False(t, p.Submit(Job{Identity: "late"}), "closed pool must reject")
}

func TestPool_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	log := notifylog.New(10, nil)
	rec := recorderFunc(func(_ context.Context, j Job) (notifylog.Alert, error) {
		<-release
		return notifylog.Alert{Identity: j.Identity}, nil
	})
	p := NewPool(rec, log, 1, 1, nil)
	p.Start()

	require.True(t, p.Submit(Job{Identity: "first"}))
	// wait for the worker to pick up the first job so the queue is empty
	require.Eventually(t, func() bool { return p.Len() == 0 }, time.Second, time.Millisecond)
	require.True(t, p.Submit(Job{Identity: "queued"}))
	assert.False(t, p.Submit(Job{Identity: "overflow"}))

	close(release)
	p.Close()
	assert.Equal(t, 2, log.Len())
}

func TestPool_RecordErrorDiscardsAlert(t *testing.T) {
	log := notifylog.New(10, nil)
	rec := recorderFunc(func(context.Context, Job) (notifylog.Alert, error) {
		return notifylog.Alert{}, ErrEvidencePersist
	})
	p := NewPool(rec, log, 1, 4, nil)
	p.Start()
	p.Submit(Job{Identity: "a"})
	p.Close()

	assert.Zero(t, log.Len())
}

func TestPool_ShutdownWithoutStartRunsQueuedJobs(t *testing.T) {
	log := notifylog.New(10, nil)
	rec := recorderFunc(func(_ context.Context, j Job) (notifylog.Alert, error) {
		return notifylog.Alert{Identity: j.Identity}, nil
	})
	p := NewPool(rec, log, 1, 4, nil)
	p.Submit(Job{Identity: "a"})
	p.Close()
	p.Close()

	assert.Equal(t, 1, log.Len())
}

func TestPool_ShutdownDeadline(t *testing.T) {
	release := make(chan struct{})
	rec := recorderFunc(func(context.Context, Job) (notifylog.Alert, error) {
		<-release
		return notifylog.Alert{}, nil
	})
	p := NewPool(rec, notifylog.New(10, nil), 1, 4, nil)
	p.Start()
	p.Submit(Job{Identity: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	p.Close()
}
