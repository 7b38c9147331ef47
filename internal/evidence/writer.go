// Package evidence persists the artifacts that back an alert: the captured
// frame and, when speech synthesis works, a spoken announcement.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/kalambet/facewatch/internal/metrics"
	"github.com/kalambet/facewatch/internal/notifylog"
	"github.com/kalambet/facewatch/internal/speech"
)

// ErrEvidencePersist means the frame could not be written; no alert exists.
var ErrEvidencePersist = errors.New("evidence: frame not persisted")

// Job is an alert decided by the recognition loop, waiting for evidence.
type Job struct {
	Identity  string
	Distance  float64
	Timestamp time.Time
	Frame     []byte // encoded JPEG, not modified after submission
	Location  string
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Dir          string
	Lang         string
	Template     string
	SynthTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Writer stores images and audio under one directory.
type Writer struct {
	dir          string
	synth        speech.Synthesizer
	lang         string
	template     string
	synthTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewWriter creates the evidence directory if needed.
func NewWriter(synth speech.Synthesizer, opts WriterOptions) (*Writer, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating evidence dir: %w", err)
	}
	if opts.Lang == "" {
		opts.Lang = "ru"
	}
	if opts.SynthTimeout <= 0 {
		opts.SynthTimeout = 20 * time.Second
	}
	if synth == nil {
		synth = speech.Disabled{}
	}
	return &Writer{
		dir:          opts.Dir,
		synth:        synth,
		lang:         opts.Lang,
		template:     opts.Template,
		synthTimeout: opts.SynthTimeout,
		metrics:      opts.Metrics,
		logger:       slog.Default(),
	}, nil
}

// Dir returns the evidence directory.
func (w *Writer) Dir() string { return w.dir }

// Record writes the frame, then tries to synthesize audio. The returned alert
// has no ID yet. A frame write failure returns ErrEvidencePersist; an audio
// failure only leaves AudioRef empty.
func (w *Writer) Record(ctx context.Context, job Job) (notifylog.Alert, error) {
	if len(job.Frame) == 0 {
		return notifylog.Alert{}, fmt.Errorf("%w: empty frame", ErrEvidencePersist)
	}
	base := artifactBase(job.Identity, job.Timestamp)

	imageName := "detected_" + base + ".jpg"
	if err := writeFileSynced(filepath.Join(w.dir, imageName), job.Frame); err != nil {
		w.metrics.EvidenceFailure("image")
		return notifylog.Alert{}, fmt.Errorf("%w: %v", ErrEvidencePersist, err)
	}

	alert := notifylog.Alert{
		Identity:  job.Identity,
		Timestamp: job.Timestamp,
		ImageRef:  imageName,
		Location:  job.Location,
		Distance:  job.Distance,
	}

	audioName := "voice_" + base + ".mp3"
	if err := w.speak(ctx, job.Identity, filepath.Join(w.dir, audioName)); err != nil {
		w.metrics.EvidenceFailure("audio")
		if errors.Is(err, speech.ErrDisabled) {
			w.logger.Debug("speech disabled, alert has no audio", "identity", job.Identity)
		} else {
			w.logger.Warn("audio announcement unavailable", "identity", job.Identity, "error", err)
		}
		return alert, nil
	}
	alert.AudioRef = audioName
	return alert, nil
}

func (w *Writer) speak(ctx context.Context, identity, path string) error {
	ctx, cancel := context.WithTimeout(ctx, w.synthTimeout)
	defer cancel()

	audio, err := w.synth.Synthesize(ctx, speech.Message(w.template, identity), w.lang)
	if err != nil {
		return err
	}
	if err := writeFileSynced(path, audio); err != nil {
		return fmt.Errorf("saving audio: %w", err)
	}
	return nil
}

// artifactBase builds "<identity>_<yyyymmdd_hhmmss>_<uuid8>".
func artifactBase(identity string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s", slug(identity), ts.Format("20060102_150405"), uuid.NewString()[:8])
}

// slug keeps letters and digits from any script and replaces everything else
// with underscores.
func slug(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "face"
	}
	return out
}

// writeFileSynced writes data to a temp file, syncs it and renames it into
// place so readers never see a partial artifact.
func writeFileSynced(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
