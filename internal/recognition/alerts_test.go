package recognition

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/facewatch/internal/evidence"
	"github.com/kalambet/facewatch/internal/face"
	"github.com/kalambet/facewatch/internal/notifylog"
	"github.com/kalambet/facewatch/internal/speech"
)

// fullPool refuses every job, like a pool whose queue is saturated.
type fullPool struct{ offered int }

func (p *fullPool) Submit(evidence.Job) bool {
	p.offered++
	return false
}

func TestProcessFrame_RejectedSubmitNotCounted(t *testing.T) {
	pool := &fullPool{}
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := newTestLoop(nil, &fixedDetector{faces: []face.Detected{at(0.2)}}, pool, c, Options{})

	_, err := l.ProcessFrame(context.Background(), jpegFrame(t, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, pool.offered)
	assert.Zero(t, l.Status().Alerts)

	// The window is spent even though nothing was recorded.
	c.t = c.t.Add(5 * time.Second)
	_, err = l.ProcessFrame(context.Background(), jpegFrame(t, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, pool.offered)
}

func TestProcessFrame_OneRecordPerCrowdedFrame(t *testing.T) {
	writer, err := evidence.NewWriter(speech.Disabled{}, evidence.WriterOptions{Dir: t.TempDir()})
	require.NoError(t, err)
	alerts := notifylog.New(10, nil)
	pool := evidence.NewPool(writer, alerts, 1, 8, nil)
	pool.Start()

	det := &fixedDetector{faces: []face.Detected{at(0.1), at(0.2), at(0.3), at(0.4), at(0.5)}}
	l := newTestLoop(nil, det, pool, &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}, Options{Location: "Камера 1"})

	res, err := l.ProcessFrame(context.Background(), jpegFrame(t, 1))
	require.NoError(t, err)
	assert.Len(t, res, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	recent := alerts.Recent(0)
	require.Len(t, recent, 1)
	rec := recent[0]
	assert.Equal(t, "Alice", rec.Identity)
	assert.Equal(t, "Камера 1", rec.Location)
	assert.False(t, rec.HasAudio())
	assert.Equal(t, uint64(1), l.Status().Alerts)

	info, err := os.Stat(filepath.Join(writer.Dir(), rec.ImageRef))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
