package gallery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/facewatch/internal/face"
)

// stubDetector returns the faces configured for the decoded image width.
type stubDetector struct {
	byWidth map[int][]face.Detected
	err     error
}

func (d *stubDetector) Detect(_ context.Context, img image.Image) ([]face.Detected, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.byWidth[img.Bounds().Dx()], nil
}

func pngOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, 4))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func oneFace(vec ...float64) []face.Detected {
	return []face.Detected{{Box: image.Rect(0, 0, 2, 2), Embedding: vec}}
}

func newTestGallery(t *testing.T, det Detector) (*Gallery, *FileStore) {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "face_database.json"))
	g, err := Open(store, det, nil)
	require.NoError(t, err)
	return g, store
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	g, _ := newTestGallery(t, &stubDetector{})
	assert.Equal(t, 0, g.Len())
	assert.NotNil(t, g.Snapshot())
}

func TestOpen_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face_database.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	g, err := Open(NewFileStore(path), &stubDetector{}, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
	assert.Contains(t, logs.String(), "gallery storage unreadable")
	assert.Contains(t, logs.String(), "gallery loaded")
}

func TestFileStore_LoadCorruptReturnsSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"entries":[{"identity":"A","embedding":"AAA"}]}`), 0o644))

	_, err := NewFileStore(path).Load()
	assert.ErrorIs(t, err, ErrStorageCorrupt)
}

func TestEnroll_SingleFaceSucceedsAndPersists(t *testing.T) {
	det := &stubDetector{byWidth: map[int][]face.Detected{8: oneFace(0.1, 0.2, 0.3)}}
	g, store := newTestGallery(t, det)

	entry, err := g.Enroll(context.Background(), "Alice", pngOfWidth(t, 8))
	require.NoError(t, err)
	assert.Equal(t, "Alice", entry.Identity)
	assert.Equal(t, 1, g.Len())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Alice", loaded[0].Identity)
}

func TestEnroll_NoFaceRejected(t *testing.T) {
	g, _ := newTestGallery(t, &stubDetector{})

	_, err := g.Enroll(context.Background(), "Alice", pngOfWidth(t, 8))
	assert.ErrorIs(t, err, ErrNoFaceFound)
	assert.ErrorIs(t, err, ErrEnrollmentRejected)
	assert.Equal(t, 0, g.Len())
}

func TestEnroll_MultipleFacesRejected(t *testing.T) {
	two := append(oneFace(0, 0), oneFace(1, 1)...)
	det := &stubDetector{byWidth: map[int][]face.Detected{8: two}}
	g, store := newTestGallery(t, det)

	_, err := g.Enroll(context.Background(), "Alice", pngOfWidth(t, 8))
	assert.ErrorIs(t, err, ErrMultipleFaces)
	assert.Equal(t, 0, g.Len())

	_, statErr := os.Stat(store.Path())
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "rejected enrollment must not touch storage")
}

func TestEnroll_UndecodableImageRejected(t *testing.T) {
	g, _ := newTestGallery(t, &stubDetector{})

	_, err := g.Enroll(context.Background(), "Alice", []byte("not an image"))
	assert.ErrorIs(t, err, ErrUndecodableImage)
}

func TestEnroll_EmptyIdentityRejected(t *testing.T) {
	g, _ := newTestGallery(t, &stubDetector{})

	_, err := g.Enroll(context.Background(), "  ", pngOfWidth(t, 8))
	assert.ErrorIs(t, err, ErrEmptyIdentity)
}

func TestEnroll_DetectorErrorIsNotRejection(t *testing.T) {
	g, _ := newTestGallery(t, &stubDetector{err: errors.New("sidecar down")})

	_, err := g.Enroll(context.Background(), "Alice", pngOfWidth(t, 8))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEnrollmentRejected)
}

type failingStore struct{ FileStore }

func (failingStore) Save([]face.Entry) error { return errors.New("read-only filesystem") }

func TestEnroll_SaveFailureDoesNotPublish(t *testing.T) {
	det := &stubDetector{byWidth: map[int][]face.Detected{8: oneFace(1, 2)}}
	g, err := Open(&failingStore{}, det, nil)
	require.NoError(t, err)

	_, err = g.Enroll(context.Background(), "Alice", pngOfWidth(t, 8))
	require.Error(t, err)
	assert.Equal(t, 0, g.Len())
}

func TestRoundTripIsBitExact(t *testing.T) {
	vec := face.Embedding{
		math.Pi, math.Copysign(0, -1), math.SmallestNonzeroFloat64, math.MaxFloat64,
		1.0 / 3.0, -123.456789e-12,
	}
	det := &stubDetector{byWidth: map[int][]face.Detected{8: oneFace(vec...)}}
	g, store := newTestGallery(t, det)

	_, err := g.Enroll(context.Background(), "Alice", pngOfWidth(t, 8))
	require.NoError(t, err)

	reopened, err := Open(store, det, nil)
	require.NoError(t, err)
	got := reopened.Snapshot()
	require.Len(t, got, 1)
	require.Len(t, got[0].Embedding, len(vec))
	for i := range vec {
		assert.Equal(t, math.Float64bits(vec[i]), math.Float64bits(got[0].Embedding[i]), "component %d", i)
	}
}

func TestIdentities_Distinct(t *testing.T) {
	det := &stubDetector{byWidth: map[int][]face.Detected{
		8: oneFace(0, 1),
		9: oneFace(0, 2),
	}}
	g, _ := newTestGallery(t, det)

	_, err := g.Enroll(context.Background(), "Bob", pngOfWidth(t, 8))
	require.NoError(t, err)
	_, err = g.Enroll(context.Background(), "Bob", pngOfWidth(t, 9))
	require.NoError(t, err)
	_, err = g.Enroll(context.Background(), "Alice", pngOfWidth(t, 8))
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"Alice", "Bob"}, g.Identities())
}

func TestImportDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Alice.png"), pngOfWidth(t, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Crowd.png"), pngOfWidth(t, 9), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	det := &stubDetector{byWidth: map[int][]face.Detected{
		8: oneFace(1, 1),
		9: append(oneFace(0, 0), oneFace(2, 2)...),
	}}
	g, store := newTestGallery(t, det)

	res, err := g.ImportDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, res.Enrolled)
	require.Contains(t, res.Failed, "Crowd.png")
	assert.ErrorIs(t, res.Failed["Crowd.png"], ErrMultipleFaces)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestSnapshotStableDuringEnroll(t *testing.T) {
	det := &stubDetector{byWidth: map[int][]face.Detected{8: oneFace(1, 1)}}
	g, _ := newTestGallery(t, det)

	before := g.Snapshot()
	img := pngOfWidth(t, 8)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Enroll(context.Background(), "Alice", img)
		}()
	}
	for range 100 {
		snap := g.Snapshot()
		for _, e := range snap {
			assert.Equal(t, "Alice", e.Identity)
		}
	}
	wg.Wait()

	assert.Empty(t, before)
	assert.Equal(t, 8, g.Len())
}
