// Package gallery holds the reference embeddings faces are matched against.
package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/facewatch/internal/face"
)

var (
	// ErrEnrollmentRejected is the parent of every enrollment rejection.
	ErrEnrollmentRejected = errors.New("enrollment rejected")
	ErrNoFaceFound        = fmt.Errorf("%w: no face found", ErrEnrollmentRejected)
	ErrMultipleFaces      = fmt.Errorf("%w: more than one face found", ErrEnrollmentRejected)
	ErrUndecodableImage   = fmt.Errorf("%w: image could not be decoded", ErrEnrollmentRejected)
	ErrEmptyIdentity      = fmt.Errorf("%w: identity is empty", ErrEnrollmentRejected)

	// ErrStorageCorrupt means the persisted gallery could not be read.
	ErrStorageCorrupt = errors.New("gallery storage corrupt")
)

// Detector finds faces and computes their embeddings.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]face.Detected, error)
}

// Gallery is read concurrently through immutable snapshots. Writers are
// serialized and publish a new snapshot only after it has been persisted.
type Gallery struct {
	mu       sync.Mutex
	snap     atomic.Pointer[[]face.Entry]
	store    Store
	detector Detector
	logger   *slog.Logger
}

// Open loads the gallery from store. A corrupt store is logged and the
// gallery starts empty. A nil logger means slog.Default().
func Open(store Store, detector Detector, logger *slog.Logger) (*Gallery, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gallery{store: store, detector: detector, logger: logger}

	entries, err := store.Load()
	if err != nil {
		if !errors.Is(err, ErrStorageCorrupt) {
			return nil, err
		}
		g.logger.Warn("gallery storage unreadable, starting empty", "error", err)
		entries = nil
	}
	g.publish(entries)
	g.logger.Info("gallery loaded", "entries", len(entries), "identities", len(identities(entries)))
	return g, nil
}

// Snapshot returns the current entries. The slice must not be modified.
func (g *Gallery) Snapshot() []face.Entry {
	return *g.snap.Load()
}

// Len returns the number of entries.
func (g *Gallery) Len() int {
	return len(g.Snapshot())
}

// Identities returns the distinct enrolled identities, sorted.
func (g *Gallery) Identities() []string {
	return identities(g.Snapshot())
}

// Enroll detects exactly one face in imageData and adds it under identity.
// The new gallery is persisted before Enroll returns successfully.
func (g *Gallery) Enroll(ctx context.Context, identity string, imageData []byte) (face.Entry, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return face.Entry{}, ErrEmptyIdentity
	}
	entry, err := g.extract(ctx, identity, imageData)
	if err != nil {
		return face.Entry{}, err
	}
	if err := g.add(entry); err != nil {
		return face.Entry{}, err
	}
	g.logger.Info("face enrolled", "identity", identity, "entries", g.Len())
	return entry, nil
}

// ImportResult reports the outcome of ImportDir per file.
type ImportResult struct {
	Enrolled []string
	Failed   map[string]error
}

// ImportDir enrolls every .jpg, .jpeg and .png file in dir, using the file
// name without extension as the identity. Files are detected concurrently
// and the accepted entries are persisted in a single save.
func (g *Gallery) ImportDir(ctx context.Context, dir string) (ImportResult, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return ImportResult{}, fmt.Errorf("reading %s: %w", dir, err)
	}

	var names []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(f.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	entries := make([]*face.Entry, len(names))
	errs := make([]error, len(names))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, name := range names {
		eg.Go(func() error {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				errs[i] = err
				return nil
			}
			identity := strings.TrimSuffix(name, filepath.Ext(name))
			e, err := g.extract(egCtx, identity, data)
			if err != nil {
				errs[i] = err
				return nil
			}
			entries[i] = &e
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return ImportResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ImportResult{}, err
	}

	res := ImportResult{Failed: make(map[string]error)}
	var accepted []face.Entry
	for i, name := range names {
		if errs[i] != nil {
			res.Failed[name] = errs[i]
			g.logger.Warn("skipping gallery import file", "file", name, "error", errs[i])
			continue
		}
		accepted = append(accepted, *entries[i])
		res.Enrolled = append(res.Enrolled, entries[i].Identity)
	}
	if len(accepted) > 0 {
		if err := g.add(accepted...); err != nil {
			return ImportResult{}, err
		}
	}
	g.logger.Info("gallery import finished", "dir", dir, "enrolled", len(res.Enrolled), "failed", len(res.Failed))
	return res, nil
}

func (g *Gallery) extract(ctx context.Context, identity string, imageData []byte) (face.Entry, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return face.Entry{}, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	faces, err := g.detector.Detect(ctx, img)
	if err != nil {
		return face.Entry{}, fmt.Errorf("detecting faces: %w", err)
	}
	switch len(faces) {
	case 0:
		return face.Entry{}, ErrNoFaceFound
	case 1:
		return face.Entry{Identity: identity, Embedding: faces[0].Embedding}, nil
	default:
		return face.Entry{}, fmt.Errorf("%w (%d)", ErrMultipleFaces, len(faces))
	}
}

func (g *Gallery) add(entries ...face.Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.Snapshot()
	next := make([]face.Entry, 0, len(cur)+len(entries))
	next = append(next, cur...)
	next = append(next, entries...)

	if err := g.store.Save(next); err != nil {
		return fmt.Errorf("persisting gallery: %w", err)
	}
	g.publish(next)
	return nil
}

func (g *Gallery) publish(entries []face.Entry) {
	if entries == nil {
		entries = []face.Entry{}
	}
	g.snap.Store(&entries)
}

func identities(entries []face.Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.Identity]; ok {
			continue
		}
		seen[e.Identity] = struct{}{}
		out = append(out, e.Identity)
	}
	sort.Strings(out)
	return out
}
