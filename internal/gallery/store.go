package gallery

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/kalambet/facewatch/internal/face"
)

// Store persists the full gallery.
type Store interface {
	Load() ([]face.Entry, error)
	Save(entries []face.Entry) error
}

const fileFormatVersion = 1

// FileStore keeps the gallery in one JSON file. Saves replace the file
// atomically, so a crash leaves either the old or the new set on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

type fileEnvelope struct {
	Version int         `json:"version"`
	Entries []fileEntry `json:"entries"`
}

type fileEntry struct {
	Identity  string `json:"identity"`
	Embedding string `json:"embedding"` // base64 little-endian float64
}

// Load reads the gallery. A missing file yields an empty gallery; an
// unreadable or malformed one yields ErrStorageCorrupt.
func (s *FileStore) Load() ([]face.Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorageCorrupt, s.path, err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrStorageCorrupt, s.path, err)
	}
	if env.Version != fileFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrStorageCorrupt, env.Version)
	}

	entries := make([]face.Entry, 0, len(env.Entries))
	for i, fe := range env.Entries {
		raw, err := base64.StdEncoding.DecodeString(fe.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrStorageCorrupt, i, err)
		}
		vec, err := decodeFloat64s(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrStorageCorrupt, i, err)
		}
		if fe.Identity == "" || len(vec) == 0 {
			return nil, fmt.Errorf("%w: entry %d is incomplete", ErrStorageCorrupt, i)
		}
		entries = append(entries, face.Entry{Identity: fe.Identity, Embedding: vec})
	}
	return entries, nil
}

// Save writes entries to a temp file in the same directory, syncs it and
// renames it over the previous file.
func (s *FileStore) Save(entries []face.Entry) error {
	env := fileEnvelope{Version: fileFormatVersion, Entries: make([]fileEntry, len(entries))}
	for i, e := range entries {
		env.Entries[i] = fileEntry{
			Identity:  e.Identity,
			Embedding: base64.StdEncoding.EncodeToString(encodeFloat64s(e.Embedding)),
		}
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding gallery: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating gallery dir: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// encodeFloat64s serializes v as little-endian IEEE-754 bits.
func encodeFloat64s(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// decodeFloat64s is the inverse of encodeFloat64s.
func decodeFloat64s(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
