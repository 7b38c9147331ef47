package gallery

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/facewatch/internal/face"
)

func TestFileStore_EmbeddingStoredAsRawBits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face_database.json")
	vec := face.Embedding{0.1, math.Copysign(0, -1), 1.0 / 3.0}
	require.NoError(t, NewFileStore(path).Save([]face.Entry{{Identity: "Alice", Embedding: vec}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw struct {
		Version int `json:"version"`
		Entries []struct {
			Identity  string          `json:"identity"`
			Embedding json.RawMessage `json:"embedding"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, fileFormatVersion, raw.Version)
	require.Len(t, raw.Entries, 1)

	// The embedding is a base64 string, never a JSON number array.
	var encoded string
	require.NoError(t, json.Unmarshal(raw.Entries[0].Embedding, &encoded))
	bits, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.Len(t, bits, 8*len(vec))

	got, err := decodeFloat64s(bits)
	require.NoError(t, err)
	for i := range vec {
		assert.Equal(t, math.Float64bits(vec[i]), math.Float64bits(got[i]), "component %d", i)
	}
}

func TestDecodeFloat64s_RejectsTruncated(t *testing.T) {
	_, err := decodeFloat64s(make([]byte, 12))
	assert.Error(t, err)
}
