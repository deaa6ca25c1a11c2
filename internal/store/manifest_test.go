package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		Fingerprint: "abc",
		Model:       "static",
		Dimensions:  256,
		Documents:   3,
		Vectors:     6,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	require.NoError(t, WriteManifest(dir, m))
	got, err := ReadManifest(dir)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, m.Fingerprint, got.Fingerprint)
	assert.Equal(t, m.Vectors, got.Vectors)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.Matches("abc", "static", 256))
	assert.False(t, got.Matches("abd", "static", 256))
	assert.False(t, got.Matches("abc", "nomic-embed-text", 256))
	assert.False(t, got.Matches("abc", "static", 768))
}

func TestReadManifest_Missing(t *testing.T) {
	m, err := ReadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, m.Matches("abc", "static", 256))
}

func TestReadManifest_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ManifestPath(dir), []byte("{"), 0644))

	_, err := ReadManifest(dir)
	assert.ErrorContains(t, err, "parse manifest")
}
