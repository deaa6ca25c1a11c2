package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File names inside the index data directory.
const (
	VectorFileName   = "vectors.hnsw"
	ManifestFileName = "manifest.json"
)

// Manifest describes a persisted vector index so a later process can tell
// whether it still matches the corpus and embedder in use.
type Manifest struct {
	Fingerprint string    `json:"fingerprint"`
	Model       string    `json:"model"`
	Dimensions  int       `json:"dimensions"`
	Documents   int       `json:"documents"`
	Vectors     int       `json:"vectors"`
	CreatedAt   time.Time `json:"created_at"`
}

// Matches reports whether the manifest was built from the given corpus
// fingerprint with the given embedding model and dimension.
func (m *Manifest) Matches(fingerprint, model string, dimensions int) bool {
	return m != nil &&
		m.Fingerprint == fingerprint &&
		m.Model == model &&
		m.Dimensions == dimensions
}

// VectorPath returns the HNSW graph path inside dataDir.
func VectorPath(dataDir string) string {
	return filepath.Join(dataDir, VectorFileName)
}

// ManifestPath returns the manifest path inside dataDir.
func ManifestPath(dataDir string) string {
	return filepath.Join(dataDir, ManifestFileName)
}

// ReadManifest loads the manifest in dataDir. It returns (nil, nil) when no
// index has been written there.
func ReadManifest(dataDir string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(dataDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest atomically writes m into dataDir.
func WriteManifest(dataDir string, m *Manifest) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	path := ManifestPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
