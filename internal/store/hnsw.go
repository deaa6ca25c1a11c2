package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore using the coder/hnsw pure Go HNSW graph.
//
// Replaced and deleted IDs are removed lazily: the graph node stays but its
// key is unmapped, so it never appears in results.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[string]Metadata
	nextKey uint64

	closed bool
}

// hnswMetadata stores ID mappings and vector metadata for persistence.
type hnswMetadata struct {
	IDMap   map[string]uint64
	Meta    map[string]Metadata
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates a new HNSW-based vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]Metadata),
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add inserts vectors with their IDs and metadata.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32, meta []Metadata) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if meta != nil && len(meta) != len(ids) {
		return fmt.Errorf("ids and metadata length mismatch: %d vs %d", len(ids), len(meta))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[id] = key
		s.keyMap[key] = id
		if meta != nil && meta[i] != nil {
			m := make(Metadata, len(meta[i]))
			for k, v := range meta[i] {
				m[k] = v
			}
			s.meta[id] = m
		} else {
			delete(s.meta, id)
		}
	}

	return nil
}

// Search finds the k nearest neighbours satisfying filter.
//
// The graph is searched with an oversampled width that doubles until k
// live, matching entries are found or the whole graph has been visited.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	total := s.graph.Len()
	if total == 0 || k <= 0 || len(s.idMap) == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	k = min(k, total)
	fetch := k
	if len(filter) > 0 || total > len(s.idMap) {
		fetch = min(k*4, total)
	}

	var results []*VectorResult
	for {
		if fetch > total {
			fetch = total
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results = results[:0]
		for _, node := range s.graph.Search(q, fetch) {
			id, ok := s.keyMap[node.Key]
			if !ok {
				continue
			}
			meta := s.meta[id]
			if !filter.Matches(meta) {
				continue
			}
			results = append(results, &VectorResult{
				ID:       id,
				Distance: s.graph.Distance(q, node.Value),
				Metadata: meta,
			})
		}

		if len(results) >= k || fetch >= total {
			break
		}
		fetch *= 2
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes vectors by ID.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.meta, id)
		}
	}

	return nil
}

// Contains checks if ID exists.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Dimensions returns the configured vector dimension.
func (s *HNSWStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// Save persists the graph to path and the ID mappings to path + ".meta".
// Both are written to a temp file and renamed into place.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		Meta:    s.meta,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load replaces the store contents with a graph saved by Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	meta, err := readMetadata(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	graph := newGraph(meta.Config)
	// coder/hnsw Import reads byte-wise.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.graph = graph
	s.config = meta.Config
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.meta = meta.Meta
	if s.meta == nil {
		s.meta = make(map[string]Metadata)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

func readMetadata(path string) (*hnswMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	if meta.IDMap == nil {
		meta.IDMap = make(map[string]uint64)
	}
	return &meta, nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadHNSWStoreDimensions reads the dimensions from a saved store's metadata.
// Returns 0 if no store has been saved at vectorPath.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	meta, err := readMetadata(vectorPath + ".meta")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
