package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/store"
)

// errVectorUnavailable reports that the snapshot has no vector index.
var errVectorUnavailable = errors.New("vector index unavailable")

// Snapshot is an immutable corpus with its lexical and vector indexes.
// Readers acquire it for the length of one request; a retired snapshot is
// closed once its last reader releases it.
type Snapshot struct {
	Corpus  *corpus.Corpus
	Lexical store.BM25Index
	// Vector is nil when the vector index could not be built; VectorErr says why.
	Vector    *VectorIndex
	VectorErr error

	Backend     string
	Version     uint64
	BuiltAt     time.Time
	Fingerprint string
	// Loaded is true when vectors came from a persisted index.
	Loaded bool

	refs    atomic.Int64
	retired atomic.Bool
	once    sync.Once
}

func (s *Snapshot) acquire() {
	s.refs.Add(1)
}

func (s *Snapshot) release() {
	if s.refs.Add(-1) == 0 && s.retired.Load() {
		s.close()
	}
}

// retire marks the snapshot replaced. It closes now if no reader holds it.
func (s *Snapshot) retire() {
	s.retired.Store(true)
	if s.refs.Load() == 0 {
		s.close()
	}
}

// Close releases a snapshot built outside an Engine once no reader holds it.
func (s *Snapshot) Close() {
	s.retire()
}

func (s *Snapshot) close() {
	s.once.Do(func() {
		var errs []error
		if s.Lexical != nil {
			errs = append(errs, s.Lexical.Close())
		}
		if s.Vector != nil {
			errs = append(errs, s.Vector.Close())
		}
		if err := errors.Join(errs...); err != nil {
			slog.Warn("failed to close retired snapshot",
				slog.Uint64("version", s.Version),
				slog.String("error", err.Error()))
		}
	})
}

// BuildOptions configures BuildSnapshot.
type BuildOptions struct {
	LexicalBackend string
	BM25           store.BM25Config

	// Embedder builds the vector index. Nil leaves the snapshot lexical-only.
	Embedder embed.Embedder

	// DataDir holds a persisted vector index. When its manifest matches the
	// corpus and embedder the graph is loaded instead of re-embedded.
	DataDir string
	// Persist writes a freshly built vector index and manifest to DataDir.
	// The caller holds the data dir's store.IndexLock.
	Persist bool

	// Parallelism bounds concurrent embedding batches.
	Parallelism int
	Logger      *slog.Logger
}

// BuildSnapshot indexes c. A lexical failure is fatal; a vector failure
// leaves Vector nil and records VectorErr.
func BuildSnapshot(ctx context.Context, c *corpus.Corpus, opts BuildOptions) (*Snapshot, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: corpus is required", ErrNilDependency)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lexical, err := buildLexical(ctx, c, opts)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Corpus:      c,
		Lexical:     lexical,
		Backend:     opts.LexicalBackend,
		BuiltAt:     time.Now(),
		Fingerprint: c.Fingerprint(),
	}
	if snap.Backend == "" {
		snap.Backend = string(store.BM25BackendMemory)
	}

	if opts.Embedder == nil {
		snap.VectorErr = errors.New("no embedder configured")
		return snap, nil
	}

	vs, loaded, err := buildVectors(ctx, c, snap.Fingerprint, opts, logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			_ = lexical.Close()
			return nil, ctxErr
		}
		logger.Warn("vector index unavailable, serving lexical-only",
			slog.String("stage", StageVector),
			slog.String("error", err.Error()))
		snap.VectorErr = err
		return snap, nil
	}

	vi, err := NewVectorIndex(opts.Embedder, vs, c)
	if err != nil {
		_ = vs.Close()
		snap.VectorErr = err
		return snap, nil
	}
	snap.Vector = vi
	snap.Loaded = loaded
	return snap, nil
}

func buildLexical(ctx context.Context, c *corpus.Corpus, opts BuildOptions) (store.BM25Index, error) {
	idx, err := store.NewBM25IndexWithBackend(opts.BM25, opts.LexicalBackend)
	if err != nil {
		return nil, sferrors.New(sferrors.ErrCodeUnknownBackend, "cannot create lexical index", err).
			WithDetail("backend", opts.LexicalBackend).
			WithSuggestion("Set lexical.backend to one of: memory, bleve, sqlite")
	}

	docs := make([]*store.Document, 0, c.Len())
	for _, d := range c.Documents() {
		docs = append(docs, &store.Document{ID: d.ID, Content: d.Projection()})
	}
	if err := idx.Index(ctx, docs); err != nil {
		_ = idx.Close()
		return nil, sferrors.New(sferrors.ErrCodeNoBackend, "cannot build lexical index", err).
			WithDetail("backend", opts.LexicalBackend)
	}
	return idx, nil
}

// buildVectors loads a matching persisted index or embeds the corpus.
func buildVectors(ctx context.Context, c *corpus.Corpus, fingerprint string, opts BuildOptions, logger *slog.Logger) (*store.HNSWStore, bool, error) {
	model := opts.Embedder.ModelName()

	if opts.DataDir != "" {
		vs, err := loadPersisted(c, fingerprint, model, opts)
		switch {
		case err != nil:
			logger.Warn("persisted vector index unusable, rebuilding",
				slog.String("data_dir", opts.DataDir),
				slog.String("error", err.Error()))
		case vs != nil:
			logger.Info("loaded persisted vector index",
				slog.String("data_dir", opts.DataDir),
				slog.Int("vectors", vs.Count()))
			return vs, true, nil
		}
	}

	vs, err := embedCorpus(ctx, c, opts)
	if err != nil {
		return nil, false, err
	}

	if opts.Persist && opts.DataDir != "" {
		if err := persist(vs, c, fingerprint, model, opts.DataDir); err != nil {
			logger.Warn("failed to persist vector index",
				slog.String("data_dir", opts.DataDir),
				slog.String("error", err.Error()))
		}
	}
	return vs, false, nil
}

// loadPersisted returns (nil, nil) when no matching index exists.
func loadPersisted(c *corpus.Corpus, fingerprint, model string, opts BuildOptions) (*store.HNSWStore, error) {
	m, err := store.ReadManifest(opts.DataDir)
	if err != nil || m == nil {
		return nil, err
	}

	dims := opts.Embedder.Dimensions()
	if dims == 0 {
		dims = m.Dimensions
	}
	if !m.Matches(fingerprint, model, dims) {
		return nil, nil
	}

	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(m.Dimensions))
	if err != nil {
		return nil, err
	}
	if err := vs.Load(store.VectorPath(opts.DataDir)); err != nil {
		_ = vs.Close()
		return nil, sferrors.New(sferrors.ErrCodeCorruptIndex, "load vector index", err)
	}
	if c.Len() > 0 && vs.Count() == 0 {
		_ = vs.Close()
		return nil, nil
	}
	return vs, nil
}

// vectorEntry is one text to embed with its store ID and metadata.
type vectorEntry struct {
	id   string
	text string
	meta store.Metadata
}

// corpusEntries keys vectors by corpus position so no document ID can
// collide with another document's vector; MetaDocID maps hits back.
func corpusEntries(c *corpus.Corpus) []vectorEntry {
	entries := make([]vectorEntry, 0, c.Len()*2)
	for i, d := range c.Documents() {
		entries = append(entries, vectorEntry{
			id:   vectorKey(store.KindHeader, i),
			text: d.Projection(),
			meta: store.Metadata{store.MetaKind: store.KindHeader, store.MetaDocID: d.ID},
		})
		if d.Body != "" {
			entries = append(entries, vectorEntry{
				id:   vectorKey(store.KindBody, i),
				text: d.Body,
				meta: store.Metadata{store.MetaKind: store.KindBody, store.MetaDocID: d.ID},
			})
		}
	}
	return entries
}

func vectorKey(kind string, pos int) string {
	return kind + "/" + strconv.Itoa(pos)
}

// embedCorpus embeds header and body projections in concurrent batches.
func embedCorpus(ctx context.Context, c *corpus.Corpus, opts BuildOptions) (*store.HNSWStore, error) {
	entries := corpusEntries(c)

	batches := (len(entries) + embed.DefaultBatchSize - 1) / embed.DefaultBatchSize
	vectors := make([][][]float32, batches)

	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Parallelism
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for b := 0; b < batches; b++ {
		start := b * embed.DefaultBatchSize
		end := min(start+embed.DefaultBatchSize, len(entries))
		texts := make([]string, 0, end-start)
		for _, e := range entries[start:end] {
			texts = append(texts, e.text)
		}
		g.Go(func() error {
			vecs, err := opts.Embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			vectors[b] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, sferrors.New(sferrors.ErrCodeEmbeddingFailed, "embed corpus", err)
	}

	dims := opts.Embedder.Dimensions()
	ids := make([]string, 0, len(entries))
	flat := make([][]float32, 0, len(entries))
	meta := make([]store.Metadata, 0, len(entries))
	for b, vecs := range vectors {
		for i, v := range vecs {
			e := entries[b*embed.DefaultBatchSize+i]
			ids = append(ids, e.id)
			flat = append(flat, v)
			meta = append(meta, e.meta)
		}
	}
	if len(flat) > 0 {
		dims = len(flat[0])
	}
	if dims <= 0 {
		dims = embed.StaticDimensions
	}

	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}
	if err := vs.Add(ctx, ids, flat, meta); err != nil {
		_ = vs.Close()
		return nil, sferrors.New(sferrors.ErrCodeIndexFailed, "add vectors", err)
	}
	return vs, nil
}

func persist(vs *store.HNSWStore, c *corpus.Corpus, fingerprint, model, dataDir string) error {
	if err := vs.Save(store.VectorPath(dataDir)); err != nil {
		return err
	}
	return store.WriteManifest(dataDir, &store.Manifest{
		Fingerprint: fingerprint,
		Model:       model,
		Dimensions:  vs.Dimensions(),
		Documents:   c.Len(),
		Vectors:     vs.Count(),
		CreatedAt:   time.Now().UTC(),
	})
}
