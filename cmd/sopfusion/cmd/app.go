package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/casematch"
	"github.com/Aman-CERP/sopfusion/internal/config"
	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	"github.com/Aman-CERP/sopfusion/internal/llm"
	"github.com/Aman-CERP/sopfusion/internal/search"
	"github.com/Aman-CERP/sopfusion/internal/store"
)

// app is the resolved project: root, merged configuration and the model
// backends every command shares.
type app struct {
	root      string
	cfg       *config.Config
	logger    *slog.Logger
	embedder  embed.Embedder
	generator llm.Generator
}

// loadApp resolves --dir, loads configuration and builds the embedder and
// generator. --corpus replaces corpus.path.
func loadApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if corpusOverride != "" {
		cfg.Corpus.Path = corpusOverride
	}

	a := &app{root: root, cfg: cfg, logger: logger}

	a.embedder, err = embed.NewEmbedder(ctx, embed.Options{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Host:       cfg.Embeddings.OllamaHost,
		Dimensions: cfg.Embeddings.Dimensions,
		CacheSize:  cfg.Embeddings.CacheSize,
		Timeout:    config.Duration(cfg.Embeddings.Timeout, 0),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	a.generator, err = llm.NewGenerator(llm.Options{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		Host:              cfg.LLM.OllamaHost,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           config.Duration(cfg.LLM.Timeout, 0),
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		BreakerFailures:   cfg.LLM.BreakerFailures,
		BreakerReset:      config.Duration(cfg.LLM.BreakerReset, 0),
		Logger:            logger,
	})
	if err != nil {
		_ = a.embedder.Close()
		return nil, err
	}

	return a, nil
}

// Close releases the model backends.
func (a *app) Close() error {
	if a.embedder != nil {
		return a.embedder.Close()
	}
	return nil
}

// resolve makes a config-relative path absolute against the project root.
func (a *app) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.root, path)
}

func (a *app) corpusPath() string {
	return a.resolve(a.cfg.Corpus.Path)
}

func (a *app) dataDir() string {
	return a.cfg.DataDir(a.root)
}

// corpusSource reloads the SOP corpus from disk on every call, so a reindex
// picks up edits.
func (a *app) corpusSource() search.CorpusSource {
	src := corpus.Source{
		Path:   a.corpusPath(),
		Format: corpus.Format(a.cfg.Corpus.Format),
		Table:  a.cfg.Corpus.SQLiteTable,
		Kind:   corpus.KindSOP,
	}
	return func(ctx context.Context) (*corpus.Corpus, error) {
		return corpus.Load(ctx, src)
	}
}

// engineConfig maps configuration onto the engine. persist controls whether
// freshly embedded vectors are written to the data dir.
func (a *app) engineConfig(persist bool) search.Config {
	r := a.cfg.Retrieval
	def := search.DefaultConfig()

	return search.Config{
		BM25Weight:   r.BM25Weight,
		VectorWeight: r.VectorWeight,
		RRFK:         r.RRFK,
		Defaults: search.RetrieveOptions{
			NumQueryVariants: r.NumQueryVariants,
			KPerQuery:        r.KPerQuery,
			TopKAfterRRF:     r.TopKAfterRRF,
			FinalTopK:        r.FinalTopK,
		},
		Parallelism:    r.Parallelism,
		ExpandTimeout:  config.Duration(r.ExpandTimeout, def.ExpandTimeout),
		VectorTimeout:  config.Duration(r.VectorTimeout, def.VectorTimeout),
		RerankTimeout:  config.Duration(r.RerankTimeout, def.RerankTimeout),
		LexicalBackend: a.cfg.Lexical.Backend,
		BM25: store.BM25Config{
			K1:      a.cfg.Lexical.K1,
			B:       a.cfg.Lexical.B,
			Epsilon: a.cfg.Lexical.Epsilon,
		},
		DataDir:      a.dataDir(),
		PersistIndex: persist,
		UseLLMRerank: r.UseLLMRerank(),
	}
}

// newEngine builds a ready engine over the configured corpus.
func (a *app) newEngine(ctx context.Context, persist bool, opts ...search.EngineOption) (*search.Engine, error) {
	base := []search.EngineOption{
		search.WithLogger(a.logger),
		search.WithEmbedder(a.embedder),
	}
	if a.generator != nil {
		base = append(base, search.WithGenerator(a.generator))
	}
	return search.NewEngine(ctx, a.engineConfig(persist), a.corpusSource(), append(base, opts...)...)
}

// newMatcher loads the case corpus. It returns nil, nil when no case file is
// configured.
func (a *app) newMatcher(ctx context.Context) (*casematch.Matcher, error) {
	path := a.resolve(a.cfg.CaseMatch.CasesPath)
	if path == "" {
		return nil, nil
	}

	cases, err := corpus.Load(ctx, corpus.Source{Path: path, Kind: corpus.KindCase})
	if err != nil {
		return nil, err
	}

	cm := a.cfg.CaseMatch
	cfg := casematch.DefaultConfig()
	cfg.SimilarityWeight = cm.SimilarityWeight
	cfg.EntityWeight = cm.EntityWeight
	cfg.ModuleWeight = cm.ModuleWeight
	cfg.Threshold = cm.Threshold

	opts := []casematch.Option{
		casematch.WithEmbedder(a.embedder),
		casematch.WithLogger(a.logger),
	}
	if a.generator != nil {
		opts = append(opts, casematch.WithGenerator(a.generator))
	}
	return casematch.NewMatcher(ctx, cases, cfg, opts...)
}

// commandLogger returns the debug file logger under --debug, otherwise a
// warn-level text logger on the command's stderr.
func commandLogger(cmd *cobra.Command) *slog.Logger {
	if debugMode {
		return slog.Default()
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
}
