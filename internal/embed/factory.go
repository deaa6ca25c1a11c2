package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings (default, no network)
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses the Ollama HTTP API
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider converts a config string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderStatic, "":
		return ProviderStatic, nil
	case ProviderOllama:
		return ProviderOllama, nil
	default:
		return "", sferrors.New(sferrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown embeddings provider %q", s), nil).
			WithSuggestion("Use 'static' or 'ollama'")
	}
}

// Options selects and configures an embedder.
type Options struct {
	Provider   string
	Model      string
	Host       string
	Dimensions int
	CacheSize  int // 0 uses DefaultEmbeddingCacheSize, < 0 disables caching
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewEmbedder creates the configured embedder wrapped in an LRU cache.
//
// An Ollama embedder is created without contacting the server, so a down
// server surfaces as failed Embed calls that the vector stage tolerates.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	provider, err := ParseProvider(opts.Provider)
	if err != nil {
		return nil, err
	}

	var embedder Embedder
	switch provider {
	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		cfg.Dimensions = opts.Dimensions
		embedder, err = NewOllamaEmbedder(ctx, cfg, opts.Logger)
		if err != nil {
			return nil, err
		}
	default:
		embedder = NewStaticEmbedder(opts.Dimensions)
	}

	if opts.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, opts.CacheSize), nil
}
