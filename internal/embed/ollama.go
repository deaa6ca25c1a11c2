package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	logger    *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder. No request is made unless
// cfg.CheckOnStart is set, so an unreachable host only fails later calls.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig, logger *slog.Logger) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Per-request timeouts come from context.WithTimeout, not Client.Timeout.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		logger:    logger,
		dims:      cfg.Dimensions,
	}

	if cfg.CheckOnStart {
		checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
		defer cancel()
		if err := e.checkModel(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}

	return e, nil
}

// listModels gets installed models from Ollama
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, sferrors.MalformedResponse("failed to decode model list: " + err.Error())
	}

	return result.Models, nil
}

// checkModel verifies the configured model is installed. A tag-less model
// name matches any installed tag.
func (e *OllamaEmbedder) checkModel(ctx context.Context) error {
	models, err := e.listModels(ctx)
	if err != nil {
		return err
	}

	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want || (strings.Split(name, ":")[0] == wantBase && !strings.Contains(want, ":")) {
			return nil
		}
	}

	return sferrors.New(sferrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("embedding model %q is not installed", e.config.Model), nil).
		WithSuggestion(fmt.Sprintf("Run 'ollama pull %s'", e.config.Model))
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch API.
// Blank texts get a zero vector without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		batch := make([]string, 0, end-start)
		for _, idx := range pending[start:end] {
			batch = append(batch, texts[idx])
		}

		vecs, err := e.doEmbedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, idx := range pending[start:end] {
			results[idx] = vecs[j]
		}
	}

	dims := e.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}

	return results, nil
}

// doEmbedWithRetry retries retryable failures with exponential backoff.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	retry := sferrors.DefaultRetryConfig()
	retry.MaxRetries = e.config.MaxRetries

	attempt := 0
	return sferrors.RetryWithResult(ctx, retry, func() ([][]float32, error) {
		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(reqCtx, texts)
		if err != nil {
			e.logger.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
}

// doEmbed performs a single /api/embed request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var apiResult OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, sferrors.MalformedResponse("failed to decode embeddings: " + err.Error())
	}
	if len(apiResult.Embeddings) != len(texts) {
		return nil, sferrors.MalformedResponse(
			fmt.Sprintf("got %d embeddings for %d inputs", len(apiResult.Embeddings), len(texts)))
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		if len(emb) == 0 {
			return nil, sferrors.MalformedResponse("empty embedding returned")
		}
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}

	if err := e.observeDimensions(len(embeddings[0])); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// observeDimensions records the dimension of the first response and rejects
// later responses that disagree with it.
func (e *OllamaEmbedder) observeDimensions(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dims == 0 {
		e.dims = got
		return nil
	}
	if e.dims != got {
		return sferrors.New(sferrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("model returned %d dimensions, expected %d", got, e.dims), nil)
	}
	return nil
}

// classifyTransportError maps HTTP client errors onto retryable codes.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sferrors.New(sferrors.ErrCodeNetworkTimeout, "ollama request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return sferrors.NetworkError("failed to connect to Ollama", err)
}

// statusError converts a non-200 response. 5xx and 429 are retryable.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return sferrors.New(sferrors.ErrCodeRateLimited, msg, nil)
	case resp.StatusCode >= 500:
		return sferrors.NetworkError(msg, nil)
	default:
		return sferrors.New(sferrors.ErrCodeEmbeddingFailed, msg, nil)
	}
}

// Dimensions returns the embedding dimension, 0 until known.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if Ollama is running and the model is installed
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
	defer cancel()
	return e.checkModel(checkCtx) == nil
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
