package llm

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
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// Ollama defaults.
const (
	DefaultOllamaHost      = "http://localhost:11434"
	DefaultModel           = "qwen3:0.6b"
	DefaultTimeout         = 30 * time.Second
	DefaultBreakerFailures = 3
	DefaultBreakerReset    = 30 * time.Second
)

// OllamaConfig configures OllamaGenerator.
type OllamaConfig struct {
	Host        string
	Model       string
	Temperature float64
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxRetries for retryable failures (5xx, 429, transport).
	MaxRetries int
	// RequestsPerSecond of 0 disables rate limiting.
	RequestsPerSecond float64
	// BreakerFailures consecutive failed calls open the circuit.
	BreakerFailures int
	// BreakerReset is how long the circuit stays open before a probe.
	BreakerReset time.Duration
}

// DefaultOllamaConfig returns defaults for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:              DefaultOllamaHost,
		Model:             DefaultModel,
		Temperature:       0.2,
		Timeout:           DefaultTimeout,
		MaxRetries:        1,
		RequestsPerSecond: 5,
		BreakerFailures:   DefaultBreakerFailures,
		BreakerReset:      DefaultBreakerReset,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// OllamaGenerator calls Ollama's /api/chat endpoint.
//
// Calls pass through a token-bucket limiter, then a circuit breaker whose
// unit of failure is one fully retried call.
type OllamaGenerator struct {
	client  *http.Client
	config  OllamaConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator. No request is made.
func NewOllamaGenerator(cfg OllamaConfig, logger *slog.Logger) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = DefaultBreakerReset
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	g := &OllamaGenerator{
		client:  &http.Client{},
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}

	failures := uint32(cfg.BreakerFailures)
	g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "ollama-generate",
		Timeout: cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return g
}

// Model returns the configured model name.
func (g *OllamaGenerator) Model() string {
	return g.config.Model
}

// BreakerState reports the circuit state ("closed", "half-open", "open").
func (g *OllamaGenerator) BreakerState() string {
	return g.breaker.State().String()
}

// Generate implements Generator.
func (g *OllamaGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", sferrors.New(sferrors.ErrCodeRateLimited, "generation rate limit wait aborted", err)
	}

	out, err := g.breaker.Execute(func() (string, error) {
		retry := sferrors.DefaultRetryConfig()
		retry.MaxRetries = g.config.MaxRetries
		return sferrors.RetryWithResult(ctx, retry, func() (string, error) {
			reqCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
			defer cancel()
			return g.chat(reqCtx, systemPrompt, userPrompt)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", sferrors.New(sferrors.ErrCodeCircuitOpen, "generation backend circuit is open", err).
				WithSuggestion("Check that Ollama is running: 'ollama serve'")
		}
		return "", err
	}
	return out, nil
}

func (g *OllamaGenerator) chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{
		Model:    g.config.Model,
		Messages: messages,
		Stream:   false,
		Options:  map[string]any{"temperature": g.config.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", sferrors.New(sferrors.ErrCodeNetworkTimeout, "generation request timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", sferrors.NetworkError("failed to connect to Ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", sferrors.New(sferrors.ErrCodeRateLimited, msg, nil)
		case resp.StatusCode >= 500:
			return "", sferrors.NetworkError(msg, nil)
		default:
			return "", sferrors.New(sferrors.ErrCodeGenerateFailed, msg, nil)
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", sferrors.MalformedResponse("failed to decode chat response: " + err.Error())
	}

	g.logger.Debug("llm_generate",
		slog.String("model", g.config.Model),
		slog.Int("response_chars", len(out.Message.Content)),
		slog.Duration("duration", time.Since(start)))

	return strings.TrimSpace(out.Message.Content), nil
}
