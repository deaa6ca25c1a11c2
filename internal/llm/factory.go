package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// Provider names accepted by NewGenerator.
const (
	ProviderNone   = "none"
	ProviderStatic = "static"
	ProviderOllama = "ollama"
)

// Options selects and configures a generator.
type Options struct {
	Provider          string
	Model             string
	Host              string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	BreakerFailures   int
	BreakerReset      time.Duration
	// StaticResponse is returned by the static provider.
	StaticResponse string
	Logger         *slog.Logger
}

// NewGenerator builds the configured generator. The "none" provider returns
// (nil, nil); callers then use their deterministic paths only.
func NewGenerator(opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case ProviderNone, "":
		return nil, nil
	case ProviderStatic:
		return NewStaticGenerator(opts.StaticResponse), nil
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
		cfg.Temperature = opts.Temperature
		cfg.RequestsPerSecond = opts.RequestsPerSecond
		if opts.BreakerFailures > 0 {
			cfg.BreakerFailures = opts.BreakerFailures
		}
		if opts.BreakerReset > 0 {
			cfg.BreakerReset = opts.BreakerReset
		}
		return NewOllamaGenerator(cfg, opts.Logger), nil
	default:
		return nil, sferrors.New(sferrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown llm provider %q", opts.Provider), nil).
			WithSuggestion("Use 'ollama', 'static' or 'none'")
	}
}
