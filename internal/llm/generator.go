// Package llm provides the text-generation capability used by query
// expansion, LLM reranking and case validation.
//
// Every caller treats generation as best-effort: errors are returned, never
// panicked, and callers fall back to a deterministic path.
package llm

import (
	"context"
	"errors"
	"sync"
)

// Generator produces a completion for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrNoResponse is returned by StaticGenerator when it holds no responses.
var ErrNoResponse = errors.New("llm: no response configured")

// StaticGenerator returns fixed responses in order, repeating the last one.
// It records every prompt it receives.
type StaticGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []Call
}

// Call is one recorded Generate invocation.
type Call struct {
	System string
	User   string
}

// NewStaticGenerator creates a generator that replies with responses in order.
func NewStaticGenerator(responses ...string) *StaticGenerator {
	return &StaticGenerator{responses: responses}
}

// NewFailingGenerator creates a generator that always returns err.
func NewFailingGenerator(err error) *StaticGenerator {
	return &StaticGenerator{err: err}
}

// Generate implements Generator.
func (g *StaticGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{System: systemPrompt, User: userPrompt})
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", ErrNoResponse
	}

	idx := len(g.calls) - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	return g.responses[idx], nil
}

// Calls returns a copy of the recorded prompts.
func (g *StaticGenerator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// FuncGenerator adapts a function to Generator.
type FuncGenerator func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Generate implements Generator.
func (f FuncGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

var (
	_ Generator = (*StaticGenerator)(nil)
	_ Generator = FuncGenerator(nil)
)
