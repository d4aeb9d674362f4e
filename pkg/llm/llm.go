// Package llm provides a direct, synchronous completion contract over the
// configured LLM providers: one Provider type per backend, functional
// options, a provider-agnostic Complete entry point. Nothing here streams
// partial tokens to a terminal, so the contract is single-shot rather than
// a streaming-chunk channel.
package llm

import (
	"context"
	"fmt"

	"github.com/agent-forge/core/pkg/coreerrors"
)

// Message is one turn in a completion request.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Result is the outcome of a successful completion.
type Result struct {
	Text         string
	TokensIn     int
	TokensOut    int
	ProviderName string
}

// Provider is a single LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (Result, error)
}

// Chain tries each Provider in order, falling back to the next whenever a
// provider returns any error: if the primary provider fails, is unavailable
// or times out, the chain falls back to the next configured provider.
type Chain struct {
	providers []Provider
}

// NewChain builds a fallback chain. The first provider is primary.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Complete tries providers in order, returning the first success. If every
// provider fails, returns the last error wrapped as ErrLLMUnavailable.
func (c *Chain) Complete(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (Result, error) {
	if len(c.providers) == 0 {
		return Result{}, fmt.Errorf("%w: no providers configured", coreerrors.ErrLLMUnavailable)
	}
	var lastErr error
	for _, p := range c.providers {
		result, err := p.Complete(ctx, model, messages, maxTokens, temperature)
		if err == nil {
			result.ProviderName = p.Name()
			return result, nil
		}
		lastErr = err
	}
	return Result{}, fmt.Errorf("%w: all providers exhausted: %v", coreerrors.ErrLLMUnavailable, lastErr)
}
