// Package adapter defines the contract every LLM vendor adapter satisfies
// and the typed errors the dispatch layer branches on.
package adapter

import (
	"context"
	"fmt"

	"github.com/pixlens/pixlens-gateway/internal/llm"
)

// Generator turns a normalized message list into a vendor completion.
type Generator interface {
	Generate(ctx context.Context, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error)
}

// ProviderError wraps a vendor call failure (network, auth, vendor-side
// rate limit, malformed response). It is propagated as a typed error, never
// embedded in Result content.
type ProviderError struct {
	Provider string
	Status   int // upstream HTTP status when available, 0 otherwise
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// UnsupportedProviderError marks a catalog provider with no wired adapter.
// It surfaces before any network call is made.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("provider %q not implemented", e.Provider)
}
