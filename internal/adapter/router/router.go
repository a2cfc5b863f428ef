// Package router dispatches generation requests to the adapter registered
// for a catalog provider name.
package router

import (
	"context"
	"errors"
	"sync"

	"github.com/pixlens/pixlens-gateway/internal/adapter"
	"github.com/pixlens/pixlens-gateway/internal/llm"
)

// Router maps provider names to registered adapters. Providers present in
// the model catalog but never registered here resolve to
// UnsupportedProviderError before any network call.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]adapter.Generator
}

// New creates an empty Router.
func New() *Router {
	return &Router{adapters: make(map[string]adapter.Generator)}
}

// Register wires an adapter under a provider name.
func (r *Router) Register(provider string, gen adapter.Generator) error {
	if provider == "" {
		return errors.New("router: provider name cannot be empty")
	}
	if gen == nil {
		return errors.New("router: adapter cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[provider] = gen
	return nil
}

// Providers returns the registered provider names.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Generate dispatches to the adapter registered for the provider.
func (r *Router) Generate(ctx context.Context, provider, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error) {
	r.mu.RLock()
	gen, ok := r.adapters[provider]
	r.mu.RUnlock()

	if !ok {
		return llm.Result{}, &adapter.UnsupportedProviderError{Provider: provider}
	}
	return gen.Generate(ctx, modelID, messages, maxTokens)
}
