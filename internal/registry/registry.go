// Package registry holds the static catalog of supported models with their
// capability flags. The catalog is loaded at process start and never mutated
// at runtime.
package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModelConfig describes one catalog entry.
type ModelConfig struct {
	ID              string `yaml:"id" json:"id"`
	DisplayName     string `yaml:"name" json:"name"`
	Provider        string `yaml:"provider" json:"provider"`
	MaxOutputTokens int    `yaml:"max_output_tokens" json:"maxTokens"`
	SupportsImages  bool   `yaml:"supports_images" json:"supportsImages"`
}

// Tier mirrors the caller's access level. Listing currently ignores it, as
// every model is visible to both tiers, but the signatures keep the
// parameter so tier-scoped catalogs stay a data change.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Catalog is a read-only model lookup keyed by model id.
type Catalog struct {
	mu    sync.RWMutex
	byID  map[string]ModelConfig
	order []string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{byID: make(map[string]ModelConfig)}
	for _, m := range builtinModels {
		c.add(m)
	}
	return c
}

var builtinModels = []ModelConfig{
	// OpenAI
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Provider: "openai", MaxOutputTokens: 4096, SupportsImages: true},
	{ID: "gpt-4-vision-preview", DisplayName: "GPT-4 Vision", Provider: "openai", MaxOutputTokens: 4096, SupportsImages: true},
	{ID: "gpt-4-turbo-preview", DisplayName: "GPT-4 Turbo", Provider: "openai", MaxOutputTokens: 4096, SupportsImages: false},
	{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", Provider: "openai", MaxOutputTokens: 4096, SupportsImages: false},
	// Anthropic
	{ID: "claude-3-opus-20240229", DisplayName: "Claude 3 Opus", Provider: "anthropic", MaxOutputTokens: 4096, SupportsImages: true},
	{ID: "claude-3-sonnet-20240229", DisplayName: "Claude 3 Sonnet", Provider: "anthropic", MaxOutputTokens: 4096, SupportsImages: true},
	{ID: "claude-3-haiku-20240307", DisplayName: "Claude 3 Haiku", Provider: "anthropic", MaxOutputTokens: 4096, SupportsImages: true},
	// Google
	{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro", Provider: "google", MaxOutputTokens: 4096, SupportsImages: true},
	{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", Provider: "google", MaxOutputTokens: 4096, SupportsImages: true},
	// Cohere
	{ID: "command-r-plus", DisplayName: "Command R+", Provider: "cohere", MaxOutputTokens: 4096, SupportsImages: false},
	{ID: "command-r", DisplayName: "Command R", Provider: "cohere", MaxOutputTokens: 4096, SupportsImages: false},
	// Catalogued but not wired to an adapter yet; dispatch reports them
	// as unsupported providers before any network call.
	{ID: "llama-3-70b", DisplayName: "LLaMA 3 70B", Provider: "meta", MaxOutputTokens: 4096, SupportsImages: false},
	{ID: "llama-3-8b", DisplayName: "LLaMA 3 8B", Provider: "meta", MaxOutputTokens: 4096, SupportsImages: false},
	{ID: "mixtral-8x7b", DisplayName: "Mixtral 8x7B", Provider: "mistral", MaxOutputTokens: 4096, SupportsImages: false},
	{ID: "mistral-7b", DisplayName: "Mistral 7B", Provider: "mistral", MaxOutputTokens: 4096, SupportsImages: false},
	{ID: "grok-1", DisplayName: "Grok-1", Provider: "xai", MaxOutputTokens: 4096, SupportsImages: false},
}

func (c *Catalog) add(m ModelConfig) {
	if _, exists := c.byID[m.ID]; !exists {
		c.order = append(c.order, m.ID)
	}
	c.byID[m.ID] = m
}

// Get looks up a model by id.
func (c *Catalog) Get(id string) (ModelConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[strings.TrimSpace(id)]
	return m, ok
}

// List returns the catalog in declaration order.
func (c *Catalog) List(tier Tier) []ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelConfig, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// ListImageCapable returns only models that accept image input.
func (c *Catalog) ListImageCapable(tier Tier) []ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelConfig, 0, len(c.order))
	for _, id := range c.order {
		if m := c.byID[id]; m.SupportsImages {
			out = append(out, m)
		}
	}
	return out
}

// LoadFile merges catalog entries from a YAML file. Entries with a known id
// replace the built-in definition; new ids append. Returns the number of
// entries applied.
func (c *Catalog) LoadFile(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("registry: empty catalog path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var doc struct {
		Models []ModelConfig `yaml:"models"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return 0, fmt.Errorf("registry: parse %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	applied := 0
	for _, m := range doc.Models {
		if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Provider) == "" {
			continue
		}
		if m.MaxOutputTokens <= 0 {
			m.MaxOutputTokens = 4096
		}
		c.add(m)
		applied++
	}
	return applied, nil
}
