// Package search wraps the external web-search provider used for optional
// request augmentation.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pixlens/pixlens-gateway/internal/llm"
)

// Provider performs a web search for a query.
type Provider interface {
	Search(ctx context.Context, query string) ([]llm.Source, error)
}

// GoogleCSE implements Provider against the Google Custom Search API.
type GoogleCSE struct {
	apiKey     string
	engineID   string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Google Custom Search client.
type Config struct {
	APIKey         string
	EngineID       string
	BaseURL        string // optional, defaults to https://www.googleapis.com
	RequestTimeout time.Duration
}

// NewGoogleCSE creates a client. Both the API key and the engine id are
// required.
func NewGoogleCSE(cfg Config) (*GoogleCSE, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, errors.New("search: api key and engine id required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://www.googleapis.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &GoogleCSE{
		apiKey:   cfg.APIKey,
		engineID: cfg.EngineID,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Search runs the query and maps result items to sources.
func (g *GoogleCSE) Search(ctx context.Context, query string) ([]llm.Source, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search: empty query")
	}

	endpoint := fmt.Sprintf("%s/customsearch/v1?key=%s&cx=%s&q=%s",
		g.baseURL, url.QueryEscape(g.apiKey), url.QueryEscape(g.engineID), url.QueryEscape(query))

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: create request: %w", err)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: http %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("search: unmarshal response: %w", err)
	}

	sources := make([]llm.Source, 0, len(payload.Items))
	for _, item := range payload.Items {
		sources = append(sources, llm.Source{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return sources, nil
}
