package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pixlens/pixlens-gateway/internal/adapter"
	"github.com/pixlens/pixlens-gateway/internal/llm"
)

// Ensure Adapter implements Generator.
var _ adapter.Generator = (*Adapter)(nil)

const providerName = "cohere"

// Adapter sends requests to the Cohere Generate API. Cohere models here are
// text-only and the API does not report token usage, so results carry nil
// usage.
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Cohere adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.cohere.ai
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("cohere: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.cohere.ai"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type apiResponse struct {
	Generations []struct {
		Text string `json:"text"`
	} `json:"generations"`
}

// Generate flattens the conversation into a single role-prefixed prompt and
// sends it to the Generate endpoint.
func (a *Adapter) Generate(ctx context.Context, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error) {
	if len(messages) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "no messages provided"}
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Text))
	}

	payload := map[string]interface{}{
		"model":      modelID,
		"prompt":     strings.Join(lines, "\n"),
		"max_tokens": maxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "create request", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "send request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return llm.Result{}, &adapter.ProviderError{Provider: providerName, Status: resp.StatusCode, Message: errResp.Message}
		}
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "unmarshal response", Err: err}
	}
	if len(apiResp.Generations) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "empty generations in response"}
	}

	// No usage reporting on this endpoint; leave Usage nil.
	return llm.Result{Content: apiResp.Generations[0].Text}, nil
}
