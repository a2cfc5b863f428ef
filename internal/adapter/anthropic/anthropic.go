package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
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

const providerName = "anthropic"

// Adapter sends requests to the Anthropic Messages API.
type Adapter struct {
	apiKey     string
	baseURL    string
	version    string // API version header
	httpClient *http.Client
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.anthropic.com
	Version        string // optional, defaults to 2023-06-01
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "2023-06-01"
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		version: version,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type contentBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Source *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`
}

type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate converts normalized messages to Anthropic format and sends the request.
func (a *Adapter) Generate(ctx context.Context, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error) {
	if len(messages) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "no messages provided"}
	}

	apiMessages, systemPrompt := convertMessages(messages)
	if len(apiMessages) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "no user or assistant messages"}
	}

	// Anthropic requires max_tokens.
	payload := map[string]interface{}{
		"model":      modelID,
		"messages":   apiMessages,
		"max_tokens": maxTokens,
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "create request", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)

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
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return llm.Result{}, &adapter.ProviderError{
				Provider: providerName,
				Status:   resp.StatusCode,
				Message:  fmt.Sprintf("%s (type=%s)", errResp.Error.Message, errResp.Error.Type),
			}
		}
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "unmarshal response", Err: err}
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	result := llm.Result{Content: content.String()}
	if apiResp.Usage != nil {
		result.Usage = &llm.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}
	return result, nil
}

// convertMessages splits normalized messages into Anthropic message turns
// and the top-level system prompt. System turns are concatenated into the
// system field; the Messages API accepts only user/assistant roles.
func convertMessages(messages []llm.Message) ([]apiMessage, string) {
	var system []string
	out := make([]apiMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if msg.Text != "" {
				system = append(system, msg.Text)
			}
			continue
		}
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "assistant"
		}
		blocks := make([]contentBlock, 0, 2)
		if msg.HasImage() {
			img := contentBlock{Type: "image"}
			img.Source = &struct {
				Type      string `json:"type"`
				MediaType string `json:"media_type"`
				Data      string `json:"data"`
			}{
				Type:      "base64",
				MediaType: msg.MIME(),
				Data:      base64.StdEncoding.EncodeToString(msg.ImageData),
			}
			blocks = append(blocks, img)
		}
		if msg.Text != "" || len(blocks) == 0 {
			blocks = append(blocks, contentBlock{Type: "text", Text: msg.Text})
		}
		out = append(out, apiMessage{Role: role, Content: blocks})
	}
	return out, strings.Join(system, "\n\n")
}
