package openai

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

const providerName = "openai"

// Adapter sends chat completion requests to the OpenAI API.
type Adapter struct {
	apiKey     string
	baseURL    string
	org        string // optional organization ID
	httpClient *http.Client
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	Organization   string // optional
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		org:     cfg.Organization,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// contentPart is one element of a multimodal message content array.
type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends a chat completion request to OpenAI.
func (a *Adapter) Generate(ctx context.Context, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error) {
	if len(messages) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "no messages provided"}
	}

	payload := map[string]interface{}{
		"model":      modelID,
		"messages":   convertMessages(messages),
		"max_tokens": maxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "create request", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.org != "" {
		httpReq.Header.Set("OpenAI-Organization", a.org)
	}

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
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return llm.Result{}, &adapter.ProviderError{
				Provider: providerName,
				Status:   resp.StatusCode,
				Message:  fmt.Sprintf("%s (type=%s, code=%s)", errResp.Error.Message, errResp.Error.Type, errResp.Error.Code),
			}
		}
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Status: resp.StatusCode, Message: string(respBody)}
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "unmarshal response", Err: err}
	}
	if len(completion.Choices) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "empty choices in response"}
	}

	result := llm.Result{Content: completion.Choices[0].Message.Content}
	if completion.Usage != nil {
		result.Usage = &llm.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}
	}
	return result, nil
}

// convertMessages maps normalized messages to OpenAI chat messages. A turn
// carrying an image becomes a multimodal content array with an inline data
// URL; plain turns stay string content.
func convertMessages(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		if !msg.HasImage() {
			out = append(out, chatMessage{Role: string(msg.Role), Content: msg.Text})
			continue
		}
		parts := []contentPart{{Type: "text", Text: msg.Text}}
		dataURL := fmt.Sprintf("data:%s;base64,%s", msg.MIME(), base64.StdEncoding.EncodeToString(msg.ImageData))
		img := contentPart{Type: "image_url"}
		img.ImageURL = &struct {
			URL string `json:"url"`
		}{URL: dataURL}
		parts = append(parts, img)
		out = append(out, chatMessage{Role: string(msg.Role), Content: parts})
	}
	return out
}
