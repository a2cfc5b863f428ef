package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pixlens/pixlens-gateway/internal/adapter"
	"github.com/pixlens/pixlens-gateway/internal/llm"
)

// Ensure Adapter implements Generator.
var _ adapter.Generator = (*Adapter)(nil)

const providerName = "google"

// Adapter sends requests to the Google Generative Language API (Gemini).
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Google adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
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

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	} `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type apiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate converts normalized messages to Gemini contents and sends the request.
func (a *Adapter) Generate(ctx context.Context, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error) {
	if len(messages) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "no messages provided"}
	}

	contents, systemInstruction := convertMessages(messages)
	if len(contents) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "no user or assistant messages"}
	}

	payload := map[string]interface{}{
		"contents": contents,
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": maxTokens,
		},
	}
	if systemInstruction != "" {
		payload["systemInstruction"] = content{Parts: []part{{Text: systemInstruction}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "marshal request", Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.baseURL, url.PathEscape(modelID), url.QueryEscape(a.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
				Code    int    `json:"code"`
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return llm.Result{}, &adapter.ProviderError{
				Provider: providerName,
				Status:   resp.StatusCode,
				Message:  fmt.Sprintf("%s (status=%s)", errResp.Error.Message, errResp.Error.Status),
			}
		}
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "unmarshal response", Err: err}
	}
	if len(apiResp.Candidates) == 0 {
		return llm.Result{}, &adapter.ProviderError{Provider: providerName, Message: "no candidates in response"}
	}

	var text strings.Builder
	for _, p := range apiResp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	result := llm.Result{Content: text.String()}
	if apiResp.UsageMetadata != nil {
		result.Usage = &llm.Usage{
			PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      apiResp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// convertMessages maps normalized messages to Gemini contents. Gemini's role
// vocabulary is user/model, with system prompts carried in a top-level
// systemInstruction field.
func convertMessages(messages []llm.Message) ([]content, string) {
	var system []string
	out := make([]content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if msg.Text != "" {
				system = append(system, msg.Text)
			}
			continue
		}
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		parts := make([]part, 0, 2)
		if msg.Text != "" {
			parts = append(parts, part{Text: msg.Text})
		}
		if msg.HasImage() {
			img := part{}
			img.InlineData = &struct {
				MimeType string `json:"mime_type"`
				Data     string `json:"data"`
			}{
				MimeType: msg.MIME(),
				Data:     base64.StdEncoding.EncodeToString(msg.ImageData),
			}
			parts = append(parts, img)
		}
		if len(parts) == 0 {
			parts = append(parts, part{Text: ""})
		}
		out = append(out, content{Role: role, Parts: parts})
	}
	return out, strings.Join(system, "\n\n")
}
