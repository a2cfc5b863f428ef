package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pixlens/pixlens-gateway/internal/adapter"
	"github.com/pixlens/pixlens-gateway/internal/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("empty api key must fail")
	}
}

func TestGenerate(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello back"}},
			},
			"usage": map[string]int{
				"prompt_tokens":     12,
				"completion_tokens": 8,
				"total_tokens":      20,
			},
		})
	}))
	defer srv.Close()

	a, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	res, err := a.Generate(context.Background(), "gpt-4o-mini", []llm.Message{
		{Role: llm.RoleSystem, Text: "be helpful"},
		{Role: llm.RoleUser, Text: "hello"},
	}, 4096)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Content != "hello back" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 20 || res.Usage.PromptTokens != 12 {
		t.Errorf("usage = %+v", res.Usage)
	}

	if captured["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", captured["model"])
	}
	if captured["max_tokens"] != float64(4096) {
		t.Errorf("max_tokens = %v", captured["max_tokens"])
	}
	msgs := captured["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	first := msgs[0].(map[string]interface{})
	if first["role"] != "system" || first["content"] != "be helpful" {
		t.Errorf("first message = %v", first)
	}
}

func TestGenerate_ImageTurn(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "a cat"}},
			},
		})
	}))
	defer srv.Close()

	a, _ := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	res, err := a.Generate(context.Background(), "gpt-4o-mini", []llm.Message{
		{Role: llm.RoleUser, Text: "what is this", ImageData: []byte{1, 2, 3}, ImageMIME: "image/png"},
	}, 1024)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Content != "a cat" {
		t.Errorf("content = %q", res.Content)
	}
	// No usage block means nil Usage, not zeroes.
	if res.Usage != nil {
		t.Errorf("usage = %+v, want nil", res.Usage)
	}

	msgs := captured["messages"].([]interface{})
	parts := msgs[0].(map[string]interface{})["content"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("content parts = %d, want text + image", len(parts))
	}
	img := parts[1].(map[string]interface{})
	if img["type"] != "image_url" {
		t.Errorf("second part type = %v", img["type"])
	}
	url := img["image_url"].(map[string]interface{})["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %q, want base64 data url", url)
	}
}

func TestGenerate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"message": "Rate limit reached",
				"type":    "tokens",
				"code":    "rate_limit_exceeded",
			},
		})
	}))
	defer srv.Close()

	a, _ := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := a.Generate(context.Background(), "gpt-4o-mini", []llm.Message{{Role: llm.RoleUser, Text: "hi"}}, 10)

	var perr *adapter.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if perr.Provider != "openai" || perr.Status != http.StatusTooManyRequests {
		t.Errorf("unexpected ProviderError: %+v", perr)
	}
	if !strings.Contains(perr.Message, "Rate limit reached") {
		t.Errorf("message = %q", perr.Message)
	}
}

func TestGenerate_EmptyMessages(t *testing.T) {
	a, _ := New(Config{APIKey: "sk-test"})
	if _, err := a.Generate(context.Background(), "gpt-4o-mini", nil, 10); err == nil {
		t.Fatal("empty message list must fail")
	}
}
