package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixlens/pixlens-gateway/internal/core"
	"github.com/pixlens/pixlens-gateway/internal/ledger"
	"github.com/pixlens/pixlens-gateway/internal/llm"
	"github.com/pixlens/pixlens-gateway/internal/prompt"
	"github.com/pixlens/pixlens-gateway/internal/quota"
	"github.com/pixlens/pixlens-gateway/internal/registry"
)

// historyMessage accepts both wire spellings the clients use: role/content
// and sender/text.
type historyMessage struct {
	Role    string `json:"role"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

func (m historyMessage) toMessage() llm.Message {
	role := m.Role
	if role == "" {
		role = m.Sender
	}
	text := m.Content
	if text == "" {
		text = m.Text
	}
	r := llm.RoleUser
	if role == "assistant" {
		r = llm.RoleAssistant
	}
	return llm.Message{Role: r, Text: text}
}

type enhancements struct {
	AllowAPISearch bool `json:"allowApiSearch"`
}

type chatRequest struct {
	ImageBase64         string           `json:"imageBase64"`
	ChatMessage         string           `json:"chatMessage"`
	Content             string           `json:"content"`
	Prompt              string           `json:"prompt"`
	ConversationHistory []historyMessage `json:"conversationHistory"`
	ModelID             string           `json:"modelId"`
	Enhancements        *enhancements    `json:"enhancements"`
}

// decodeImage strips an optional data-URL prefix and decodes base64 image
// payloads.
func decodeImage(raw string) ([]byte, string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", true
	}
	mime := "image/jpeg"
	if strings.HasPrefix(raw, "data:") {
		rest := strings.TrimPrefix(raw, "data:")
		if i := strings.Index(rest, ";base64,"); i >= 0 {
			mime = rest[:i]
			raw = rest[i+len(";base64,"):]
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, "", false
	}
	return data, mime, true
}

// handleChat serves the anonymous-capable chat endpoint on the requests
// dimension.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	const remainingField = "remainingRequests"

	requestID := uuid.New().String()
	id := s.resolver.Resolve(r.Context(), r)

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorEnvelope(w, http.StatusBadRequest, "Malformed request body", remainingField)
		return
	}

	text := body.ChatMessage
	if text == "" {
		text = body.Content
	}
	image, mime, ok := decodeImage(body.ImageBase64)
	if !ok {
		s.errorEnvelope(w, http.StatusBadRequest, "Invalid image encoding", remainingField)
		return
	}

	history := make([]llm.Message, 0, len(body.ConversationHistory))
	for _, m := range body.ConversationHistory {
		history = append(history, m.toMessage())
	}

	policy := s.chatPromptPolicy
	if strings.TrimSpace(body.Prompt) != "" {
		// Clients may carry their own system prompt; it replaces the fresh
		// variant only.
		policy.Fresh = body.Prompt
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.generateTimeout)
	defer cancel()

	resp, err := s.pipeline.Execute(ctx, core.Request{
		Identity:       id,
		Dimension:      quota.DimensionRequests,
		ModelID:        body.ModelID,
		DefaultModelID: s.defaultChatModel,
		PromptPolicy:   policy,
		EnableSearch:   body.Enhancements != nil && body.Enhancements.AllowAPISearch,
		History:        history,
		Turn:           prompt.Turn{Text: text, ImageData: image, ImageMIME: mime},
	})
	if err != nil {
		s.logf("chat request=%s err=%v", requestID, err)
		s.writePipelineError(w, err, remainingField)
		return
	}
	s.logf("chat request=%s model=%s tier=%s count=%d", requestID, resp.Model.ID, resp.Tier, resp.Count)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Request processed successfully",
		"status":    http.StatusOK,
		"requestId": requestID,
		"response":  resp.Content,
		"usage":     resp.Usage,
		"user": map[string]interface{}{
			"ip":                id.IP,
			"email":             id.Email,
			"requestCount":      resp.Count,
			"remainingRequests": resp.Remaining,
			"requestLimit":      resp.Limit,
		},
	})
}

type analyzeRequest struct {
	ImageBase64 string `json:"imageBase64"`
	ModelID     string `json:"modelId"`
}

// handleAnalyzeImage serves the authenticated scan endpoint on the scans
// dimension with the fixed image-analysis prompt.
func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	const remainingField = "remainingScans"

	requestID := uuid.New().String()
	id, err := s.resolver.RequireUser(r.Context(), r)
	if err != nil {
		s.writeAuthError(w, err, remainingField)
		return
	}

	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorEnvelope(w, http.StatusBadRequest, "Malformed request body", remainingField)
		return
	}
	if strings.TrimSpace(body.ImageBase64) == "" {
		s.errorEnvelope(w, http.StatusBadRequest, "No image provided", remainingField)
		return
	}
	image, mime, ok := decodeImage(body.ImageBase64)
	if !ok {
		s.errorEnvelope(w, http.StatusBadRequest, "Invalid image encoding", remainingField)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.generateTimeout)
	defer cancel()

	resp, err := s.pipeline.Execute(ctx, core.Request{
		Identity:       id,
		Dimension:      quota.DimensionScans,
		ModelID:        body.ModelID,
		DefaultModelID: s.defaultVisionModel,
		PromptPolicy:   prompt.Policy{Fresh: prompt.ImageAnalysisPrompt},
		Turn:           prompt.Turn{ImageData: image, ImageMIME: mime},
	})
	if err != nil {
		s.logf("analyze request=%s err=%v", requestID, err)
		s.writePipelineError(w, err, remainingField)
		return
	}
	s.logf("analyze request=%s model=%s tier=%s count=%d", requestID, resp.Model.ID, resp.Tier, resp.Count)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Image analyzed successfully",
		"status":    http.StatusOK,
		"requestId": requestID,
		"analysis":  resp.Content,
		"usage":     resp.Usage,
		"user": map[string]interface{}{
			"id":             id.UserID,
			"email":          id.Email,
			"scanCount":      resp.Count,
			"remainingScans": resp.Remaining,
			"isProUser":      resp.Tier == quota.TierPro,
			"scanLimit":      resp.Limit,
		},
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

// handleWebSearch serves the standalone authenticated search endpoint.
func (s *Server) handleWebSearch(w http.ResponseWriter, r *http.Request) {
	const remainingField = "remainingRequests"

	if _, err := s.resolver.RequireUser(r.Context(), r); err != nil {
		s.writeAuthError(w, err, remainingField)
		return
	}

	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Query) == "" {
		s.errorEnvelope(w, http.StatusBadRequest, "Missing or invalid query", remainingField)
		return
	}
	if s.search == nil {
		s.errorEnvelope(w, http.StatusInternalServerError, "Web search is not configured", remainingField)
		return
	}

	results, err := s.search.Search(r.Context(), body.Query)
	if err != nil {
		s.logf("web_search_failed query=%q err=%v", body.Query, err)
		s.errorEnvelope(w, http.StatusInternalServerError, "Failed to fetch search results", remainingField)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Search successful",
		"status":  http.StatusOK,
		"results": results,
	})
}

// handleModels lists the catalog; imageOnly=true filters to image-capable
// models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	tier := registry.TierFree
	id := s.resolver.Resolve(r.Context(), r)
	if id.Email != "" {
		if status := s.policy.Lookup(r.Context(), id); status.Active {
			tier = registry.TierPro
		}
	}

	var models []registry.ModelConfig
	if r.URL.Query().Get("imageOnly") == "true" {
		models = s.catalog.ListImageCapable(tier)
	} else {
		models = s.catalog.List(tier)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Models retrieved successfully",
		"status":  http.StatusOK,
		"models":  models,
	})
}

// handleUserInfo reports the authenticated caller's scan usage and
// subscription state. The month rollover is persisted here so read-only
// clients see a zeroed counter.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	const remainingField = "remainingScans"

	id, err := s.resolver.RequireUser(r.Context(), r)
	if err != nil {
		s.writeAuthError(w, err, remainingField)
		return
	}

	status := s.policy.Lookup(r.Context(), id)
	res, err := s.policy.ResolveWith(id, quota.DimensionScans, status)
	if err != nil {
		s.errorEnvelope(w, http.StatusInternalServerError, "Failed to resolve usage", remainingField)
		return
	}

	snapshot, err := s.ledger.Snapshot(r.Context(), res.LedgerKey, res.Limit)
	if err != nil {
		s.logf("snapshot_failed key=%s err=%v", res.LedgerKey, err)
		snapshot = ledger.Decision{ResetAt: quota.FirstOfNextMonth(time.Now())}
	}

	user := map[string]interface{}{
		"id":             id.UserID,
		"email":          id.Email,
		"scanCount":      snapshot.Count,
		"remainingScans": snapshot.Remaining,
		"scanLimit":      res.Limit,
		"isProUser":      res.Tier == quota.TierPro,
		"resetDate":      snapshot.ResetAt.UTC().Format(time.RFC3339),
	}
	if res.Status.ExpiresAt != nil {
		user["subscriptionExpiresAt"] = res.Status.ExpiresAt.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "User information retrieved successfully",
		"status":  http.StatusOK,
		"user":    user,
	})
}
