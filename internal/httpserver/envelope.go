package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pixlens/pixlens-gateway/internal/adapter"
	"github.com/pixlens/pixlens-gateway/internal/core"
	"github.com/pixlens/pixlens-gateway/internal/identity"
	"github.com/pixlens/pixlens-gateway/internal/quota"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorEnvelope is the common failure shape: a stable message plus the
// numeric status mirrored into the body, with the remaining-counter field
// the original clients expect zeroed.
func (s *Server) errorEnvelope(w http.ResponseWriter, status int, message, remainingField string) {
	writeJSON(w, status, map[string]interface{}{
		"message":      message,
		"status":       status,
		remainingField: 0,
	})
}

// quotaEnvelope renders a 429 with everything the client needs to display
// quota state without re-querying.
func (s *Server) quotaEnvelope(w http.ResponseWriter, qe *core.QuotaExceededError, message, remainingField string) {
	writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"message":      message,
		"status":       http.StatusTooManyRequests,
		remainingField: 0,
		"limit":        qe.Limit,
		"resetDate":    qe.ResetAt.UTC().Format(time.RFC3339),
		"isProUser":    qe.Tier == quota.TierPro,
	})
}

// writePipelineError maps a pipeline failure onto the response envelope.
// remainingField names the counter the endpoint reports (remainingRequests
// or remainingScans).
func (s *Server) writePipelineError(w http.ResponseWriter, err error, remainingField string) {
	var invalidModel *core.InvalidModelError
	var capability *core.CapabilityError
	var exceeded *core.QuotaExceededError
	var providerErr *adapter.ProviderError
	var unsupported *adapter.UnsupportedProviderError

	switch {
	case errors.Is(err, core.ErrEmptyRequest):
		s.errorEnvelope(w, http.StatusBadRequest, "No message or image provided", remainingField)
	case errors.As(err, &invalidModel):
		s.errorEnvelope(w, http.StatusBadRequest, "Invalid model selected", remainingField)
	case errors.As(err, &capability):
		s.errorEnvelope(w, http.StatusBadRequest, "Selected model does not support image analysis", remainingField)
	case errors.As(err, &exceeded):
		message := "Monthly limit reached"
		if exceeded.Tier == quota.TierPro {
			message = "Pro monthly limit reached"
		}
		s.quotaEnvelope(w, exceeded, message, remainingField)
	case errors.As(err, &unsupported):
		s.logf("unsupported_provider err=%v", err)
		s.errorEnvelope(w, http.StatusBadRequest, "Selected model is not available yet", remainingField)
	case errors.As(err, &providerErr):
		s.logf("provider_error provider=%s err=%v", providerErr.Provider, err)
		s.errorEnvelope(w, http.StatusInternalServerError, "Upstream model provider failed", remainingField)
	default:
		s.logf("unexpected_error err=%v", err)
		s.errorEnvelope(w, http.StatusInternalServerError, "Failed to process request", remainingField)
	}
}

// writeAuthError maps identity resolution failures.
func (s *Server) writeAuthError(w http.ResponseWriter, err error, remainingField string) {
	switch {
	case errors.Is(err, identity.ErrMissingCredential):
		s.errorEnvelope(w, http.StatusUnauthorized, "No token provided", remainingField)
	case errors.Is(err, identity.ErrInvalidCredential):
		s.errorEnvelope(w, http.StatusUnauthorized, "Invalid token", remainingField)
	case errors.Is(err, identity.ErrMissingEmail):
		s.errorEnvelope(w, http.StatusBadRequest, "User email not found", remainingField)
	default:
		s.errorEnvelope(w, http.StatusUnauthorized, "Authentication failed", remainingField)
	}
}
