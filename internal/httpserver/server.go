// Package httpserver exposes the gateway's REST endpoints. Each route is a
// thin configuration of the core pipeline: quota dimension, default model,
// prompt policy.
package httpserver

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pixlens/pixlens-gateway/internal/core"
	"github.com/pixlens/pixlens-gateway/internal/identity"
	"github.com/pixlens/pixlens-gateway/internal/ledger"
	"github.com/pixlens/pixlens-gateway/internal/prompt"
	"github.com/pixlens/pixlens-gateway/internal/quota"
	"github.com/pixlens/pixlens-gateway/internal/registry"
	"github.com/pixlens/pixlens-gateway/internal/search"
	"github.com/pixlens/pixlens-gateway/internal/version"
)

// Server wires the HTTP surface to the pipeline and its collaborators.
type Server struct {
	pipeline *core.Pipeline
	resolver *identity.Resolver
	policy   *quota.Policy
	ledger   *ledger.Ledger
	catalog  *registry.Catalog
	search   search.Provider // nil disables /v1/web-search results

	defaultChatModel   string
	defaultVisionModel string
	chatPromptPolicy   prompt.Policy
	generateTimeout    time.Duration

	logger *log.Logger
}

// Options configures a Server.
type Options struct {
	Pipeline *core.Pipeline
	Resolver *identity.Resolver
	Policy   *quota.Policy
	Ledger   *ledger.Ledger
	Catalog  *registry.Catalog
	Search   search.Provider

	DefaultChatModel   string
	DefaultVisionModel string
	ChatPromptPolicy   prompt.Policy
	GenerateTimeout    time.Duration
}

// New creates a Server.
func New(opts Options) *Server {
	timeout := opts.GenerateTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	policy := opts.ChatPromptPolicy
	if policy.Fresh == "" {
		policy.Fresh = defaultChatPrompt
	}
	if policy.Continuing == "" {
		policy.Continuing = continuingChatPrompt
	}
	return &Server{
		pipeline:           opts.Pipeline,
		resolver:           opts.Resolver,
		policy:             opts.Policy,
		ledger:             opts.Ledger,
		catalog:            opts.Catalog,
		search:             opts.Search,
		defaultChatModel:   opts.DefaultChatModel,
		defaultVisionModel: opts.DefaultVisionModel,
		chatPromptPolicy:   policy,
		generateTimeout:    timeout,
		logger:             log.New(log.Writer(), "[httpserver] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Server) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Routes builds the chi router for the gateway.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ping", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/analyze-image", s.handleAnalyzeImage)
		r.Post("/web-search", s.handleWebSearch)
		r.Get("/models", s.handleModels)
		r.Get("/user-info", s.handleUserInfo)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Info(),
	})
}

// defaultChatPrompt opens a fresh conversation.
const defaultChatPrompt = `You are a helpful assistant embedded in a browser extension. Answer the user's question clearly and concisely. When an image is attached, base your answer on its contents.`

// continuingChatPrompt is used when prior turns exist: the model should
// describe what changed rather than restart the analysis.
const continuingChatPrompt = `You are a helpful assistant embedded in a browser extension, continuing an existing conversation. Build on the prior turns; describe changes and answer follow-up questions rather than repeating earlier analysis.`
