// Package core runs the request pipeline shared by every generation
// endpoint: resolve quota, build messages, dispatch to the provider, record
// usage. Routes are thin configurations of this pipeline.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	adapterrouter "github.com/pixlens/pixlens-gateway/internal/adapter/router"
	"github.com/pixlens/pixlens-gateway/internal/billing"
	"github.com/pixlens/pixlens-gateway/internal/identity"
	"github.com/pixlens/pixlens-gateway/internal/ledger"
	"github.com/pixlens/pixlens-gateway/internal/llm"
	"github.com/pixlens/pixlens-gateway/internal/prompt"
	"github.com/pixlens/pixlens-gateway/internal/quota"
	"github.com/pixlens/pixlens-gateway/internal/registry"
	"github.com/pixlens/pixlens-gateway/internal/search"
)

// ErrEmptyRequest marks a turn with neither text nor image.
var ErrEmptyRequest = errors.New("no message or image provided")

// InvalidModelError marks an unknown model id.
type InvalidModelError struct {
	ModelID string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid model %q", e.ModelID)
}

// CapabilityError marks an image request against a text-only model.
type CapabilityError struct {
	ModelID string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("model %q does not support image analysis", e.ModelID)
}

// QuotaExceededError carries everything a 429 envelope needs.
type QuotaExceededError struct {
	Limit   int64
	ResetAt time.Time
	Tier    quota.Tier
	Key     string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly limit of %d reached for %s", e.Limit, e.Key)
}

// Request is one pipeline invocation. Routes fill in their dimension,
// default model, and prompt policy; the body supplies the rest.
type Request struct {
	Identity       identity.Identity
	Dimension      quota.Dimension
	ModelID        string // empty selects DefaultModelID
	DefaultModelID string
	PromptPolicy   prompt.Policy
	EnableSearch   bool
	History        []llm.Message
	Turn           prompt.Turn
}

// Response is the normalized pipeline outcome.
type Response struct {
	Content   string
	Usage     *llm.Usage
	Model     registry.ModelConfig
	Tier      quota.Tier
	LedgerKey string
	Limit     int64
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

// Pipeline wires the collaborators each request walks through.
type Pipeline struct {
	catalog *registry.Catalog
	policy  *quota.Policy
	ledger  *ledger.Ledger
	router  *adapterrouter.Router
	search  search.Provider // nil disables augmentation
	logger  *log.Logger

	// meterTokens archives reported token usage against the tokens
	// dimension after each successful generation.
	meterTokens bool
}

// NewPipeline creates a Pipeline. search may be nil.
func NewPipeline(catalog *registry.Catalog, policy *quota.Policy, l *ledger.Ledger, router *adapterrouter.Router, searchProvider search.Provider) *Pipeline {
	return &Pipeline{
		catalog: catalog,
		policy:  policy,
		ledger:  l,
		router:  router,
		search:  searchProvider,
		logger:  log.New(log.Writer(), "[core/pipeline] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (p *Pipeline) SetLogger(logger *log.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SetTokenMetering toggles post-generation token accounting.
func (p *Pipeline) SetTokenMetering(enabled bool) {
	p.meterTokens = enabled
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Execute walks one request through the pipeline. Input, model, and quota
// failures return typed errors with no side effects beyond the quota
// check itself; provider failures propagate after the request-count
// increment, matching the per-request metering policy.
func (p *Pipeline) Execute(ctx context.Context, req Request) (Response, error) {
	if req.Turn.Empty() {
		return Response{}, ErrEmptyRequest
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = req.DefaultModelID
	}
	model, ok := p.catalog.Get(modelID)
	if !ok {
		return Response{}, &InvalidModelError{ModelID: modelID}
	}
	if len(req.Turn.ImageData) > 0 && !model.SupportsImages {
		return Response{}, &CapabilityError{ModelID: model.ID}
	}

	status := p.policy.Lookup(ctx, req.Identity)
	res, err := p.policy.ResolveWith(req.Identity, req.Dimension, status)
	if err != nil {
		return Response{}, err
	}
	p.logf("quota_resolved key=%s tier=%s limit=%d dim=%s", res.LedgerKey, res.Tier, res.Limit, req.Dimension)

	decision, err := p.ledger.CheckAndIncrement(ctx, res.LedgerKey, res.Limit)
	if err != nil {
		return Response{}, err
	}
	if !decision.Allowed {
		p.logf("quota_denied key=%s count=%d limit=%d", res.LedgerKey, decision.Count, res.Limit)
		return Response{}, &QuotaExceededError{
			Limit:   res.Limit,
			ResetAt: decision.ResetAt,
			Tier:    res.Tier,
			Key:     res.LedgerKey,
		}
	}
	if req.Identity.Kind == identity.KindAnonymous {
		if err := p.ledger.Annotate(ctx, res.LedgerKey, req.Identity.IP, req.Identity.Email); err != nil {
			p.logf("annotate_failed key=%s err=%v", res.LedgerKey, err)
		}
	}

	searchContext := p.searchContext(ctx, req)

	systemPrompt := req.PromptPolicy.Select(len(req.History) > 0)
	messages := prompt.Build(systemPrompt, searchContext, req.History, req.Turn)

	result, err := p.router.Generate(ctx, model.Provider, model.ID, messages, model.MaxOutputTokens)
	if err != nil {
		p.logf("generate_failed provider=%s model=%s err=%v", model.Provider, model.ID, err)
		return Response{}, err
	}
	p.logf("generate_ok provider=%s model=%s", model.Provider, model.ID)

	// Token metering runs strictly after a successful generation, using the
	// vendor's reported usage; a failed call never consumes token quota.
	if p.meterTokens && result.Usage != nil && result.Usage.TotalTokens > 0 {
		p.recordTokens(ctx, req.Identity, res.Status, int64(result.Usage.TotalTokens))
	}

	return Response{
		Content:   result.Content,
		Usage:     result.Usage,
		Model:     model,
		Tier:      res.Tier,
		LedgerKey: res.LedgerKey,
		Limit:     res.Limit,
		Count:     decision.Count,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
	}, nil
}

// searchContext returns the augmentation message: ranked results on
// success, a disclaimer on failure, zero when disabled or when the query
// reduces to nothing. Search failures never fail the request.
func (p *Pipeline) searchContext(ctx context.Context, req Request) llm.Message {
	if !req.EnableSearch || p.search == nil {
		return llm.Message{}
	}
	query := prompt.SearchQuery(req.Turn.Text)
	if query == "" {
		return llm.Message{}
	}
	results, err := p.search.Search(ctx, query)
	if err != nil {
		p.logf("search_failed query=%q err=%v", query, err)
		return prompt.SearchUnavailable()
	}
	if len(results) == 0 {
		return llm.Message{}
	}
	p.logf("search_ok query=%q results=%d", query, len(results))
	return prompt.SearchContext(results)
}

// recordTokens archives measured usage against the tokens dimension,
// reusing the billing status fetched for the primary dimension.
// Best-effort: a ledger failure here is logged, not surfaced.
func (p *Pipeline) recordTokens(ctx context.Context, id identity.Identity, status billing.Status, total int64) {
	res, err := p.policy.ResolveWith(id, quota.DimensionTokens, status)
	if err != nil {
		p.logf("token_meter_resolve_failed err=%v", err)
		return
	}
	if err := p.ledger.IncrementBy(ctx, res.LedgerKey, total); err != nil {
		p.logf("token_meter_failed key=%s err=%v", res.LedgerKey, err)
	}
}
