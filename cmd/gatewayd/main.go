package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adapteranthropic "github.com/pixlens/pixlens-gateway/internal/adapter/anthropic"
	adaptercohere "github.com/pixlens/pixlens-gateway/internal/adapter/cohere"
	adaptergoogle "github.com/pixlens/pixlens-gateway/internal/adapter/google"
	adapteropenai "github.com/pixlens/pixlens-gateway/internal/adapter/openai"
	adapterrouter "github.com/pixlens/pixlens-gateway/internal/adapter/router"
	"github.com/pixlens/pixlens-gateway/internal/billing"
	"github.com/pixlens/pixlens-gateway/internal/config"
	"github.com/pixlens/pixlens-gateway/internal/core"
	"github.com/pixlens/pixlens-gateway/internal/httpserver"
	"github.com/pixlens/pixlens-gateway/internal/identity"
	"github.com/pixlens/pixlens-gateway/internal/ledger"
	ledgermemory "github.com/pixlens/pixlens-gateway/internal/ledger/memory"
	ledgerpostgres "github.com/pixlens/pixlens-gateway/internal/ledger/postgres"
	ledgersqlite "github.com/pixlens/pixlens-gateway/internal/ledger/sqlite"
	"github.com/pixlens/pixlens-gateway/internal/logging"
	"github.com/pixlens/pixlens-gateway/internal/quota"
	"github.com/pixlens/pixlens-gateway/internal/registry"
	"github.com/pixlens/pixlens-gateway/internal/search"
	"github.com/pixlens/pixlens-gateway/internal/version"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[gatewayd] ")
		defer rot.Close()
	}
	log.Printf("starting pixlens gatewayd %s", version.FullInfo())

	catalog := registry.Default()
	if cfg.ModelCatalogFile != "" {
		n, err := catalog.LoadFile(cfg.ModelCatalogFile)
		if err != nil {
			log.Fatalf("load model catalog: %v", err)
		}
		log.Printf("model catalog loaded entries=%d file=%s", n, cfg.ModelCatalogFile)
	}
	for _, id := range []string{cfg.DefaultChatModel, cfg.DefaultVisionModel} {
		if _, ok := catalog.Get(id); !ok {
			log.Fatalf("default model %q missing from catalog", id)
		}
	}

	store, err := openLedgerStore(cfg)
	if err != nil {
		log.Fatalf("open ledger store: %v", err)
	}
	defer store.Close()
	usageLedger := ledger.New(store)

	var statusProvider billing.StatusProvider
	if cfg.StripeSecretKey != "" {
		if err := billing.InitStripe(cfg.StripeSecretKey); err != nil {
			log.Fatalf("init stripe: %v", err)
		}
		provider, err := billing.NewStripeProvider()
		if err != nil {
			log.Fatalf("init stripe provider: %v", err)
		}
		statusProvider = provider
	} else {
		log.Printf("stripe disabled; all callers treated as free tier")
	}

	limits := applyLimitOverrides(quota.DefaultLimits(), cfg)
	policy, err := quota.NewPolicy(limits, statusProvider)
	if err != nil {
		log.Fatalf("build quota policy: %v", err)
	}
	policy.SetLogger(log.New(log.Writer(), "[quota] ", log.LstdFlags|log.Lmicroseconds))

	verifier, err := identity.NewJWKSVerifier(identity.JWKSConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.JWKSURL,
	})
	if err != nil {
		log.Fatalf("init credential verifier: %v", err)
	}
	resolver := identity.NewResolver(verifier)

	router := adapterrouter.New()
	registerAdapters(router, cfg)

	var searchProvider search.Provider
	if cfg.SearchAPIKey != "" && cfg.SearchEngineID != "" {
		cse, err := search.NewGoogleCSE(search.Config{
			APIKey:         cfg.SearchAPIKey,
			EngineID:       cfg.SearchEngineID,
			RequestTimeout: cfg.SearchTimeout,
		})
		if err != nil {
			log.Fatalf("init search provider: %v", err)
		}
		searchProvider = cse
	} else {
		log.Printf("web search disabled; augmentation requests degrade to a disclaimer")
	}

	pipeline := core.NewPipeline(catalog, policy, usageLedger, router, searchProvider)
	pipeline.SetTokenMetering(cfg.TokenMeteringEnabled)

	server := httpserver.New(httpserver.Options{
		Pipeline:           pipeline,
		Resolver:           resolver,
		Policy:             policy,
		Ledger:             usageLedger,
		Catalog:            catalog,
		Search:             searchProvider,
		DefaultChatModel:   cfg.DefaultChatModel,
		DefaultVisionModel: cfg.DefaultVisionModel,
		GenerateTimeout:    cfg.GenerateTimeout,
	})

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Routes(),
	}

	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openLedgerStore(cfg config.Config) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case "memory":
		return ledgermemory.New(), nil
	case "postgres":
		return ledgerpostgres.New(cfg.LedgerDSN)
	default:
		return ledgersqlite.New(cfg.LedgerPath)
	}
}

func registerAdapters(router *adapterrouter.Router, cfg config.Config) {
	if cfg.OpenAIAPIKey != "" {
		a, err := adapteropenai.New(adapteropenai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Organization:   cfg.OpenAIOrg,
			RequestTimeout: cfg.GenerateTimeout,
		})
		if err != nil {
			log.Fatalf("init openai adapter: %v", err)
		}
		_ = router.Register("openai", a)
	}
	if cfg.AnthropicAPIKey != "" {
		a, err := adapteranthropic.New(adapteranthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			BaseURL:        cfg.AnthropicBaseURL,
			Version:        cfg.AnthropicVersion,
			RequestTimeout: cfg.GenerateTimeout,
		})
		if err != nil {
			log.Fatalf("init anthropic adapter: %v", err)
		}
		_ = router.Register("anthropic", a)
	}
	if cfg.GoogleAIAPIKey != "" {
		a, err := adaptergoogle.New(adaptergoogle.Config{
			APIKey:         cfg.GoogleAIAPIKey,
			BaseURL:        cfg.GoogleAIBaseURL,
			RequestTimeout: cfg.GenerateTimeout,
		})
		if err != nil {
			log.Fatalf("init google adapter: %v", err)
		}
		_ = router.Register("google", a)
	}
	if cfg.CohereAPIKey != "" {
		a, err := adaptercohere.New(adaptercohere.Config{
			APIKey:         cfg.CohereAPIKey,
			BaseURL:        cfg.CohereBaseURL,
			RequestTimeout: cfg.GenerateTimeout,
		})
		if err != nil {
			log.Fatalf("init cohere adapter: %v", err)
		}
		_ = router.Register("cohere", a)
	}
	log.Printf("adapters registered providers=%v", router.Providers())
}

func applyLimitOverrides(limits quota.Limits, cfg config.Config) quota.Limits {
	if cfg.FreeRequestLimit > 0 || cfg.ProRequestLimit > 0 {
		pair := limits.Tiered[quota.DimensionRequests]
		if cfg.FreeRequestLimit > 0 {
			pair.Free = cfg.FreeRequestLimit
		}
		if cfg.ProRequestLimit > 0 {
			pair.Pro = cfg.ProRequestLimit
		}
		limits.Tiered[quota.DimensionRequests] = pair
	}
	if cfg.FreeScanLimit > 0 || cfg.ProScanLimit > 0 {
		pair := limits.Tiered[quota.DimensionScans]
		if cfg.FreeScanLimit > 0 {
			pair.Free = cfg.FreeScanLimit
		}
		if cfg.ProScanLimit > 0 {
			pair.Pro = cfg.ProScanLimit
		}
		limits.Tiered[quota.DimensionScans] = pair
	}
	return limits
}
