// Package config loads gateway runtime options from the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config describes runtime options for the gateway daemon.
type Config struct {
	ListenAddr string
	LogFile    string
	LogLevel   string

	// Identity verification
	AuthIssuer   string
	AuthAudience string
	JWKSURL      string

	// Billing
	StripeSecretKey string

	// Ledger backend: memory|sqlite|postgres
	LedgerBackend string
	LedgerPath    string // sqlite file path
	LedgerDSN     string // postgres connection string

	// Model catalog
	ModelCatalogFile   string
	DefaultChatModel   string
	DefaultVisionModel string

	// Vendor credentials
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIOrg        string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string
	GoogleAIAPIKey   string
	GoogleAIBaseURL  string
	CohereAPIKey     string
	CohereBaseURL    string

	// Web search augmentation
	SearchAPIKey   string
	SearchEngineID string

	// Timeouts
	GenerateTimeout time.Duration
	SearchTimeout   time.Duration

	// Token metering (tokens dimension, recorded post-generation)
	TokenMeteringEnabled bool

	// Limit overrides (0 keeps the built-in table value)
	FreeRequestLimit int64
	ProRequestLimit  int64
	FreeScanLimit    int64
	ProScanLimit     int64
}

// Getenv matches os.Getenv; injectable for tests.
type Getenv func(key string) string

// Load reads configuration from the environment.
func Load(getenv Getenv) (Config, error) {
	cfg := Config{
		ListenAddr: firstNonEmpty(getenv("PIXLENS_LISTEN_ADDR"), ":8080"),
		LogFile:    getenv("PIXLENS_LOG_FILE"),
		LogLevel:   firstNonEmpty(getenv("PIXLENS_LOG_LEVEL"), "info"),

		AuthIssuer:   getenv("PIXLENS_AUTH_ISSUER"),
		AuthAudience: getenv("PIXLENS_AUTH_AUDIENCE"),
		JWKSURL:      getenv("PIXLENS_JWKS_URL"),

		StripeSecretKey: getenv("STRIPE_SECRET_KEY"),

		LedgerBackend: firstNonEmpty(getenv("PIXLENS_LEDGER_BACKEND"), "sqlite"),
		LedgerPath:    firstNonEmpty(getenv("PIXLENS_LEDGER_PATH"), "data/ledger.db"),
		LedgerDSN:     getenv("PIXLENS_LEDGER_DSN"),

		ModelCatalogFile:   getenv("PIXLENS_MODEL_CATALOG"),
		DefaultChatModel:   firstNonEmpty(getenv("PIXLENS_DEFAULT_CHAT_MODEL"), "gpt-4o-mini"),
		DefaultVisionModel: firstNonEmpty(getenv("PIXLENS_DEFAULT_VISION_MODEL"), "gpt-4o-mini"),

		OpenAIAPIKey:     getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getenv("OPENAI_BASE_URL"),
		OpenAIOrg:        getenv("OPENAI_ORG"),
		AnthropicAPIKey:  getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: getenv("ANTHROPIC_BASE_URL"),
		AnthropicVersion: firstNonEmpty(getenv("ANTHROPIC_VERSION"), "2023-06-01"),
		GoogleAIAPIKey:   getenv("GOOGLE_AI_API_KEY"),
		GoogleAIBaseURL:  getenv("GOOGLE_AI_BASE_URL"),
		CohereAPIKey:     getenv("COHERE_API_KEY"),
		CohereBaseURL:    getenv("COHERE_BASE_URL"),

		SearchAPIKey:   getenv("GOOGLE_SEARCH_API_KEY"),
		SearchEngineID: getenv("GOOGLE_SEARCH_CSE_ID"),

		GenerateTimeout: parseDuration(getenv("PIXLENS_GENERATE_TIMEOUT"), 60*time.Second),
		SearchTimeout:   parseDuration(getenv("PIXLENS_SEARCH_TIMEOUT"), 10*time.Second),

		TokenMeteringEnabled: parseOptionalBool(getenv("PIXLENS_TOKEN_METERING"), true),

		FreeRequestLimit: parseInt64(getenv("PIXLENS_FREE_REQUEST_LIMIT")),
		ProRequestLimit:  parseInt64(getenv("PIXLENS_PRO_REQUEST_LIMIT")),
		FreeScanLimit:    parseInt64(getenv("PIXLENS_FREE_SCAN_LIMIT")),
		ProScanLimit:     parseInt64(getenv("PIXLENS_PRO_SCAN_LIMIT")),
	}

	switch cfg.LedgerBackend {
	case "memory", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("config: unknown ledger backend %q", cfg.LedgerBackend)
	}
	if cfg.LedgerBackend == "postgres" && cfg.LedgerDSN == "" {
		return Config{}, fmt.Errorf("config: PIXLENS_LEDGER_DSN required for postgres backend")
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseOptionalBool(raw string, fallback bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func parseInt64(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
