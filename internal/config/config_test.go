package config

import (
	"testing"
	"time"
)

func envMap(m map[string]string) Getenv {
	return func(key string) string { return m[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(envMap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("listenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LedgerBackend != "sqlite" || cfg.LedgerPath != "data/ledger.db" {
		t.Errorf("ledger = %q/%q", cfg.LedgerBackend, cfg.LedgerPath)
	}
	if cfg.DefaultChatModel != "gpt-4o-mini" || cfg.DefaultVisionModel != "gpt-4o-mini" {
		t.Errorf("default models = %q/%q", cfg.DefaultChatModel, cfg.DefaultVisionModel)
	}
	if cfg.GenerateTimeout != 60*time.Second {
		t.Errorf("generateTimeout = %v", cfg.GenerateTimeout)
	}
	if cfg.SearchTimeout != 10*time.Second {
		t.Errorf("searchTimeout = %v", cfg.SearchTimeout)
	}
	if !cfg.TokenMeteringEnabled {
		t.Error("token metering should default on")
	}
	if cfg.AnthropicVersion != "2023-06-01" {
		t.Errorf("anthropicVersion = %q", cfg.AnthropicVersion)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"PIXLENS_LISTEN_ADDR":        ":9000",
		"PIXLENS_LEDGER_BACKEND":     "memory",
		"PIXLENS_GENERATE_TIMEOUT":   "90s",
		"PIXLENS_TOKEN_METERING":     "false",
		"PIXLENS_FREE_REQUEST_LIMIT": "50",
		"OPENAI_API_KEY":             "sk-test",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9000" {
		t.Errorf("listenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LedgerBackend != "memory" {
		t.Errorf("ledgerBackend = %q", cfg.LedgerBackend)
	}
	if cfg.GenerateTimeout != 90*time.Second {
		t.Errorf("generateTimeout = %v", cfg.GenerateTimeout)
	}
	if cfg.TokenMeteringEnabled {
		t.Error("token metering should be off")
	}
	if cfg.FreeRequestLimit != 50 {
		t.Errorf("freeRequestLimit = %d", cfg.FreeRequestLimit)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Errorf("openAIAPIKey = %q", cfg.OpenAIAPIKey)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"PIXLENS_GENERATE_TIMEOUT": "not-a-duration",
		"PIXLENS_TOKEN_METERING":   "maybe",
		"PIXLENS_FREE_SCAN_LIMIT":  "-3",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GenerateTimeout != 60*time.Second {
		t.Errorf("generateTimeout = %v, want fallback", cfg.GenerateTimeout)
	}
	if !cfg.TokenMeteringEnabled {
		t.Error("unparseable bool should keep the default")
	}
	if cfg.FreeScanLimit != 0 {
		t.Errorf("negative limit override should be ignored, got %d", cfg.FreeScanLimit)
	}
}

func TestLoad_BackendValidation(t *testing.T) {
	if _, err := Load(envMap(map[string]string{"PIXLENS_LEDGER_BACKEND": "redis"})); err == nil {
		t.Error("unknown backend must fail")
	}
	if _, err := Load(envMap(map[string]string{"PIXLENS_LEDGER_BACKEND": "postgres"})); err == nil {
		t.Error("postgres without DSN must fail")
	}
	if _, err := Load(envMap(map[string]string{
		"PIXLENS_LEDGER_BACKEND": "postgres",
		"PIXLENS_LEDGER_DSN":     "postgres://localhost/pixlens",
	})); err != nil {
		t.Errorf("postgres with DSN: %v", err)
	}
}
