// Package testutil holds fakes shared across package tests.
package testutil

import (
	"context"
	"errors"

	"github.com/pixlens/pixlens-gateway/internal/billing"
	"github.com/pixlens/pixlens-gateway/internal/identity"
	"github.com/pixlens/pixlens-gateway/internal/llm"
)

// FakeVerifier implements identity.Verifier via a func field.
type FakeVerifier struct {
	VerifyFunc func(ctx context.Context, token string) (identity.Principal, error)
}

func (f *FakeVerifier) Verify(ctx context.Context, token string) (identity.Principal, error) {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ctx, token)
	}
	return identity.Principal{}, errors.New("verify not implemented")
}

// FakeBilling implements billing.StatusProvider via a func field.
type FakeBilling struct {
	StatusFunc func(ctx context.Context, email string) (billing.Status, error)
}

func (f *FakeBilling) Status(ctx context.Context, email string) (billing.Status, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, email)
	}
	return billing.Status{}, nil
}

// FakeGenerator implements adapter.Generator via a func field and records
// the calls it receives.
type FakeGenerator struct {
	GenerateFunc func(ctx context.Context, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error)
	Calls        []GeneratorCall
}

// GeneratorCall captures the arguments of one Generate invocation.
type GeneratorCall struct {
	ModelID   string
	Messages  []llm.Message
	MaxTokens int
}

func (f *FakeGenerator) Generate(ctx context.Context, modelID string, messages []llm.Message, maxTokens int) (llm.Result, error) {
	f.Calls = append(f.Calls, GeneratorCall{ModelID: modelID, Messages: messages, MaxTokens: maxTokens})
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, modelID, messages, maxTokens)
	}
	return llm.Result{Content: "ok"}, nil
}

// FakeSearch implements search.Provider via a func field.
type FakeSearch struct {
	SearchFunc func(ctx context.Context, query string) ([]llm.Source, error)
	Queries    []string
}

func (f *FakeSearch) Search(ctx context.Context, query string) ([]llm.Source, error) {
	f.Queries = append(f.Queries, query)
	if f.SearchFunc != nil {
		return f.SearchFunc(ctx, query)
	}
	return nil, nil
}
