// Package identity resolves inbound credentials into a caller identity:
// a verified user, or an anonymous IP with best-effort email.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Kind discriminates the two identity shapes.
type Kind string

const (
	KindUser      Kind = "user"
	KindAnonymous Kind = "anonymous"
)

// Identity is the resolved caller. A user identity always carries a stable
// id and email; an anonymous identity degrades to IP-only when no email is
// available.
type Identity struct {
	Kind   Kind   `json:"kind"`
	UserID string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	IP     string `json:"ip,omitempty"`
}

// Principal is the verified subject of a credential.
type Principal struct {
	Subject string
	Email   string
}

// Verifier validates a bearer credential against an external
// identity-verification service. Verification is side-effect-free on
// failure.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// Sentinel errors for credential handling; the HTTP layer maps these onto
// 400/401-class responses.
var (
	ErrMissingCredential = errors.New("no token provided")
	ErrInvalidCredential = errors.New("invalid token")
	ErrMissingEmail      = errors.New("user email not found")
)

// AuthHeader is the inbound credential header.
const AuthHeader = "x-auth-token"

// Resolver turns request headers into identities.
type Resolver struct {
	verifier Verifier
}

// NewResolver builds a Resolver around a credential verifier.
func NewResolver(v Verifier) *Resolver {
	return &Resolver{verifier: v}
}

// bearerToken extracts the bearer token from the auth header, or "".
func bearerToken(r *http.Request) string {
	header := r.Header.Get(AuthHeader)
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// RequireUser resolves a request that demands authentication. It never
// falls back to an anonymous identity: a missing header, failed
// verification, or a principal without an email is an error.
func (res *Resolver) RequireUser(ctx context.Context, r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, ErrMissingCredential
	}
	principal, err := res.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, ErrInvalidCredential
	}
	if principal.Email == "" {
		return Identity{}, ErrMissingEmail
	}
	return Identity{
		Kind:   KindUser,
		UserID: principal.Subject,
		Email:  principal.Email,
		IP:     ClientIP(r),
	}, nil
}

// Resolve handles anonymous-capable routes. A verified credential attaches
// its email to the anonymous identity; an absent or failing credential
// degrades to IP-only.
func (res *Resolver) Resolve(ctx context.Context, r *http.Request) Identity {
	id := Identity{Kind: KindAnonymous, IP: ClientIP(r)}
	token := bearerToken(r)
	if token == "" {
		return id
	}
	principal, err := res.verifier.Verify(ctx, token)
	if err != nil {
		// A failed verification proves nothing; stay IP-only.
		return id
	}
	id.Email = principal.Email
	return id
}

// ipHeaders is the precedence order for client IP extraction.
var ipHeaders = []string{"x-forwarded-for", "cf-connecting-ip", "fastly-client-ip", "x-real-ip"}

// ClientIP returns the first populated IP header, taking the first CSV
// entry of x-forwarded-for, or "unknown".
func ClientIP(r *http.Request) string {
	for _, h := range ipHeaders {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		if h == "x-forwarded-for" {
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = strings.TrimSpace(v[:i])
			}
		}
		if v != "" {
			return v
		}
	}
	return "unknown"
}
