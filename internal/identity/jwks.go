package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

// JWKSVerifier validates bearer tokens against a JWKS endpoint and checks
// issuer and audience.
type JWKSVerifier struct {
	issuer   string
	audience string
	keyfunc  keyfunc.Keyfunc
	parser   *jwt.Parser
}

// JWKSConfig holds configuration for the JWKS verifier.
type JWKSConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string // optional, derived from issuer when empty
}

// NewJWKSVerifier builds a verifier fetching keys from the issuer's JWKS
// endpoint.
func NewJWKSVerifier(cfg JWKSConfig) (*JWKSVerifier, error) {
	issuer := normalizeIssuer(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("identity: issuer must be set")
	}
	if cfg.Audience == "" {
		return nil, errors.New("identity: audience must be set")
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = issuer + ".well-known/jwks.json"
	}

	keyProvider, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("identity: init JWKS keyfunc: %w", err)
	}

	parser := jwt.NewParser(
		jwt.WithIssuer(issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name}),
	)

	return &JWKSVerifier{
		issuer:   issuer,
		audience: cfg.Audience,
		keyfunc:  keyProvider,
		parser:   parser,
	}, nil
}

// Verify parses and validates a token, returning its subject and email.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	parsed, err := v.parser.Parse(token, v.keyfunc.Keyfunc)
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("invalid token claims")
	}

	p := Principal{
		Subject: readString(claims, "sub"),
		Email:   readString(claims, "email"),
	}
	if p.Subject == "" {
		return Principal{}, errors.New("token missing sub")
	}
	return p, nil
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return ""
	}
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	return issuer
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}
