// Package auth validates the bearer tokens presented to the HTTP API. The
// token subject is the user id every request acts on.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Config holds the HS256 secret and the issuer tokens must carry.
type Config struct {
	Secret string
	Issuer string
}

// Claims identifies the caller of a request.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// UserID returns the user the token was issued to.
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// Parse verifies token and returns its claims. Tokens must be HS256, carry
// the configured issuer, an expiry and a subject.
func Parse(token string, cfg Config) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var registered jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &registered,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if registered.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return &Claims{Subject: registered.Subject, ExpiresAt: registered.ExpiresAt.Time}, nil
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
