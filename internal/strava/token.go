package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
	"golang.org/x/oauth2"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

// Endpoint is Strava's OAuth endpoint. Credentials travel in the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://www.strava.com/oauth/authorize",
	TokenURL:  "https://www.strava.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// ErrNotConnected is returned for users that never authorized Strava.
var ErrNotConnected = errors.New("user has no strava authorization")

// Connector opens an authorized API session for a user.
type Connector interface {
	Connect(ctx context.Context, userID string) (API, error)
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithEndpoint overrides the OAuth endpoint.
func WithEndpoint(endpoint oauth2.Endpoint) TokenOption {
	return func(m *TokenManager) {
		m.endpoint = endpoint
	}
}

// WithAPIBaseURL overrides the API root handed to new clients.
func WithAPIBaseURL(baseURL string) TokenOption {
	return func(m *TokenManager) {
		m.baseURL = baseURL
	}
}

// WithHTTPClient sets the transport used for token and API calls.
func WithHTTPClient(client *http.Client) TokenOption {
	return func(m *TokenManager) {
		m.httpClient = client
	}
}

// WithClock replaces the wall clock used for expiry checks.
func WithClock(clk clock.Clock) TokenOption {
	return func(m *TokenManager) {
		m.clock = clk
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *slog.Logger) TokenOption {
	return func(m *TokenManager) {
		m.logger = logger
	}
}

// TokenManager keeps the stored Strava credentials of each user fresh.
type TokenManager struct {
	store        store.Store
	writer       *store.Writer
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	baseURL      string
	httpClient   *http.Client
	clock        clock.Clock
	logger       *slog.Logger
}

// NewTokenManager constructs a TokenManager. clientID and clientSecret are used
// when the stored authorization does not carry its own.
func NewTokenManager(s store.Store, w *store.Writer, clientID, clientSecret string, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		store:        s,
		writer:       w,
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     Endpoint,
		baseURL:      DefaultBaseURL,
		clock:        clock.New(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect loads the user's settings, refreshes the token when it expired and
// returns a client authorized with it.
func (m *TokenManager) Connect(ctx context.Context, userID string) (API, error) {
	var settings domain.UserSettings
	if err := m.store.Get(ctx, domain.CollectionUsers, userID, "", &settings); err != nil {
		return nil, fmt.Errorf("load settings for user %s: %w", userID, err)
	}

	auth, err := m.Ensure(ctx, userID, settings.Strava)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{AccessToken: auth.AccessToken, TokenType: "Bearer"}
	httpClient := oauth2.NewClient(m.context(ctx), oauth2.StaticTokenSource(token))
	return NewClient(httpClient, WithBaseURL(m.baseURL)), nil
}

// Ensure returns valid credentials, refreshing them when expired. A changed
// access token is written back to the user's settings.
func (m *TokenManager) Ensure(ctx context.Context, userID string, auth domain.StravaAuth) (domain.StravaAuth, error) {
	if auth.RefreshToken == "" && auth.AccessToken == "" {
		return auth, ErrNotConnected
	}
	if m.clock.Now().Unix() <= auth.ExpiresAt {
		return auth, nil
	}

	cfg := m.config(auth)
	tok, err := cfg.TokenSource(m.context(ctx), &oauth2.Token{RefreshToken: auth.RefreshToken}).Token()
	if err != nil {
		return auth, fmt.Errorf("refresh strava token for user %s: %w", userID, err)
	}

	next := auth
	next.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.ExpiresAt = expiresAt(tok)
	if next.ClientID == "" {
		next.ClientID = cfg.ClientID
		next.ClientSecret = cfg.ClientSecret
	}

	if next.AccessToken != auth.AccessToken {
		if err := m.save(ctx, userID, next); err != nil {
			return auth, err
		}
		m.logger.Info("refreshed strava token", "user_id", userID, "expires_at", next.ExpiresAt)
	}
	return next, nil
}

// Exchange trades an authorization code for credentials and stores them on
// the user's settings document, which must already exist.
func (m *TokenManager) Exchange(ctx context.Context, userID, code string) (domain.StravaAuth, error) {
	cfg := m.config(domain.StravaAuth{})
	tok, err := cfg.Exchange(m.context(ctx), code)
	if err != nil {
		return domain.StravaAuth{}, fmt.Errorf("exchange strava code: %w", err)
	}

	auth := domain.StravaAuth{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt(tok),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}
	if err := m.save(ctx, userID, auth); err != nil {
		return domain.StravaAuth{}, err
	}
	return auth, nil
}

func (m *TokenManager) save(ctx context.Context, userID string, auth domain.StravaAuth) error {
	err := m.writer.Patch(ctx, domain.CollectionUsers, userID, "", map[string]any{
		"strava_authentication": auth,
	})
	if err != nil {
		return fmt.Errorf("store strava token for user %s: %w", userID, err)
	}
	return nil
}

func (m *TokenManager) config(auth domain.StravaAuth) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint:     m.endpoint,
	}
	if auth.ClientID != "" {
		cfg.ClientID = auth.ClientID
		cfg.ClientSecret = auth.ClientSecret
	}
	return cfg
}

func (m *TokenManager) context(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// expiresAt prefers Strava's absolute expires_at over the computed expiry.
func expiresAt(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_at").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return tok.Expiry.Unix()
}
