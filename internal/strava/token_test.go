package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/store"
	"github.com/JoranSlingerland/running-backend/internal/store/memory"
)

func newTokenServer(t *testing.T, refreshes *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			atomic.AddInt32(refreshes, 1)
			require.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
			require.Equal(t, "client-1", r.Form.Get("client_id"))
			fmt.Fprint(w, `{"token_type":"Bearer","access_token":"new-access","refresh_token":"new-refresh","expires_at":1893456000,"expires_in":21600}`)
		case "authorization_code":
			require.Equal(t, "the-code", r.Form.Get("code"))
			fmt.Fprint(w, `{"token_type":"Bearer","access_token":"first-access","refresh_token":"first-refresh","expires_at":1893456000,"expires_in":21600}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func seedUser(t *testing.T, s *memory.Store, auth domain.StravaAuth) {
	t.Helper()
	settings := domain.UserSettings{ID: "user-1", Gender: domain.GenderMale, DarkMode: "dark", Strava: auth}
	require.NoError(t, s.Upsert(context.Background(), domain.CollectionUsers, store.Document{ID: "user-1", UserID: "user-1", Body: settings}))
}

func newManager(s *memory.Store, tokenURL string, clk clock.Clock) *TokenManager {
	writer := store.NewWriter(s, store.WithRetryPolicy(1, time.Millisecond, time.Millisecond))
	return NewTokenManager(s, writer, "default-client", "default-secret",
		WithEndpoint(oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}),
		WithClock(clk),
	)
}

func TestEnsureRefreshesExpiredTokenAndPersists(t *testing.T) {
	var refreshes int32
	srv := newTokenServer(t, &refreshes)
	defer srv.Close()

	s := memory.New()
	auth := domain.StravaAuth{AccessToken: "old-access", RefreshToken: "old-refresh", ExpiresAt: 1700000000, ClientID: "client-1", ClientSecret: "secret-1"}
	seedUser(t, s, auth)

	clk := clock.NewMock()
	clk.Set(time.Unix(1700000001, 0))
	m := newManager(s, srv.URL, clk)

	got, err := m.Ensure(context.Background(), "user-1", auth)
	require.NoError(t, err)
	require.Equal(t, "new-access", got.AccessToken)
	require.Equal(t, "new-refresh", got.RefreshToken)
	require.Equal(t, int64(1893456000), got.ExpiresAt)
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	var stored domain.UserSettings
	require.NoError(t, s.Get(context.Background(), domain.CollectionUsers, "user-1", "", &stored))
	require.Equal(t, got, stored.Strava)
	require.Equal(t, "dark", stored.DarkMode)
}

func TestEnsureKeepsValidToken(t *testing.T) {
	var refreshes int32
	srv := newTokenServer(t, &refreshes)
	defer srv.Close()

	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))
	m := newManager(memory.New(), srv.URL, clk)

	auth := domain.StravaAuth{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1700000000}
	got, err := m.Ensure(context.Background(), "user-1", auth)
	require.NoError(t, err)
	require.Equal(t, auth, got)
	require.Zero(t, atomic.LoadInt32(&refreshes))
}

func TestEnsureRequiresAuthorization(t *testing.T) {
	m := newManager(memory.New(), "http://127.0.0.1:0", clock.NewMock())
	_, err := m.Ensure(context.Background(), "user-1", domain.StravaAuth{})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestExchangeStoresCredentials(t *testing.T) {
	var refreshes int32
	srv := newTokenServer(t, &refreshes)
	defer srv.Close()

	s := memory.New()
	seedUser(t, s, domain.StravaAuth{})
	m := newManager(s, srv.URL, clock.NewMock())

	auth, err := m.Exchange(context.Background(), "user-1", "the-code")
	require.NoError(t, err)
	require.Equal(t, "first-access", auth.AccessToken)
	require.Equal(t, "default-client", auth.ClientID)

	var stored domain.UserSettings
	require.NoError(t, s.Get(context.Background(), domain.CollectionUsers, "user-1", "", &stored))
	require.Equal(t, auth, stored.Strava)
}

func TestExchangeUnknownUser(t *testing.T) {
	var refreshes int32
	srv := newTokenServer(t, &refreshes)
	defer srv.Close()

	m := newManager(memory.New(), srv.URL, clock.NewMock())
	_, err := m.Exchange(context.Background(), "ghost", "the-code")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConnectUsesBearerToken(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer live-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[]`)
	}))
	defer api.Close()

	s := memory.New()
	seedUser(t, s, domain.StravaAuth{AccessToken: "live-token", RefreshToken: "r", ExpiresAt: 1900000000})
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))
	writer := store.NewWriter(s)
	m := NewTokenManager(s, writer, "c", "s", WithClock(clk), WithAPIBaseURL(api.URL))

	client, err := m.Connect(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = client.ListActivities(context.Background(), nil)
	require.NoError(t, err)
}
