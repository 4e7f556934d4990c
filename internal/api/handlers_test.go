package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/JoranSlingerland/running-backend/internal/auth"
	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/pipeline"
	"github.com/JoranSlingerland/running-backend/internal/requeue"
	"github.com/JoranSlingerland/running-backend/internal/store"
	"github.com/JoranSlingerland/running-backend/internal/store/memory"
)

var authConfig = auth.Config{Secret: "test-secret", Issuer: "running-backend"}

type stubRunner struct {
	started   []string
	startErr  error
	asked     *workflow.Instance
	result    pipeline.Result
	err       error
	cancelled []string
	cancelErr error
}

func (s *stubRunner) Start(_ context.Context, userID string) (*workflow.Instance, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.started = append(s.started, userID)
	return &workflow.Instance{InstanceID: "sync-" + userID + "-100", ExecutionID: "exec-1"}, nil
}

func (s *stubRunner) Result(_ context.Context, instance *workflow.Instance, _ time.Duration) (pipeline.Result, error) {
	s.asked = instance
	return s.result, s.err
}

func (s *stubRunner) Cancel(_ context.Context, instance *workflow.Instance) error {
	s.cancelled = append(s.cancelled, instance.InstanceID)
	return s.cancelErr
}

type requeueCall struct {
	userID, queue, activityID string
}

type stubRequeuer struct {
	calls  []requeueCall
	queued int
	err    error
}

func (s *stubRequeuer) Requeue(_ context.Context, userID, queue, activityID string) (int, error) {
	s.calls = append(s.calls, requeueCall{userID, queue, activityID})
	return s.queued, s.err
}

type stubLinker struct {
	codes []string
	err   error
}

func (s *stubLinker) Exchange(_ context.Context, userID, code string) (domain.StravaAuth, error) {
	s.codes = append(s.codes, userID+":"+code)
	return domain.StravaAuth{AccessToken: "token"}, s.err
}

type fixture struct {
	runner   *stubRunner
	requeuer *stubRequeuer
	linker   *stubLinker
	users    *memory.Store
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runner:   &stubRunner{},
		requeuer: &stubRequeuer{},
		linker:   &stubLinker{},
		users:    memory.New(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(f.runner, f.requeuer, f.linker, f.users, time.Second, logger)
	f.router = h.Routes(auth.NewMiddleware(authConfig, nil))
	return f
}

func (f *fixture) do(t *testing.T, method, target, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if userID != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": userID,
			"iss": authConfig.Issuer,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(authConfig.Secret))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealthzIsPublic(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, f.runner.started)
}

func TestStartSync(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/api/v1/sync", "u1")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []string{"u1"}, f.runner.started)

	var body SyncStartedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "sync-u1-100", body.InstanceID)
	require.Equal(t, "exec-1", body.ExecutionID)
	require.Equal(t, "/api/v1/sync/sync-u1-100/exec-1", body.StatusPath)
}

func TestStartSyncFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.startErr = errors.New("backend down")
	rr := f.do(t, http.MethodPost, "/api/v1/sync", "u1")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "server_error", decode(t, rr)["type"])
}

func TestStartSyncConflict(t *testing.T) {
	f := newFixture(t)
	f.runner.startErr = fmt.Errorf("start sync for user u1: %w", backend.ErrInstanceAlreadyExists)
	rr := f.do(t, http.MethodPost, "/api/v1/sync", "u1")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "conflict", decode(t, rr)["type"])
}

func TestSyncStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		state  string
	}{
		{name: "completed", status: http.StatusOK, state: "completed"},
		{name: "running", err: pipeline.ErrNotFinished, status: http.StatusAccepted, state: "running"},
		{name: "failed", err: errors.New("persist chunk 0: boom"), status: http.StatusOK, state: "failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.result = pipeline.Result{UserID: "u1", Fetched: 3, Persisted: 3, Enqueued: 3, Chunks: 1}
			f.runner.err = tc.err

			rr := f.do(t, http.MethodGet, "/api/v1/sync/sync-u1-100/exec-1", "u1")
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.state, decode(t, rr)["status"])
			require.Equal(t, &workflow.Instance{InstanceID: "sync-u1-100", ExecutionID: "exec-1"}, f.runner.asked)
		})
	}
}

func TestSyncStatusNotFound(t *testing.T) {
	f := newFixture(t)
	f.runner.err = backend.ErrInstanceNotFound
	rr := f.do(t, http.MethodGet, "/api/v1/sync/sync-u1-100/exec-1", "u1")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSyncStatusOfOtherUserIsHidden(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/api/v1/sync/sync-u1-100/exec-1", "u2")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Nil(t, f.runner.asked)

	// u1 must not match u10.
	rr = f.do(t, http.MethodGet, "/api/v1/sync/sync-u10-100/exec-1", "u1")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSyncRunOfDashedUserIsHidden(t *testing.T) {
	f := newFixture(t)
	target := "/api/v1/sync/sync-alice-bob-1700000000/exec-1"

	rr := f.do(t, http.MethodGet, target, "alice")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Nil(t, f.runner.asked)

	rr = f.do(t, http.MethodDelete, target, "alice")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Empty(t, f.runner.cancelled)

	rr = f.do(t, http.MethodDelete, target, "alice-bob")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []string{"sync-alice-bob-1700000000"}, f.runner.cancelled)
}

func TestCancelSync(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodDelete, "/api/v1/sync/sync-u1-100/exec-1", "u1")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "cancelling", decode(t, rr)["status"])
	require.Equal(t, []string{"sync-u1-100"}, f.runner.cancelled)

	rr = f.do(t, http.MethodDelete, "/api/v1/sync/sync-u1-100/exec-1", "u2")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Len(t, f.runner.cancelled, 1)

	f.runner.cancelErr = backend.ErrInstanceNotFound
	rr = f.do(t, http.MethodDelete, "/api/v1/sync/sync-u1-200/exec-2", "u1")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequeue(t *testing.T) {
	f := newFixture(t)
	f.requeuer.queued = 4
	rr := f.do(t, http.MethodPost, "/api/v1/queue/enrichment-queue?activityId=a1", "u1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, float64(4), decode(t, rr)["queued"])
	require.Equal(t, []requeueCall{{"u1", "enrichment-queue", "a1"}}, f.requeuer.calls)
}

func TestRequeueInvalidQueue(t *testing.T) {
	f := newFixture(t)
	f.requeuer.err = requeue.ErrQueueNotAllowed
	rr := f.do(t, http.MethodPost, "/api/v1/queue/other", "u1")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Invalid queue name", decode(t, rr)["result"])
}

func TestStravaCallback(t *testing.T) {
	const fullScope = "read,activity:read_all,profile:read_all"
	cases := []struct {
		name    string
		query   string
		seed    bool
		linkErr error
		status  int
		result  string
	}{
		{name: "success", query: "?code=abc&scope=" + fullScope, seed: true, status: http.StatusOK, result: "Success"},
		{name: "scope order ignored", query: "?code=abc&scope=profile:read_all,read,activity:read_all", seed: true, status: http.StatusOK, result: "Success"},
		{name: "missing code", query: "?scope=" + fullScope, seed: true, status: http.StatusBadRequest, result: "Missing code or scope"},
		{name: "missing scope", query: "?code=abc", seed: true, status: http.StatusBadRequest, result: "Missing code or scope"},
		{name: "partial scope", query: "?code=abc&scope=read,activity:read_all", seed: true, status: http.StatusBadRequest, result: "Invalid scope"},
		{name: "extra scope", query: "?code=abc&scope=" + fullScope + ",activity:write", seed: true, status: http.StatusBadRequest, result: "Invalid scope"},
		{name: "unknown user", query: "?code=abc&scope=" + fullScope, status: http.StatusBadRequest, result: "User not found"},
		{name: "exchange fails", query: "?code=abc&scope=" + fullScope, seed: true, linkErr: errors.New("bad code"), status: http.StatusBadGateway, result: "Strava authorization failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.linker.err = tc.linkErr
			if tc.seed {
				require.NoError(t, f.users.Upsert(context.Background(), domain.CollectionUsers, store.Document{
					ID: "u1", UserID: "u1", Body: domain.UserSettings{ID: "u1"},
				}))
			}

			rr := f.do(t, http.MethodGet, "/api/v1/callback/strava"+tc.query, "u1")
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.result, decode(t, rr)["result"])
			if tc.status == http.StatusOK {
				require.Equal(t, []string{"u1:abc"}, f.linker.codes)
			}
		})
	}
}
