// Package api exposes the HTTP surface of the sync pipeline: starting and
// inspecting sync runs, re-queueing activities and linking Strava accounts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JoranSlingerland/running-backend/internal/auth"
	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/pipeline"
	"github.com/JoranSlingerland/running-backend/internal/requeue"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

// RequiredStravaScopes must all be granted, and nothing else, for a Strava
// account to be linked.
var RequiredStravaScopes = []string{"activity:read_all", "profile:read_all", "read"}

// SyncRunner starts sync runs and reads their results.
type SyncRunner interface {
	Start(ctx context.Context, userID string) (*workflow.Instance, error)
	Result(ctx context.Context, instance *workflow.Instance, timeout time.Duration) (pipeline.Result, error)
	Cancel(ctx context.Context, instance *workflow.Instance) error
}

// Requeuer republishes a user's activities to a queue.
type Requeuer interface {
	Requeue(ctx context.Context, userID, queue, activityID string) (int, error)
}

// Linker trades a Strava authorization code for stored credentials.
type Linker interface {
	Exchange(ctx context.Context, userID, code string) (domain.StravaAuth, error)
}

// Handler coordinates HTTP requests with the pipeline components.
type Handler struct {
	runner        SyncRunner
	requeuer      Requeuer
	linker        Linker
	users         store.Store
	resultTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(runner SyncRunner, requeuer Requeuer, linker Linker, users store.Store, resultTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		runner:        runner,
		requeuer:      requeuer,
		linker:        linker,
		users:         users,
		resultTimeout: resultTimeout,
		logger:        logger,
	}
}

// Routes returns the router. Everything below /api/v1 requires a bearer token.
func (h *Handler) Routes(authn auth.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authn.Wrap)
		r.Post("/sync", h.startSync)
		r.Get("/sync/{instanceID}/{executionID}", h.syncStatus)
		r.Delete("/sync/{instanceID}/{executionID}", h.cancelSync)
		r.Post("/queue/{queue}", h.requeueActivities)
		r.Get("/callback/strava", h.stravaCallback)
	})
	return r
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) startSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	instance, err := h.runner.Start(r.Context(), userID)
	if errors.Is(err, backend.ErrInstanceAlreadyExists) {
		writeError(w, http.StatusConflict, "conflict", "a sync run was just started, retry shortly")
		return
	}
	if err != nil {
		h.logger.Error("start sync failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not start sync")
		return
	}

	writeJSON(w, http.StatusAccepted, SyncStartedResponse{
		InstanceID:  instance.InstanceID,
		ExecutionID: instance.ExecutionID,
		StatusPath:  "/api/v1/sync/" + instance.InstanceID + "/" + instance.ExecutionID,
	})
}

// ownedInstance reads the run from the path. Runs of other users are reported
// as missing.
func ownedInstance(w http.ResponseWriter, r *http.Request) (*workflow.Instance, bool) {
	userID, ok := callerID(w, r)
	if !ok {
		return nil, false
	}
	instanceID := chi.URLParam(r, "instanceID")
	if owner, ok := pipeline.OwnerOf(instanceID); !ok || owner != userID {
		writeError(w, http.StatusNotFound, "not_found", "sync run not found")
		return nil, false
	}
	return &workflow.Instance{InstanceID: instanceID, ExecutionID: chi.URLParam(r, "executionID")}, true
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	instance, ok := ownedInstance(w, r)
	if !ok {
		return
	}

	result, err := h.runner.Result(r.Context(), instance, h.resultTimeout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, SyncStatusResponse{Status: "completed", Result: &result})
	case errors.Is(err, backend.ErrInstanceNotFound):
		writeError(w, http.StatusNotFound, "not_found", "sync run not found")
	case errors.Is(err, pipeline.ErrNotFinished):
		writeJSON(w, http.StatusAccepted, SyncStatusResponse{Status: "running"})
	default:
		writeJSON(w, http.StatusOK, SyncStatusResponse{Status: "failed", Error: err.Error()})
	}
}

func (h *Handler) cancelSync(w http.ResponseWriter, r *http.Request) {
	instance, ok := ownedInstance(w, r)
	if !ok {
		return
	}

	if err := h.runner.Cancel(r.Context(), instance); err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "sync run not found")
			return
		}
		h.logger.Error("cancel sync failed", "instance_id", instance.InstanceID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not cancel sync")
		return
	}
	writeJSON(w, http.StatusAccepted, SyncStatusResponse{Status: "cancelling"})
}

func (h *Handler) requeueActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	queued, err := h.requeuer.Requeue(r.Context(), userID, chi.URLParam(r, "queue"), r.URL.Query().Get("activityId"))
	if err != nil {
		if errors.Is(err, requeue.ErrQueueNotAllowed) {
			writeResult(w, http.StatusBadRequest, "Invalid queue name")
			return
		}
		h.logger.Error("requeue failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not queue activities")
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Queued: queued})
}

func (h *Handler) stravaCallback(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	code := r.URL.Query().Get("code")
	scope := r.URL.Query().Get("scope")
	if code == "" || scope == "" {
		writeResult(w, http.StatusBadRequest, "Missing code or scope")
		return
	}
	if !validScope(scope) {
		writeResult(w, http.StatusBadRequest, "Invalid scope")
		return
	}

	var settings domain.UserSettings
	if err := h.users.Get(r.Context(), domain.CollectionUsers, userID, "", &settings); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeResult(w, http.StatusBadRequest, "User not found")
			return
		}
		h.logger.Error("load user failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not load user")
		return
	}

	if _, err := h.linker.Exchange(r.Context(), userID, code); err != nil {
		h.logger.Error("strava code exchange failed", "user_id", userID, "error", err)
		writeResult(w, http.StatusBadGateway, "Strava authorization failed")
		return
	}
	writeResult(w, http.StatusOK, "Success")
}

func validScope(scope string) bool {
	granted := strings.Split(scope, ",")
	slices.Sort(granted)
	return slices.Equal(granted, RequiredStravaScopes)
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || claims.UserID() == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	return claims.UserID(), true
}

// SyncStartedResponse is returned by POST /api/v1/sync.
type SyncStartedResponse struct {
	InstanceID  string `json:"instance_id"`
	ExecutionID string `json:"execution_id"`
	StatusPath  string `json:"status_path"`
}

// SyncStatusResponse describes a sync run.
type SyncStatusResponse struct {
	Status string           `json:"status"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// QueueResponse reports how many jobs a re-queue published.
type QueueResponse struct {
	Queued int `json:"queued"`
}

func writeResult(w http.ResponseWriter, status int, result string) {
	writeJSON(w, status, map[string]string{"result": result})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
