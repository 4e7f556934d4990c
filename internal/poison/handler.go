// Package poison turns messages that exhausted their delivery budget into
// failure notifications.
package poison

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JoranSlingerland/running-backend/internal/domain"
	"github.com/JoranSlingerland/running-backend/internal/queue"
	"github.com/JoranSlingerland/running-backend/internal/store"
)

// UnknownUser is recorded when the payload names no user.
const UnknownUser = "unknown"

const (
	notificationType   = "enrichment"
	notificationStatus = "failed"
)

var notificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "running_backend",
	Subsystem: "poison",
	Name:      "notifications_total",
	Help:      "Notifications recorded for poisoned messages by originating queue and outcome.",
}, []string{"queue", "outcome"})

func init() {
	prometheus.MustRegister(notificationsCounter)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock replaces the clock used for notification timestamps.
func WithClock(clk clock.Clock) Option {
	return func(h *Handler) {
		h.clock = clk
	}
}

// Handler records one Notification per poisoned message.
type Handler struct {
	writer *store.Writer
	clock  clock.Clock
	logger *slog.Logger
	newID  func() string
}

// NewHandler constructs a Handler writing through w.
func NewHandler(w *store.Writer, opts ...Option) *Handler {
	h := &Handler{
		writer: w,
		clock:  clock.New(),
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements queue.Handler for the poison queues. It never fails, so
// the consumer always acknowledges the message.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	h.Record(ctx, queue.OriginQueue(msg.Topic), msg.Body)
	return nil
}

// Record builds the notification for body drained from originQueue and stores
// it. Store failures are logged and swallowed.
func (h *Handler) Record(ctx context.Context, originQueue string, body []byte) domain.Notification {
	notification := h.Build(originQueue, body)

	err := h.writer.Upsert(ctx, domain.CollectionNotifications, store.Document{
		ID:     notification.ID,
		UserID: notification.UserID,
		Body:   notification,
	})
	if err != nil {
		notificationsCounter.WithLabelValues(originQueue, "error").Inc()
		h.logger.Error("failed to store notification", "queue", originQueue, "user_id", notification.UserID, "error", err)
		return notification
	}

	notificationsCounter.WithLabelValues(originQueue, "stored").Inc()
	h.logger.Warn("recorded failed message", "queue", originQueue, "user_id", notification.UserID, "notification_id", notification.ID)
	return notification
}

// Build converts a raw payload into a Notification without storing it.
func (h *Handler) Build(originQueue string, body []byte) domain.Notification {
	message, userID := parse(body)
	return domain.Notification{
		ID:        h.newID(),
		Type:      notificationType,
		Status:    notificationStatus,
		Message:   message,
		UserID:    userID,
		Timestamp: domain.FormatNotificationTime(h.clock.Now()),
		Queue:     originQueue,
	}
}

// parse decodes body as JSON, substituting a placeholder for undecodable
// payloads, and extracts the user id.
func parse(body []byte) (any, string) {
	var message any
	if err := json.Unmarshal(body, &message); err != nil {
		return map[string]any{"message": "Error parsing message", "user_id": UnknownUser}, UnknownUser
	}

	fields, ok := message.(map[string]any)
	if !ok {
		return message, UnknownUser
	}
	for _, key := range []string{"user_id", "userId"} {
		if id, ok := fields[key].(string); ok && id != "" {
			return message, id
		}
	}
	return message, UnknownUser
}
