package domain

import "time"

// Job is the queue payload used by the enrichment and calculation queues.
type Job struct {
	ActivityID string `json:"activity_id"`
	UserID     string `json:"user_id"`
}

// JobFor builds the job that references the given activity.
func JobFor(a Activity) Job {
	return Job{ActivityID: a.ID, UserID: a.UserID}
}

// Notification records a message that could not be processed.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   any    `json:"message"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
	Queue     string `json:"queue"`
}

// NotificationTimeLayout is the second-precision UTC layout used for Notification.Timestamp.
const NotificationTimeLayout = "2006-01-02T15:04:05Z"

// FormatNotificationTime renders t in NotificationTimeLayout.
func FormatNotificationTime(t time.Time) string {
	return t.UTC().Format(NotificationTimeLayout)
}
