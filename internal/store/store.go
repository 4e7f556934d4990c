// Package store defines the document store used by the pipeline and the
// write helpers shared by its stages.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist for the given id and user.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the id is already taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrUnavailable marks transient backend failures that are worth retrying.
	ErrUnavailable = errors.New("store unavailable")
)

// Document is a whole-document write.
type Document struct {
	ID     string
	UserID string
	Body   any
}

// Query selects documents from a collection. Equals compares top-level fields
// of the stored JSON body. After is an id cursor used together with OrderBy "id".
type Query struct {
	UserID     string
	Equals     map[string]any
	OrderBy    string
	Descending bool
	Limit      int
	After      string
}

// Store is implemented by the postgres, firestore and memory backends.
type Store interface {
	// Get decodes the document into out or returns ErrNotFound.
	Get(ctx context.Context, collection, id, userID string, out any) error
	// Upsert replaces the whole document.
	Upsert(ctx context.Context, collection string, doc Document) error
	// Create inserts the document or returns ErrAlreadyExists.
	Create(ctx context.Context, collection string, doc Document) error
	// Patch replaces the given top-level fields of an existing document.
	Patch(ctx context.Context, collection, id, userID string, fields map[string]any) error
	Query(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
