// Package firestore stores pipeline documents in Cloud Firestore, one Firestore
// collection per pipeline collection.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoranSlingerland/running-backend/internal/store"
)

const userField = "userId"

// Store implements store.Store on a Firestore client.
type Store struct {
	client *firestore.Client
}

// New wraps an existing client. The caller owns Close.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, collection, id, userID string, out any) error {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return classify(err)
	}
	data := snap.Data()
	if userID != "" {
		if owner, _ := data[userField].(string); owner != userID {
			return store.ErrNotFound
		}
	}
	return decode(data, out)
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, collection string, doc store.Document) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(collection).Doc(doc.ID).Set(ctx, data)
	return classify(err)
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, collection string, doc store.Document) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(collection).Doc(doc.ID).Create(ctx, data)
	return classify(err)
}

// Patch implements store.Store.
func (s *Store) Patch(ctx context.Context, collection, id, userID string, fields map[string]any) error {
	ref := s.client.Collection(collection).Doc(id)
	snap, err := ref.Get(ctx)
	if err != nil {
		return classify(err)
	}
	if userID != "" {
		if owner, _ := snap.Data()[userField].(string); owner != userID {
			return store.ErrNotFound
		}
	}

	patch, err := toMap(fields)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, patch, firestore.MergeAll)
	return classify(err)
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]json.RawMessage, error) {
	query := s.client.Collection(collection).Query
	if q.UserID != "" {
		query = query.Where(userField, "==", q.UserID)
	}
	if len(q.Equals) > 0 {
		equals, err := toMap(q.Equals)
		if err != nil {
			return nil, err
		}
		for field, value := range equals {
			query = query.Where(field, "==", value)
		}
	}

	direction := firestore.Asc
	if q.Descending {
		direction = firestore.Desc
	}
	switch q.OrderBy {
	case "", "id":
		query = query.OrderBy(firestore.DocumentID, direction)
		if q.After != "" {
			query = query.StartAfter(q.After)
		}
	default:
		if q.After != "" {
			return nil, fmt.Errorf("cursor requires ordering by id, got %q", q.OrderBy)
		}
		query = query.OrderBy(q.OrderBy, direction)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	results := make([]json.RawMessage, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		raw, err := json.Marshal(snap.Data())
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", collection, snap.Ref.ID, err)
		}
		results = append(results, raw)
	}
	return results, nil
}

// encode converts the JSON form of the body into the map Firestore stores, so
// field names follow the json tags of the domain types.
func encode(doc store.Document) (map[string]any, error) {
	data, err := toMap(doc.Body)
	if err != nil {
		return nil, err
	}
	if doc.UserID != "" {
		data[userField] = doc.UserID
	}
	return data, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("document body must be an object: %w", err)
	}
	return out, nil
}

func decode(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", store.ErrAlreadyExists, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
