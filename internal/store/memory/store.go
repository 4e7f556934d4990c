// Package memory provides an in-process document store for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/JoranSlingerland/running-backend/internal/store"
)

type entry struct {
	userID string
	body   []byte
}

// Store keeps documents as encoded JSON in nested maps.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{collections: make(map[string]map[string]entry)}
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, collection, id, userID string, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.collections[collection][id]
	if !ok || (userID != "" && e.userID != userID) {
		return store.ErrNotFound
	}
	return json.Unmarshal(e.body, out)
}

// Upsert implements store.Store.
func (s *Store) Upsert(_ context.Context, collection string, doc store.Document) error {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection)[doc.ID] = entry{userID: doc.UserID, body: body}
	return nil
}

// Create implements store.Store.
func (s *Store) Create(_ context.Context, collection string, doc store.Document) error {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collection(collection)
	if _, exists := docs[doc.ID]; exists {
		return store.ErrAlreadyExists
	}
	docs[doc.ID] = entry{userID: doc.UserID, body: body}
	return nil
}

// Patch implements store.Store.
func (s *Store) Patch(_ context.Context, collection, id, userID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collection][id]
	if !ok || (userID != "" && e.userID != userID) {
		return store.ErrNotFound
	}
	var body map[string]any
	if err := json.Unmarshal(e.body, &body); err != nil {
		return err
	}
	for k, v := range fields {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	e.body = encoded
	s.collections[collection][id] = e
	return nil
}

// Query implements store.Store.
func (s *Store) Query(_ context.Context, collection string, q store.Query) ([]json.RawMessage, error) {
	want, err := normalize(q.Equals)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	type row struct {
		id   string
		body []byte
		doc  map[string]any
	}
	rows := make([]row, 0)
	for id, e := range s.collections[collection] {
		if q.UserID != "" && e.userID != q.UserID {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(e.body, &doc); err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		if !matches(doc, want) {
			continue
		}
		if q.After != "" && id <= q.After {
			continue
		}
		rows = append(rows, row{id: id, body: e.body, doc: doc})
	}
	s.mu.RUnlock()

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "id"
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := fmt.Sprint(rows[i].doc[orderBy]), fmt.Sprint(rows[j].doc[orderBy])
		if orderBy == "id" {
			a, b = rows[i].id, rows[j].id
		}
		if q.Descending {
			return a > b
		}
		return a < b
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, append(json.RawMessage(nil), r.body...))
	}
	return out, nil
}

// Len returns the number of documents in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *Store) collection(name string) map[string]entry {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string]entry)
		s.collections[name] = docs
	}
	return docs
}

// normalize round-trips the filter through JSON so values compare like stored ones.
func normalize(equals map[string]any) (map[string]any, error) {
	if len(equals) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(equals)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(doc, want map[string]any) bool {
	for k, v := range want {
		if !reflect.DeepEqual(doc[k], v) {
			return false
		}
	}
	return true
}
