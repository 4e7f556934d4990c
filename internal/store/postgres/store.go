// Package postgres stores pipeline documents as JSONB rows in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoranSlingerland/running-backend/internal/store"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store provides Postgres-backed persistence for every collection.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := migrations.ReadFile(file)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply %s: %w", file, classify(err))
		}
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, collection, id, userID string, out any) error {
	const query = `SELECT body FROM documents
        WHERE collection=$1 AND id=$2 AND ($3 = '' OR user_id=$3)`

	var body []byte
	if err := s.pool.QueryRow(ctx, query, collection, id, userID).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return classify(err)
	}
	return json.Unmarshal(body, out)
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, collection string, doc store.Document) error {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO documents (collection, id, user_id, body)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (collection, id) DO UPDATE
            SET user_id = EXCLUDED.user_id, body = EXCLUDED.body, updated_at = NOW()`

	_, err = s.pool.Exec(ctx, stmt, collection, doc.ID, doc.UserID, body)
	return classify(err)
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, collection string, doc store.Document) error {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO documents (collection, id, user_id, body) VALUES ($1,$2,$3,$4)`

	_, err = s.pool.Exec(ctx, stmt, collection, doc.ID, doc.UserID, body)
	return classify(err)
}

// Patch implements store.Store.
func (s *Store) Patch(ctx context.Context, collection, id, userID string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	const stmt = `UPDATE documents SET body = body || $4::jsonb, updated_at = NOW()
        WHERE collection=$1 AND id=$2 AND ($3 = '' OR user_id=$3)`

	tag, err := s.pool.Exec(ctx, stmt, collection, id, userID, patch)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]json.RawMessage, error) {
	query, args, err := buildQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	results := make([]json.RawMessage, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		results = append(results, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return results, nil
}

func buildQuery(collection string, q store.Query) (string, []any, error) {
	args := []any{collection}
	var sb strings.Builder
	sb.WriteString(`SELECT body FROM documents WHERE collection=$1`)

	if q.UserID != "" {
		args = append(args, q.UserID)
		fmt.Fprintf(&sb, ` AND user_id=$%d`, len(args))
	}
	if len(q.Equals) > 0 {
		filter, err := json.Marshal(q.Equals)
		if err != nil {
			return "", nil, err
		}
		args = append(args, filter)
		fmt.Fprintf(&sb, ` AND body @> $%d::jsonb`, len(args))
	}
	if q.After != "" {
		args = append(args, q.After)
		fmt.Fprintf(&sb, ` AND id > $%d`, len(args))
	}

	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	switch q.OrderBy {
	case "", "id":
		fmt.Fprintf(&sb, ` ORDER BY id %s`, direction)
	default:
		if !fieldName.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("invalid order field %q", q.OrderBy)
		}
		fmt.Fprintf(&sb, ` ORDER BY body->>'%s' %s, id %s`, q.OrderBy, direction, direction)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	return sb.String(), args, nil
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001",
			pgErr.Code == "40P01",
			pgErr.Code == "53300",
			pgErr.Code == "57P01":
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
