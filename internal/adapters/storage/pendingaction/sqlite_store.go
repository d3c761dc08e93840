package pendingaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/pendingaction"
)

const columns = "id, kind, entity, entity_key, payload, created_at, retries, last_error"

// SQLiteStore implements the queue Store using SQLite. The AUTOINCREMENT
// key never reuses a sequence number, so id order is creation order.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new queue store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(row scanner) (domain.Action, error) {
	var a domain.Action
	var kind, entity, payload, createdAt string
	if err := row.Scan(&a.ID, &kind, &entity, &a.EntityKey, &payload, &createdAt, &a.Retries, &a.LastError); err != nil {
		return domain.Action{}, err
	}
	a.Kind = domain.Kind(kind)
	a.Entity = domain.Entity(entity)
	a.Payload = json.RawMessage(payload)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return domain.Action{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

// Enqueue appends an action with retries=0.
func (s *SQLiteStore) Enqueue(ctx context.Context, a domain.Action) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO pending_action (kind, entity, entity_key, payload, created_at, retries, last_error) VALUES (?, ?, ?, ?, ?, 0, '')",
		string(a.Kind), string(a.Entity), a.EntityKey, string(a.Payload), a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("enqueue %s %s: %w", a.Kind, a.Entity, err)
	}
	return res.LastInsertId()
}

// ListAll returns every queued action in creation order.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]domain.Action, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+columns+" FROM pending_action ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetByID retrieves one queued action.
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (domain.Action, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM pending_action WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Action{}, fmt.Errorf("pending action %d: %w", id, storage.ErrNotFound)
	}
	return a, err
}

// Remove deletes an action.
func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_action WHERE id = ?", id)
	return err
}

// BumpRetry increments the retry counter and records the failure text.
func (s *SQLiteStore) BumpRetry(ctx context.Context, id int64, lastError string) (int, error) {
	var retries int
	err := s.db.QueryRowContext(ctx,
		"UPDATE pending_action SET retries = retries + 1, last_error = ? WHERE id = ? RETURNING retries",
		lastError, id).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("pending action %d: %w", id, storage.ErrNotFound)
	}
	return retries, err
}

// UpdatePayload rewrites the body and key of a queued action in place.
func (s *SQLiteStore) UpdatePayload(ctx context.Context, id int64, payload json.RawMessage, entityKey string) error {
	if len(payload) == 0 {
		return domain.ErrEmptyPayload
	}
	if entityKey == "" {
		return domain.ErrEmptyKey
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_action SET payload = ?, entity_key = ? WHERE id = ?",
		string(payload), entityKey, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending action %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// Count returns the number of queued actions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_action").Scan(&n)
	return n, err
}

// CountByKey returns the number of queued actions for one record.
func (s *SQLiteStore) CountByKey(ctx context.Context, entityKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_action WHERE entity_key = ?", entityKey).Scan(&n)
	return n, err
}

// Purge removes every queued action.
func (s *SQLiteStore) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pending_action")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
