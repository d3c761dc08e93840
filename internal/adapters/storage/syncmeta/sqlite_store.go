package syncmeta

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/syncmeta"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new sync meta Store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get returns the meta row for entity. A never-synced entity yields a zero LastSyncAt.
func (s *SQLiteStore) Get(ctx context.Context, entity string) (domain.Meta, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT last_sync_at FROM sync_meta WHERE entity = ?", entity).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Meta{Entity: entity}, nil
	}
	if err != nil {
		return domain.Meta{}, err
	}
	t, err := storage.ParseTime(raw)
	if err != nil {
		return domain.Meta{}, err
	}
	return domain.Meta{Entity: entity, LastSyncAt: t}, nil
}

// List returns all meta rows ordered by entity.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Meta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entity, last_sync_at FROM sync_meta ORDER BY entity")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Meta
	for rows.Next() {
		var m domain.Meta
		var raw sql.NullString
		if err := rows.Scan(&m.Entity, &raw); err != nil {
			return nil, err
		}
		if m.LastSyncAt, err = storage.ParseTime(raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Touch records a refresh of entity outside a mirror transaction.
func (s *SQLiteStore) Touch(ctx context.Context, entity string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_meta (entity, last_sync_at) VALUES (?, ?) ON CONFLICT(entity) DO UPDATE SET last_sync_at=excluded.last_sync_at",
		entity, at.UTC().Format(time.RFC3339Nano))
	return err
}
