package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/service"
	"github.com/revolutedigital/igreja-betania/internal/domain/syncmeta"
)

const columns = "id, data, horario, synced_at, pending_sync"

const upsertQuery = `INSERT INTO service (` + columns + `) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data=excluded.data, horario=excluded.horario,
		synced_at=excluded.synced_at, pending_sync=excluded.pending_sync
	WHERE service.data IS NOT excluded.data OR service.horario IS NOT excluded.horario
		OR service.pending_sync IS NOT excluded.pending_sync`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new service Store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanService(row scanner) (domain.Service, error) {
	var s domain.Service
	var syncedAt sql.NullString
	var pending int
	if err := row.Scan(&s.ID, &s.Date, &s.Slot, &syncedAt, &pending); err != nil {
		return domain.Service{}, err
	}
	t, err := storage.ParseTime(syncedAt)
	if err != nil {
		return domain.Service{}, err
	}
	s.SyncedAt = t
	s.PendingSync = pending == 1
	return s, nil
}

func args(s domain.Service) []any {
	return []any{s.ID, s.Date, s.Slot, storage.FormatTime(s.SyncedAt), storage.BoolInt(s.PendingSync)}
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]domain.Service, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// GetByID retrieves a Service by its ID.
// PRE: id is non-empty
// POST: Returns the service or an error wrapping storage.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Service, error) {
	svc, err := scanService(s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM service WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Service{}, fmt.Errorf("service %s: %w", id, storage.ErrNotFound)
	}
	return svc, err
}

// List returns every cached service, most recent first.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Service, error) {
	return s.query(ctx, "SELECT "+columns+" FROM service ORDER BY data DESC, horario DESC")
}

// ListByDate returns the services held on date (YYYY-MM-DD).
// Remote rows carry full timestamps, so the match is on the date prefix.
func (s *SQLiteStore) ListByDate(ctx context.Context, date string) ([]domain.Service, error) {
	return s.query(ctx, "SELECT "+columns+" FROM service WHERE substr(data, 1, 10) = ? ORDER BY horario", date)
}

// FindOccurrence returns the cached service for date and slot.
// PRE: date is YYYY-MM-DD
// POST: Returns the service or an error wrapping storage.ErrNotFound
func (s *SQLiteStore) FindOccurrence(ctx context.Context, date, slot string) (domain.Service, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+columns+" FROM service WHERE substr(data, 1, 10) = ? AND horario = ? ORDER BY pending_sync, id LIMIT 1",
		date, slot)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Service{}, fmt.Errorf("service %s %s: %w", date, slot, storage.ErrNotFound)
	}
	return svc, err
}

// Save upserts a service by id.
func (s *SQLiteStore) Save(ctx context.Context, value domain.Service) error {
	if value.ID == "" {
		return errors.New("service id is required")
	}
	_, err := s.db.ExecContext(ctx, upsertQuery, args(value)...)
	return err
}

// Delete removes a service. Deleting a missing service is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM service WHERE id = ?", id)
	return err
}

// SetPendingSync flips the pending flag of one service.
func (s *SQLiteStore) SetPendingSync(ctx context.Context, id string, pending bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE service SET pending_sync = ? WHERE id = ?", storage.BoolInt(pending), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// Mirror replaces the cached service collection with the remote list in one transaction.
// PRE: remote is the complete remote service list
// POST: same contract as the member mirror; sync_meta records at
func (s *SQLiteStore) Mirror(ctx context.Context, remote []domain.Service, at time.Time) (storage.MirrorResult, error) {
	var result storage.MirrorResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	pending := map[string]bool{}
	local := map[string]bool{}
	rows, err := tx.QueryContext(ctx, "SELECT id, pending_sync FROM service")
	if err != nil {
		return result, err
	}
	for rows.Next() {
		var id string
		var p int
		if err := rows.Scan(&id, &p); err != nil {
			rows.Close()
			return result, err
		}
		local[id] = true
		if p == 1 {
			pending[id] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(remote))
	for _, svc := range remote {
		if svc.ID == "" {
			continue
		}
		seen[svc.ID] = true
		if pending[svc.ID] {
			result.Skipped++
			continue
		}
		svc.SyncedAt = at
		svc.PendingSync = false
		res, err := tx.ExecContext(ctx, upsertQuery, args(svc)...)
		if err != nil {
			return result, fmt.Errorf("mirror service %s: %w", svc.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Written++
		}
	}

	for id := range local {
		if seen[id] || pending[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM service WHERE id = ?", id); err != nil {
			return result, fmt.Errorf("prune service %s: %w", id, err)
		}
		result.Pruned++
	}

	if err := storage.TouchSyncMeta(ctx, tx, syncmeta.EntityServices, at); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}
	return result, nil
}
