package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/attendance"
)

const columns = "id, member_id, service_id, presente, synced_at, pending_sync"

// upsertQuery keys on the (member, service) pair, never on id, so a second
// write for the same pair replaces the first. The latest id wins.
const upsertQuery = `INSERT INTO attendance (` + columns + `) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(member_id, service_id) DO UPDATE SET
		id=excluded.id, presente=excluded.presente,
		synced_at=excluded.synced_at, pending_sync=excluded.pending_sync
	WHERE attendance.id IS NOT excluded.id OR attendance.presente IS NOT excluded.presente
		OR attendance.pending_sync IS NOT excluded.pending_sync`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new attendance Store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMark(row scanner) (domain.Mark, error) {
	var m domain.Mark
	var syncedAt sql.NullString
	var present, pending int
	if err := row.Scan(&m.ID, &m.MemberID, &m.ServiceID, &present, &syncedAt, &pending); err != nil {
		return domain.Mark{}, err
	}
	t, err := storage.ParseTime(syncedAt)
	if err != nil {
		return domain.Mark{}, fmt.Errorf("failed to parse synced_at: %w", err)
	}
	m.SyncedAt = t
	m.Present = present == 1
	m.PendingSync = pending == 1
	return m, nil
}

func args(m domain.Mark) []any {
	return []any{m.ID, m.MemberID, m.ServiceID, storage.BoolInt(m.Present), storage.FormatTime(m.SyncedAt), storage.BoolInt(m.PendingSync)}
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]domain.Mark, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Mark
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetByPair retrieves the mark for a member at a service.
// PRE: memberID and serviceID are non-empty
// POST: Returns the mark or an error wrapping storage.ErrNotFound
func (s *SQLiteStore) GetByPair(ctx context.Context, memberID, serviceID string) (domain.Mark, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM attendance WHERE member_id = ? AND service_id = ?", memberID, serviceID)
	m, err := scanMark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Mark{}, fmt.Errorf("attendance %s: %w", domain.PairKey(memberID, serviceID), storage.ErrNotFound)
	}
	return m, err
}

// List returns every cached mark.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Mark, error) {
	return s.query(ctx, "SELECT "+columns+" FROM attendance ORDER BY service_id, member_id")
}

// ListByService returns all marks recorded for one service.
func (s *SQLiteStore) ListByService(ctx context.Context, serviceID string) ([]domain.Mark, error) {
	return s.query(ctx, "SELECT "+columns+" FROM attendance WHERE service_id = ? ORDER BY member_id", serviceID)
}

// ListByMember returns all marks recorded for one member.
func (s *SQLiteStore) ListByMember(ctx context.Context, memberID string) ([]domain.Mark, error) {
	return s.query(ctx, "SELECT "+columns+" FROM attendance WHERE member_id = ? ORDER BY service_id", memberID)
}

// Save upserts a mark on its (member, service) pair.
// PRE: value has passed Validate
// POST: exactly one row exists for the pair, equal to value
func (s *SQLiteStore) Save(ctx context.Context, value domain.Mark) error {
	if err := value.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertQuery, args(value)...)
	return err
}

// Delete removes a mark by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM attendance WHERE id = ?", id)
	return err
}

// DeleteByPair removes the mark for a member at a service, if any.
func (s *SQLiteStore) DeleteByPair(ctx context.Context, memberID, serviceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM attendance WHERE member_id = ? AND service_id = ?", memberID, serviceID)
	return err
}

// SetPendingSync flips the pending flag of one mark. A missing mark is not an
// error: a replayed delete leaves nothing to flag.
func (s *SQLiteStore) SetPendingSync(ctx context.Context, memberID, serviceID string, pending bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE attendance SET pending_sync = ? WHERE member_id = ? AND service_id = ?",
		storage.BoolInt(pending), memberID, serviceID)
	return err
}

// RemapMember moves marks recorded against a provisional member id to the id
// the remote API assigned. Marks that would collide with an existing pair are
// dropped in favour of the existing one.
// PRE: oldID and newID are non-empty
// POST: no mark references oldID; returns the number of marks moved
func (s *SQLiteStore) RemapMember(ctx context.Context, oldID, newID string) (int, error) {
	return s.remap(ctx, "member_id", oldID, newID)
}

// RemapService moves marks from a provisional service id to the remote id.
func (s *SQLiteStore) RemapService(ctx context.Context, oldID, newID string) (int, error) {
	return s.remap(ctx, "service_id", oldID, newID)
}

// remap rewrites column from oldID to newID. column is a fixed identifier,
// never caller input.
func (s *SQLiteStore) remap(ctx context.Context, column, oldID, newID string) (int, error) {
	if oldID == "" || newID == "" || oldID == newID {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE OR IGNORE attendance SET "+column+" = ? WHERE "+column+" = ?", newID, oldID)
	if err != nil {
		return 0, fmt.Errorf("remap attendance %s: %w", column, err)
	}
	moved, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE "+column+" = ?", oldID); err != nil {
		return 0, fmt.Errorf("drop stale attendance %s: %w", column, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(moved), nil
}

// MirrorService replaces the cached marks of one service with the remote list.
// PRE: remote holds every mark the remote API has for serviceID
// POST: non-pending marks equal the remote marks; pending marks are untouched
func (s *SQLiteStore) MirrorService(ctx context.Context, serviceID string, remote []domain.Mark, at time.Time) (storage.MirrorResult, error) {
	var result storage.MirrorResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	pending := map[string]bool{}
	local := map[string]bool{}
	rows, err := tx.QueryContext(ctx, "SELECT member_id, pending_sync FROM attendance WHERE service_id = ?", serviceID)
	if err != nil {
		return result, err
	}
	for rows.Next() {
		var memberID string
		var p int
		if err := rows.Scan(&memberID, &p); err != nil {
			rows.Close()
			return result, err
		}
		local[memberID] = true
		if p == 1 {
			pending[memberID] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(remote))
	for _, m := range remote {
		if m.ServiceID != serviceID || m.MemberID == "" {
			continue
		}
		seen[m.MemberID] = true
		if pending[m.MemberID] {
			result.Skipped++
			continue
		}
		m.SyncedAt = at
		m.PendingSync = false
		res, err := tx.ExecContext(ctx, upsertQuery, args(m)...)
		if err != nil {
			return result, fmt.Errorf("mirror attendance %s: %w", m.Key(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Written++
		}
	}

	for memberID := range local {
		if seen[memberID] || pending[memberID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE member_id = ? AND service_id = ?", memberID, serviceID); err != nil {
			return result, fmt.Errorf("prune attendance %s: %w", domain.PairKey(memberID, serviceID), err)
		}
		result.Pruned++
	}

	if err := tx.Commit(); err != nil {
		return result, err
	}
	return result, nil
}
