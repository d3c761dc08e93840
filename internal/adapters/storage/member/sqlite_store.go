package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/syncmeta"
)

const columns = "id, nome, foto, whatsapp, data_aniversario, grupo_pequeno, nome_pai, nome_mae, endereco, synced_at, pending_sync"

// upsertQuery overwrites by id. The WHERE clause leaves unchanged rows
// untouched so repeated mirrors of the same data are no-ops.
const upsertQuery = `INSERT INTO member (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		nome=excluded.nome, foto=excluded.foto, whatsapp=excluded.whatsapp,
		data_aniversario=excluded.data_aniversario, grupo_pequeno=excluded.grupo_pequeno,
		nome_pai=excluded.nome_pai, nome_mae=excluded.nome_mae, endereco=excluded.endereco,
		synced_at=excluded.synced_at, pending_sync=excluded.pending_sync
	WHERE member.nome IS NOT excluded.nome OR member.foto IS NOT excluded.foto
		OR member.whatsapp IS NOT excluded.whatsapp OR member.data_aniversario IS NOT excluded.data_aniversario
		OR member.grupo_pequeno IS NOT excluded.grupo_pequeno OR member.nome_pai IS NOT excluded.nome_pai
		OR member.nome_mae IS NOT excluded.nome_mae OR member.endereco IS NOT excluded.endereco
		OR member.pending_sync IS NOT excluded.pending_sync`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new member Store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (domain.Member, error) {
	var m domain.Member
	var foto, birthdate, father, mother, address, syncedAt sql.NullString
	var group, pending int
	if err := row.Scan(&m.ID, &m.Name, &foto, &m.WhatsApp, &birthdate, &group, &father, &mother, &address, &syncedAt, &pending); err != nil {
		return domain.Member{}, err
	}
	m.Photo = storage.StringPtr(foto)
	m.Birthdate = storage.StringPtr(birthdate)
	m.FatherName = storage.StringPtr(father)
	m.MotherName = storage.StringPtr(mother)
	m.Address = storage.StringPtr(address)
	m.SmallGroup = group == 1
	m.PendingSync = pending == 1
	t, err := storage.ParseTime(syncedAt)
	if err != nil {
		return domain.Member{}, err
	}
	m.SyncedAt = t
	return m, nil
}

func args(m domain.Member) []any {
	return []any{
		m.ID, m.Name, storage.NullString(m.Photo), m.WhatsApp, storage.NullString(m.Birthdate),
		storage.BoolInt(m.SmallGroup), storage.NullString(m.FatherName), storage.NullString(m.MotherName),
		storage.NullString(m.Address), storage.FormatTime(m.SyncedAt), storage.BoolInt(m.PendingSync),
	}
}

// GetByID retrieves a Member by its ID.
// PRE: id is non-empty
// POST: Returns the member or an error wrapping storage.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Member, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM member WHERE id = ?", id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	return m, err
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// List returns every cached member ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Member, error) {
	return s.query(ctx, "SELECT "+columns+" FROM member ORDER BY nome COLLATE NOCASE, id")
}

// ListPending returns members edited locally and not yet confirmed remotely.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]domain.Member, error) {
	return s.query(ctx, "SELECT "+columns+" FROM member WHERE pending_sync = 1 ORDER BY nome COLLATE NOCASE, id")
}

// Save upserts a member by id.
// PRE: value.ID is non-empty
// POST: the stored row equals value (last write wins)
func (s *SQLiteStore) Save(ctx context.Context, value domain.Member) error {
	if value.ID == "" {
		return domain.ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx, upsertQuery, args(value)...)
	return err
}

// Delete removes a member. Deleting a missing member is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM member WHERE id = ?", id)
	return err
}

// SetPendingSync flips the pending flag of one member.
// PRE: id is non-empty
// POST: returns storage.ErrNotFound if no member has id
func (s *SQLiteStore) SetPendingSync(ctx context.Context, id string, pending bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE member SET pending_sync = ? WHERE id = ?", storage.BoolInt(pending), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// Mirror replaces the cached member collection with the remote list in one transaction.
// PRE: remote is the complete remote member list
// POST: non-pending rows equal the remote rows; pending rows are untouched;
// non-pending rows missing remotely are removed; sync_meta records at
func (s *SQLiteStore) Mirror(ctx context.Context, remote []domain.Member, at time.Time) (storage.MirrorResult, error) {
	var result storage.MirrorResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	pending := map[string]bool{}
	local := map[string]bool{}
	rows, err := tx.QueryContext(ctx, "SELECT id, pending_sync FROM member")
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
	for _, m := range remote {
		if m.ID == "" {
			continue
		}
		seen[m.ID] = true
		if pending[m.ID] {
			result.Skipped++
			continue
		}
		m.SyncedAt = at
		m.PendingSync = false
		res, err := tx.ExecContext(ctx, upsertQuery, args(m)...)
		if err != nil {
			return result, fmt.Errorf("mirror member %s: %w", m.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Written++
		}
	}

	for id := range local {
		if seen[id] || pending[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM member WHERE id = ?", id); err != nil {
			return result, fmt.Errorf("prune member %s: %w", id, err)
		}
		result.Pruned++
	}

	if err := storage.TouchSyncMeta(ctx, tx, syncmeta.EntityMembers, at); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}
	return result, nil
}
