package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LatestSchemaVersion is the schema version a freshly migrated database reports.
const LatestSchemaVersion = 2

// ErrNotFound is wrapped by stores when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MirrorResult summarizes an atomic batch mirror of remote records.
type MirrorResult struct {
	Written int // inserted or changed rows
	Skipped int // remote rows ignored because a local edit is pending
	Pruned  int // local rows removed because the remote no longer has them
}

// migration moves the schema from version-1 to version.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations are applied in order; each runs in its own transaction.
var migrations = []migration{
	{
		version: 1,
		name:    "initial_offline_cache",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS member (
				id TEXT PRIMARY KEY,
				nome TEXT NOT NULL,
				foto TEXT,
				whatsapp TEXT NOT NULL,
				data_aniversario TEXT,
				grupo_pequeno INTEGER NOT NULL DEFAULT 0,
				nome_pai TEXT,
				nome_mae TEXT,
				endereco TEXT,
				synced_at TEXT,
				pending_sync INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_member_nome ON member(nome)`,
			`CREATE INDEX IF NOT EXISTS idx_member_pending ON member(pending_sync)`,
			`CREATE TABLE IF NOT EXISTS service (
				id TEXT PRIMARY KEY,
				data TEXT NOT NULL,
				horario TEXT NOT NULL,
				synced_at TEXT,
				pending_sync INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_service_data ON service(data)`,
			`CREATE INDEX IF NOT EXISTS idx_service_pending ON service(pending_sync)`,
			`CREATE TABLE IF NOT EXISTS attendance (
				id TEXT PRIMARY KEY,
				member_id TEXT NOT NULL,
				service_id TEXT NOT NULL,
				presente INTEGER NOT NULL DEFAULT 1,
				synced_at TEXT,
				pending_sync INTEGER NOT NULL DEFAULT 0,
				UNIQUE (member_id, service_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attendance_service ON attendance(service_id)`,
			`CREATE INDEX IF NOT EXISTS idx_attendance_member ON attendance(member_id)`,
			`CREATE INDEX IF NOT EXISTS idx_attendance_pending ON attendance(pending_sync)`,
			`CREATE TABLE IF NOT EXISTS pending_action (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				kind TEXT NOT NULL,
				entity TEXT NOT NULL,
				entity_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TEXT NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pending_action_key ON pending_action(entity_key)`,
			`CREATE TABLE IF NOT EXISTS sync_meta (
				entity TEXT PRIMARY KEY,
				last_sync_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "pending_action_last_error",
		stmts: []string{
			`ALTER TABLE pending_action ADD COLUMN last_error TEXT NOT NULL DEFAULT ''`,
			`CREATE INDEX IF NOT EXISTS idx_service_occurrence ON service(data, horario)`,
		},
	},
}

// DSN builds the modernc.org/sqlite connection string for path.
// WAL, busy timeout and foreign keys are set per connection.
func DSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
}

// Open opens and pings the SQLite database at path.
// PRE: the sqlite driver is registered (import _ "modernc.org/sqlite")
// POST: Returns a live connection pool or an error
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}

// SchemaVersion reads the schema version recorded in the database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// MigrateDB brings the schema up to LatestSchemaVersion.
// PRE: db is a valid database connection
// POST: every migration newer than the recorded version has been applied once
func MigrateDB(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > LatestSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, LatestSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Info("schema_migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}

// FormatTime renders t for storage. Zero times are stored as NULL.
func FormatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored timestamp; NULL yields the zero time.
func ParseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s.String, err)
	}
	return t, nil
}

// NullString maps nil to NULL.
func NullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// StringPtr maps NULL to nil.
func StringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// BoolInt stores a bool as 0/1.
func BoolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// TouchSyncMeta records a full refresh of entity inside tx.
// PRE: tx is open
// POST: sync_meta row for entity holds at
func TouchSyncMeta(ctx context.Context, tx *sql.Tx, entity string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO sync_meta (entity, last_sync_at) VALUES (?, ?) ON CONFLICT(entity) DO UPDATE SET last_sync_at=excluded.last_sync_at",
		entity, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}
