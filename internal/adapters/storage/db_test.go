package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates a file-backed SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// getTableNames returns sorted table names from sqlite_master, excluding internal tables.
func getTableNames(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan table name: %v", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TestMigrateDB_CreatesSchema verifies a fresh database reaches the latest version.
func TestMigrateDB_CreatesSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := MigrateDB(ctx, db); err != nil {
		t.Fatalf("MigrateDB: %v", err)
	}

	want := []string{"attendance", "member", "pending_action", "service", "sync_meta"}
	got := getTableNames(t, db)
	if len(got) != len(want) {
		t.Fatalf("tables = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("table[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	v, err := SchemaVersion(ctx, db)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != LatestSchemaVersion {
		t.Errorf("schema version = %d, want %d", v, LatestSchemaVersion)
	}
}

// TestMigrateDB_Idempotent verifies a second run is a no-op.
func TestMigrateDB_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := MigrateDB(ctx, db); err != nil {
		t.Fatalf("first MigrateDB: %v", err)
	}
	if err := MigrateDB(ctx, db); err != nil {
		t.Fatalf("second MigrateDB: %v", err)
	}
}

// TestMigrateDB_UpgradesFromVersion1 verifies the v2 column lands on an existing v1 database.
func TestMigrateDB_UpgradesFromVersion1(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := applyMigration(ctx, db, migrations[0]); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if _, err := db.Exec("INSERT INTO pending_action (kind, entity, entity_key, payload, created_at) VALUES ('create','member','member:m1','{}','2024-01-01T00:00:00Z')"); err != nil {
		t.Fatalf("seed v1 row: %v", err)
	}

	if err := MigrateDB(ctx, db); err != nil {
		t.Fatalf("MigrateDB: %v", err)
	}

	var lastError string
	if err := db.QueryRow("SELECT last_error FROM pending_action WHERE entity_key = 'member:m1'").Scan(&lastError); err != nil {
		t.Fatalf("read last_error: %v", err)
	}
	if lastError != "" {
		t.Errorf("last_error = %q, want empty default", lastError)
	}
}

// TestMigrateDB_RejectsNewerSchema refuses to run against a future schema.
func TestMigrateDB_RejectsNewerSchema(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	if err := MigrateDB(context.Background(), db); err == nil {
		t.Fatal("MigrateDB on newer schema: expected error")
	}
}

// TestTimeHelpers covers the NULL mapping of stored timestamps.
func TestTimeHelpers(t *testing.T) {
	if FormatTime(time.Time{}) != nil {
		t.Error("FormatTime(zero) should be NULL")
	}
	got, err := ParseTime(sql.NullString{})
	if err != nil || !got.IsZero() {
		t.Errorf("ParseTime(NULL) = %v, %v; want zero, nil", got, err)
	}
	if _, err := ParseTime(sql.NullString{String: "yesterday", Valid: true}); err == nil {
		t.Error("ParseTime(garbage): expected error")
	}
}
