// Package localstore owns the on-device SQLite cache and hands out its stores.
package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/http/perf"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	attendanceStore "github.com/revolutedigital/igreja-betania/internal/adapters/storage/attendance"
	memberStore "github.com/revolutedigital/igreja-betania/internal/adapters/storage/member"
	queueStore "github.com/revolutedigital/igreja-betania/internal/adapters/storage/pendingaction"
	serviceStore "github.com/revolutedigital/igreja-betania/internal/adapters/storage/service"
	syncMetaStore "github.com/revolutedigital/igreja-betania/internal/adapters/storage/syncmeta"
)

// Options tunes how the local store is opened.
type Options struct {
	Collector *perf.Collector
	SlowQuery time.Duration
}

// Local is the explicitly owned handle to the offline cache.
// Open it once at startup and Close it on shutdown.
type Local struct {
	db *storage.TimedDB

	Members    memberStore.Store
	Services   serviceStore.Store
	Attendance attendanceStore.Store
	Queue      queueStore.Store
	SyncMeta   syncMetaStore.Store
}

// Open opens the database at path, migrates it and wires the stores.
// PRE: the sqlite driver is registered
// POST: Returns a ready store, or an error the caller treats as "no offline cache"
func Open(ctx context.Context, path string, opts Options) (*Local, error) {
	db, err := storage.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := storage.MigrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}

	timed := storage.NewTimedDB(db, opts.Collector, opts.SlowQuery)
	slog.Info("local_store_opened", "path", path, "schema_version", storage.LatestSchemaVersion)

	return &Local{
		db:         timed,
		Members:    memberStore.NewSQLiteStore(timed),
		Services:   serviceStore.NewSQLiteStore(timed),
		Attendance: attendanceStore.NewSQLiteStore(timed),
		Queue:      queueStore.NewSQLiteStore(timed),
		SyncMeta:   syncMetaStore.NewSQLiteStore(timed),
	}, nil
}

// Close releases the database.
func (l *Local) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
