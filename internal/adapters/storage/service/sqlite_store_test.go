package service

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/service"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLiteStore(db)
}

// TestFindOccurrence matches bare dates against remote timestamps.
func TestFindOccurrence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, domain.Service{ID: "c1", Date: "2024-01-07T00:00:00.000Z", Slot: domain.SlotMorning})
	store.Save(ctx, domain.Service{ID: "c2", Date: "2024-01-07T00:00:00.000Z", Slot: domain.SlotEvening})
	store.Save(ctx, domain.Service{ID: "c3", Date: "2024-01-14", Slot: domain.SlotMorning})

	got, err := store.FindOccurrence(ctx, "2024-01-07", domain.SlotEvening)
	if err != nil {
		t.Fatalf("FindOccurrence: %v", err)
	}
	if got.ID != "c2" {
		t.Errorf("FindOccurrence ID = %q, want c2", got.ID)
	}

	if _, err := store.FindOccurrence(ctx, "2024-01-14", domain.SlotEvening); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FindOccurrence(missing) error = %v, want ErrNotFound", err)
	}

	day, err := store.ListByDate(ctx, "2024-01-07")
	if err != nil {
		t.Fatalf("ListByDate: %v", err)
	}
	if len(day) != 2 {
		t.Errorf("ListByDate len = %d, want 2", len(day))
	}
}

// TestMirror_IdempotentAndKeepsPending mirrors twice and protects a pending create.
func TestMirror_IdempotentAndKeepsPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, domain.Service{ID: "local-1", Date: "2024-01-21", Slot: domain.SlotMorning, PendingSync: true})
	remote := []domain.Service{
		{ID: "c1", Date: "2024-01-07T00:00:00.000Z", Slot: domain.SlotMorning},
		{ID: "c2", Date: "2024-01-14T00:00:00.000Z", Slot: domain.SlotAfternoon},
	}

	if _, err := store.Mirror(ctx, remote, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("first Mirror: %v", err)
	}
	first, _ := store.List(ctx)
	if len(first) != 3 {
		t.Fatalf("List len = %d, want 3", len(first))
	}

	res, err := store.Mirror(ctx, remote, time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("second Mirror: %v", err)
	}
	if res.Written != 0 || res.Pruned != 0 {
		t.Errorf("second Mirror = %+v, want no writes", res)
	}
	second, _ := store.List(ctx)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("collection changed after repeat mirror")
	}
}
