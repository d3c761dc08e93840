package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/connectivity"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	domainSyncMeta "github.com/revolutedigital/igreja-betania/internal/domain/syncmeta"
)

type mockQueueCounter struct {
	n   int
	err error
}

func (m mockQueueCounter) Count(context.Context) (int, error) { return m.n, m.err }

type mockSyncMetaStore struct {
	meta map[string]time.Time
}

func (m mockSyncMetaStore) Get(_ context.Context, entity string) (domainSyncMeta.Meta, error) {
	return domainSyncMeta.Meta{Entity: entity, LastSyncAt: m.meta[entity]}, nil
}

type mockCycles struct {
	last    orchestrators.CycleResult
	err     error
	running bool
}

func (m mockCycles) LastCycle() (orchestrators.CycleResult, error) { return m.last, m.err }

func (m mockCycles) Running() bool { return m.running }

// TestQueryGetSyncStatus verifies the status snapshot.
func TestQueryGetSyncStatus(t *testing.T) {
	memberSync := time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)
	monitor := connectivity.NewMonitor()
	monitor.Set(false)

	tests := []struct {
		name     string
		deps     GetSyncStatusDeps
		wantConn string
		wantLast bool
		wantErr  string
	}{
		{
			name: "minimal deps",
			deps: GetSyncStatusDeps{
				Queue:    mockQueueCounter{n: 2},
				SyncMeta: mockSyncMetaStore{meta: map[string]time.Time{domainSyncMeta.EntityMembers: memberSync}},
			},
			wantConn: "unknown",
		},
		{
			name: "with monitor and cycle",
			deps: GetSyncStatusDeps{
				Queue:        mockQueueCounter{n: 2},
				SyncMeta:     mockSyncMetaStore{meta: map[string]time.Time{domainSyncMeta.EntityMembers: memberSync}},
				Connectivity: monitor,
				Cycles: mockCycles{
					last: orchestrators.CycleResult{StartedAt: memberSync, FinishedAt: memberSync.Add(time.Second)},
					err:  errors.New("remote GET /api/cultos: 503"),
				},
			},
			wantConn: "offline",
			wantLast: true,
			wantErr:  "remote GET /api/cultos: 503",
		},
		{
			name: "no cycle yet",
			deps: GetSyncStatusDeps{
				Queue:    mockQueueCounter{n: 2},
				SyncMeta: mockSyncMetaStore{meta: map[string]time.Time{domainSyncMeta.EntityMembers: memberSync}},
				Cycles:   mockCycles{},
			},
			wantConn: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QueryGetSyncStatus(context.Background(), tt.deps)
			if err != nil {
				t.Fatalf("QueryGetSyncStatus: %v", err)
			}
			if got.PendingCount != 2 {
				t.Errorf("PendingCount = %d, want 2", got.PendingCount)
			}
			if !got.LastMemberSync.Equal(memberSync) {
				t.Errorf("LastMemberSync = %v, want %v", got.LastMemberSync, memberSync)
			}
			if !got.LastServiceSync.IsZero() {
				t.Errorf("LastServiceSync = %v, want zero", got.LastServiceSync)
			}
			if got.Connectivity != tt.wantConn {
				t.Errorf("Connectivity = %q, want %q", got.Connectivity, tt.wantConn)
			}
			if (got.LastCycle != nil) != tt.wantLast {
				t.Errorf("LastCycle = %v, want present=%v", got.LastCycle, tt.wantLast)
			}
			if got.LastError != tt.wantErr {
				t.Errorf("LastError = %q, want %q", got.LastError, tt.wantErr)
			}
		})
	}
}

// TestQueryGetSyncStatus_QueueError propagates store failures.
func TestQueryGetSyncStatus_QueueError(t *testing.T) {
	_, err := QueryGetSyncStatus(context.Background(), GetSyncStatusDeps{
		Queue:    mockQueueCounter{err: errors.New("disk I/O error")},
		SyncMeta: mockSyncMetaStore{},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
