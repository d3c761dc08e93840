package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/connectivity"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	domainSyncMeta "github.com/revolutedigital/igreja-betania/internal/domain/syncmeta"
)

// SyncStatusConnectivity defines the connectivity source for this projection.
type SyncStatusConnectivity interface {
	State() connectivity.State
	ChangedAt() time.Time
}

// SyncStatusCycles defines the reconciler view for this projection.
type SyncStatusCycles interface {
	LastCycle() (orchestrators.CycleResult, error)
	Running() bool
}

// GetSyncStatusResult carries the query result.
type GetSyncStatusResult struct {
	PendingCount    int                        `json:"pendingCount"`
	LastMemberSync  time.Time                  `json:"lastMemberSync,omitzero"`
	LastServiceSync time.Time                  `json:"lastServiceSync,omitzero"`
	Connectivity    string                     `json:"connectivity"`
	ChangedAt       time.Time                  `json:"connectivityChangedAt,omitzero"`
	Running         bool                       `json:"running"`
	LastCycle       *orchestrators.CycleResult `json:"lastCycle,omitempty"`
	LastError       string                     `json:"lastError,omitempty"`
}

// GetSyncStatusDeps holds dependencies for GetSyncStatus.
type GetSyncStatusDeps struct {
	Queue        QueueCounter
	SyncMeta     SyncMetaStore
	Connectivity SyncStatusConnectivity // optional: nil reports "unknown"
	Cycles       SyncStatusCycles       // optional: nil omits cycle details
}

// QueryGetSyncStatus reports queue depth, last refreshes and connectivity.
// PRE: deps.Queue and deps.SyncMeta are set
// POST: Returns a snapshot; never-synced entities have zero timestamps
func QueryGetSyncStatus(ctx context.Context, deps GetSyncStatusDeps) (GetSyncStatusResult, error) {
	pending, err := deps.Queue.Count(ctx)
	if err != nil {
		return GetSyncStatusResult{}, fmt.Errorf("count pending actions: %w", err)
	}
	members, err := deps.SyncMeta.Get(ctx, domainSyncMeta.EntityMembers)
	if err != nil {
		return GetSyncStatusResult{}, fmt.Errorf("member sync meta: %w", err)
	}
	services, err := deps.SyncMeta.Get(ctx, domainSyncMeta.EntityServices)
	if err != nil {
		return GetSyncStatusResult{}, fmt.Errorf("service sync meta: %w", err)
	}

	result := GetSyncStatusResult{
		PendingCount:    pending,
		LastMemberSync:  members.LastSyncAt,
		LastServiceSync: services.LastSyncAt,
		Connectivity:    connectivity.Unknown.String(),
	}
	if deps.Connectivity != nil {
		result.Connectivity = deps.Connectivity.State().String()
		result.ChangedAt = deps.Connectivity.ChangedAt()
	}
	if deps.Cycles != nil {
		result.Running = deps.Cycles.Running()
		last, cycleErr := deps.Cycles.LastCycle()
		if !last.StartedAt.IsZero() {
			result.LastCycle = &last
		}
		if cycleErr != nil {
			result.LastError = cycleErr.Error()
		}
	}
	return result, nil
}
