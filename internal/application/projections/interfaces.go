package projections

import (
	"context"

	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	domainSyncMeta "github.com/revolutedigital/igreja-betania/internal/domain/syncmeta"
)

// QueueCounter interface for pending-action queue queries.
type QueueCounter interface {
	Count(ctx context.Context) (int, error)
}

// SyncMetaStore interface for refresh timestamp queries.
type SyncMetaStore interface {
	Get(ctx context.Context, entity string) (domainSyncMeta.Meta, error)
}

// MemberSource interface for member reads through the facade.
type MemberSource interface {
	ListMembers(ctx context.Context) (orchestrators.MemberList, error)
}

// AttendanceSource interface for attendance reads through the facade.
type AttendanceSource interface {
	ListMembers(ctx context.Context) (orchestrators.MemberList, error)
	ListAttendance(ctx context.Context, serviceID string) (orchestrators.AttendanceList, error)
}
