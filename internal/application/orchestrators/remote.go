package orchestrators

import (
	"context"

	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/service"
)

// RemoteAPI is the church server as seen by the sync core.
// *remote.Client satisfies it.
type RemoteAPI interface {
	ListMembers(ctx context.Context) ([]member.Member, error)
	CreateMember(ctx context.Context, m member.Member) (member.Member, error)
	UpdateMember(ctx context.Context, id string, changes member.Changes) (member.Member, error)
	DeleteMember(ctx context.Context, id string) error

	ListServices(ctx context.Context) ([]service.Service, error)
	CreateService(ctx context.Context, s service.Service) (service.Service, error)

	ListAttendance(ctx context.Context, serviceID string) ([]attendance.Mark, error)
	UpsertAttendance(ctx context.Context, u attendance.Upsert) (attendance.Mark, error)
	DeleteAttendance(ctx context.Context, memberID, serviceID string) error
}

// Connectivity reports whether the remote API is believed reachable.
type Connectivity interface {
	Online() bool
}
