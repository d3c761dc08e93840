package attendance

import (
	"context"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/attendance"
)

// Store persists cached attendance marks, unique per (member, service).
type Store interface {
	GetByPair(ctx context.Context, memberID, serviceID string) (domain.Mark, error)
	List(ctx context.Context) ([]domain.Mark, error)
	ListByService(ctx context.Context, serviceID string) ([]domain.Mark, error)
	ListByMember(ctx context.Context, memberID string) ([]domain.Mark, error)
	Save(ctx context.Context, value domain.Mark) error
	Delete(ctx context.Context, id string) error
	DeleteByPair(ctx context.Context, memberID, serviceID string) error
	SetPendingSync(ctx context.Context, memberID, serviceID string, pending bool) error
	RemapMember(ctx context.Context, oldID, newID string) (int, error)
	RemapService(ctx context.Context, oldID, newID string) (int, error)
	MirrorService(ctx context.Context, serviceID string, remote []domain.Mark, at time.Time) (storage.MirrorResult, error)
}
