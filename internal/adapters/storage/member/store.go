package member

import (
	"context"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/member"
)

// Store persists cached Member records.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Member, error)
	List(ctx context.Context) ([]domain.Member, error)
	ListPending(ctx context.Context) ([]domain.Member, error)
	Save(ctx context.Context, value domain.Member) error
	Delete(ctx context.Context, id string) error
	SetPendingSync(ctx context.Context, id string, pending bool) error
	Mirror(ctx context.Context, remote []domain.Member, at time.Time) (storage.MirrorResult, error)
}
