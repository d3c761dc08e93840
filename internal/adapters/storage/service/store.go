package service

import (
	"context"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	domain "github.com/revolutedigital/igreja-betania/internal/domain/service"
)

// Store persists cached Service records.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Service, error)
	List(ctx context.Context) ([]domain.Service, error)
	ListByDate(ctx context.Context, date string) ([]domain.Service, error)
	FindOccurrence(ctx context.Context, date, slot string) (domain.Service, error)
	Save(ctx context.Context, value domain.Service) error
	Delete(ctx context.Context, id string) error
	SetPendingSync(ctx context.Context, id string, pending bool) error
	Mirror(ctx context.Context, remote []domain.Service, at time.Time) (storage.MirrorResult, error)
}
