package syncmeta

import (
	"context"
	"time"

	domain "github.com/revolutedigital/igreja-betania/internal/domain/syncmeta"
)

// Store reads and writes per-entity refresh timestamps.
type Store interface {
	Get(ctx context.Context, entity string) (domain.Meta, error)
	List(ctx context.Context) ([]domain.Meta, error)
	Touch(ctx context.Context, entity string, at time.Time) error
}
