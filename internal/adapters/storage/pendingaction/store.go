package pendingaction

import (
	"context"
	"encoding/json"

	domain "github.com/revolutedigital/igreja-betania/internal/domain/pendingaction"
)

// Store is the durable pending-action queue.
type Store interface {
	// Enqueue appends an action with retries=0.
	// PRE: a has passed Validate
	// POST: Returns the assigned sequence number
	Enqueue(ctx context.Context, a domain.Action) (int64, error)

	// ListAll returns every queued action in creation order.
	// PRE: none
	// POST: entries are ordered by sequence number ascending
	ListAll(ctx context.Context) ([]domain.Action, error)

	// GetByID retrieves one queued action.
	// PRE: id > 0
	// POST: Returns the action or an error wrapping storage.ErrNotFound
	GetByID(ctx context.Context, id int64) (domain.Action, error)

	// Remove deletes an action once it is confirmed or discarded.
	// PRE: id > 0
	// POST: the action is gone; removing a missing action is not an error
	Remove(ctx context.Context, id int64) error

	// BumpRetry increments the retry counter in place and records the failure.
	// PRE: id > 0
	// POST: Returns the new retry count
	BumpRetry(ctx context.Context, id int64, lastError string) (int, error)

	// UpdatePayload rewrites the body and key of a queued action in place,
	// keeping its position. Used when a replayed create is assigned a new id.
	// PRE: id > 0; payload and entityKey are non-empty
	// POST: the action keeps its sequence number and retry count
	UpdatePayload(ctx context.Context, id int64, payload json.RawMessage, entityKey string) error

	// Count returns the number of queued actions.
	Count(ctx context.Context) (int, error)

	// CountByKey returns the number of queued actions for one record.
	CountByKey(ctx context.Context, entityKey string) (int, error)

	// Purge removes every queued action and returns how many were dropped.
	Purge(ctx context.Context) (int, error)
}
