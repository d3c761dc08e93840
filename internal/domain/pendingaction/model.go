package pendingaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
)

// DefaultMaxRetries is the number of failed replays after which an action is discarded.
const DefaultMaxRetries = 3

// Kind is the mutation an action replays.
type Kind string

// Mutation kinds.
const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Entity is the record kind an action targets.
type Entity string

// Entity kinds.
const (
	EntityMember     Entity = "member"
	EntityService    Entity = "service"
	EntityAttendance Entity = "attendance"
)

// Domain errors.
var (
	ErrInvalidKind   = errors.New("action kind must be create, update or delete")
	ErrInvalidEntity = errors.New("action entity must be member, service or attendance")
	ErrEmptyPayload  = errors.New("payload is required")
	ErrEmptyKey      = errors.New("payload does not identify a record")
)

// Action is a mutation recorded while the remote API was unreachable.
type Action struct {
	ID        int64           `json:"id"`
	Kind      Kind            `json:"kind"`
	Entity    Entity          `json:"entity"`
	Payload   json.RawMessage `json:"payload"`
	EntityKey string          `json:"entityKey"` // record the action concerns; see KeyFor
	CreatedAt time.Time       `json:"createdAt"`
	Retries   int             `json:"retries"`
	LastError string          `json:"lastError,omitempty"`
}

// New builds an action for payload and derives its entity key.
// PRE: payload is the JSON body the remote operation expects
// POST: Returns a validated action with Retries=0
func New(kind Kind, entity Entity, payload json.RawMessage, now time.Time) (Action, error) {
	a := Action{
		Kind:      kind,
		Entity:    entity,
		Payload:   payload,
		CreatedAt: now,
	}
	key, err := KeyFor(entity, payload)
	if err != nil {
		return Action{}, err
	}
	a.EntityKey = key
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}

// Validate checks that the Action has valid data.
// PRE: Action struct is populated
// POST: Returns nil if valid, error otherwise
func (a *Action) Validate() error {
	switch a.Kind {
	case KindCreate, KindUpdate, KindDelete:
	default:
		return ErrInvalidKind
	}
	switch a.Entity {
	case EntityMember, EntityService, EntityAttendance:
	default:
		return ErrInvalidEntity
	}
	if len(a.Payload) == 0 {
		return ErrEmptyPayload
	}
	if a.EntityKey == "" {
		return ErrEmptyKey
	}
	if a.CreatedAt.IsZero() {
		return errors.New("created_at must be set")
	}
	return nil
}

// Exhausted reports whether the action has used up its replay attempts.
// PRE: maxRetries > 0
// POST: Returns true once Retries >= maxRetries
func (a Action) Exhausted(maxRetries int) bool {
	return a.Retries >= maxRetries
}

// String describes the action for logs.
func (a Action) String() string {
	return fmt.Sprintf("#%d %s %s %s", a.ID, a.Kind, a.Entity, a.EntityKey)
}

// KeyFor derives the record key a payload concerns. Members and services are
// keyed by id, attendance marks by their (member, service) pair.
// PRE: payload is a JSON object
// POST: Returns a non-empty key or ErrEmptyKey
func KeyFor(entity Entity, payload json.RawMessage) (string, error) {
	switch entity {
	case EntityAttendance:
		var p attendance.Pair
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", fmt.Errorf("decode attendance payload: %w", err)
		}
		if p.MemberID == "" || p.ServiceID == "" {
			return "", ErrEmptyKey
		}
		return string(entity) + ":" + attendance.PairKey(p.MemberID, p.ServiceID), nil
	case EntityMember, EntityService:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", fmt.Errorf("decode %s payload: %w", entity, err)
		}
		if p.ID == "" {
			return "", ErrEmptyKey
		}
		return string(entity) + ":" + p.ID, nil
	default:
		return "", ErrInvalidEntity
	}
}

// DependsOn returns the keys of other records that must reach the remote API
// before this action can. An attendance mark needs its member and service.
// POST: Returns nil for members and services
func (a Action) DependsOn() []string {
	if a.Entity != EntityAttendance {
		return nil
	}
	var p attendance.Pair
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return nil
	}
	var keys []string
	if p.MemberID != "" {
		keys = append(keys, string(EntityMember)+":"+p.MemberID)
	}
	if p.ServiceID != "" {
		keys = append(keys, string(EntityService)+":"+p.ServiceID)
	}
	return keys
}

// RecordID returns the member/service id of the key built by KeyFor.
func RecordID(entity Entity, key string) string {
	prefix := string(entity) + ":"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return ""
}
