package attendance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/domain/validation"
)

// Mark records whether a member was present at a service ("presença").
// At most one mark exists per (MemberID, ServiceID) pair.
type Mark struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"membroId" validate:"required"`
	ServiceID   string    `json:"cultoId" validate:"required"`
	Present     bool      `json:"presente"`
	SyncedAt    time.Time `json:"syncedAt,omitzero"`
	PendingSync bool      `json:"pendingSync,omitempty"`
}

// Validate checks if the Mark has valid data.
// PRE: Mark struct is initialized
// POST: Returns error if validation fails, nil otherwise
// INVARIANT: MemberID and ServiceID must not be empty
func (m *Mark) Validate() error {
	return validation.Struct(m)
}

// Key returns the natural key of the mark.
func (m Mark) Key() string {
	return PairKey(m.MemberID, m.ServiceID)
}

// PairKey joins a member and service id into the natural key of a mark.
func PairKey(memberID, serviceID string) string {
	return memberID + "|" + serviceID
}

// LocalID builds the id given to a mark created without the remote API.
// PRE: memberID and serviceID are non-empty
// POST: Returns "<member>-<service>-<unix millis>"
func LocalID(memberID, serviceID string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", memberID, serviceID, at.UnixMilli())
}

// Pair identifies a mark by its natural key. It doubles as the replay payload
// for deletes.
type Pair struct {
	MemberID  string `json:"membroId"`
	ServiceID string `json:"cultoId"`
}

// Upsert is the replay payload for creating or updating a mark.
type Upsert struct {
	MemberID  string `json:"membroId"`
	ServiceID string `json:"cultoId"`
	Present   bool   `json:"presente"`
}

// UpsertPayload encodes the remote upsert body for m.
func (m Mark) UpsertPayload() (json.RawMessage, error) {
	return json.Marshal(Upsert{MemberID: m.MemberID, ServiceID: m.ServiceID, Present: m.Present})
}
