package syncmeta

import "time"

// Entities whose full refresh is tracked.
const (
	EntityMembers  = "membros"
	EntityServices = "cultos"
)

// Meta records when an entity's cached collection was last mirrored in full.
// Diagnostic only.
type Meta struct {
	Entity     string
	LastSyncAt time.Time
}
