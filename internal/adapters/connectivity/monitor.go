// Package connectivity tracks whether the remote API is reachable.
package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

// State is the last known reachability of the remote API.
type State int

// Reachability states. Unknown holds until the first observation.
const (
	Unknown State = iota
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Transition is delivered to subscribers when the state changes.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Listener receives state transitions.
type Listener func(Transition)

// Monitor holds the connectivity state and notifies subscribers on change.
// It is safe for concurrent use.
type Monitor struct {
	mu        sync.RWMutex
	state     State
	changedAt time.Time
	nextID    int
	listeners map[int]Listener
	now       func() time.Time
}

// NewMonitor returns a Monitor in the Unknown state.
func NewMonitor() *Monitor {
	return &Monitor{listeners: map[int]Listener{}, now: time.Now}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Online reports whether the remote API is believed reachable.
// Unknown counts as offline.
func (m *Monitor) Online() bool {
	return m.State() == Online
}

// ChangedAt returns when the state last changed.
func (m *Monitor) ChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}

// Set records an observation. Listeners run only when the state changes.
// They are called synchronously, outside the lock, in no particular order.
// PRE: none
// POST: State() reflects online; returns true when a transition happened
func (m *Monitor) Set(online bool) bool {
	next := Offline
	if online {
		next = Online
	}

	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return false
	}
	t := Transition{From: m.state, To: next, At: m.now()}
	m.state = next
	m.changedAt = t.At
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	slog.Info("connectivity_changed", "from", t.From.String(), "to", t.To.String())
	for _, l := range listeners {
		l(t)
	}
	return true
}

// Subscribe registers fn for future transitions and returns a function that
// removes it. Calling the returned function more than once is safe.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
