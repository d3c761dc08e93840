package orchestrators

import "sync"

// attendanceBoard is the in-memory view of who is marked present at each
// service. Writes update it before they settle and restore it on failure.
type attendanceBoard struct {
	mu       sync.Mutex
	services map[string]map[string]bool
}

func newAttendanceBoard() *attendanceBoard {
	return &attendanceBoard{services: map[string]map[string]bool{}}
}

// get returns the board value and whether the pair is known.
func (b *attendanceBoard) get(serviceID, memberID string) (present, known bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	present, known = b.services[serviceID][memberID]
	return present, known
}

// set records present for the pair and returns the value it replaced.
func (b *attendanceBoard) set(serviceID, memberID string, present bool) (prev, had bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	marks, ok := b.services[serviceID]
	if !ok {
		marks = map[string]bool{}
		b.services[serviceID] = marks
	}
	prev, had = marks[memberID]
	marks[memberID] = present
	return prev, had
}

// restore puts back the value returned by set.
func (b *attendanceBoard) restore(serviceID, memberID string, prev, had bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	marks := b.services[serviceID]
	if marks == nil {
		return
	}
	if had {
		marks[memberID] = prev
	} else {
		delete(marks, memberID)
	}
}

// replace loads a freshly read list for one service.
func (b *attendanceBoard) replace(serviceID string, present map[string]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services[serviceID] = present
}

// snapshot copies the board of one service.
func (b *attendanceBoard) snapshot(serviceID string) map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(b.services[serviceID]))
	for k, v := range b.services[serviceID] {
		out[k] = v
	}
	return out
}
