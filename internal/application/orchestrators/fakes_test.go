package orchestrators

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/revolutedigital/igreja-betania/internal/adapters/remote"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage/localstore"
	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/service"
)

// fakeConn is a switchable connectivity source.
type fakeConn struct {
	online atomic.Bool
}

func (c *fakeConn) Online() bool { return c.online.Load() }

func newConn(online bool) *fakeConn {
	c := &fakeConn{}
	c.online.Store(online)
	return c
}

// fakeRemote is an in-memory remote API that records every call.
type fakeRemote struct {
	mu       sync.Mutex
	members  map[string]member.Member
	services map[string]service.Service
	marks    map[string]attendance.Mark
	calls    []string
	seq      int

	// assignIDs makes creates return a server-side id.
	assignIDs bool
	// fail returns the error for an operation, or nil.
	fail func(op string) error
	// gate, when set, is received from before each call returns.
	gate chan struct{}
	// entered is signalled when a call starts, if set.
	entered chan string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		members:  map[string]member.Member{},
		services: map[string]service.Service{},
		marks:    map[string]attendance.Mark{},
	}
}

func (f *fakeRemote) begin(op string) error {
	if f.entered != nil {
		f.entered <- op
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if f.fail != nil {
		return f.fail(op)
	}
	return nil
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) countCalls(op string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeRemote) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeRemote) ListMembers(ctx context.Context) ([]member.Member, error) {
	if err := f.begin("list members"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []member.Member
	for _, m := range f.members {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeRemote) CreateMember(ctx context.Context, m member.Member) (member.Member, error) {
	if err := f.begin("create member " + m.ID); err != nil {
		return member.Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignIDs || m.ID == "" {
		m.ID = f.nextID("srv")
	}
	m.PendingSync = false
	f.members[m.ID] = m
	return m, nil
}

func (f *fakeRemote) UpdateMember(ctx context.Context, id string, changes member.Changes) (member.Member, error) {
	if err := f.begin("update member " + id); err != nil {
		return member.Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	if !ok {
		return member.Member{}, &remote.Error{Method: "PUT", Path: "/api/membros/" + id, StatusCode: http.StatusNotFound}
	}
	changes.Apply(&m)
	f.members[id] = m
	return m, nil
}

func (f *fakeRemote) DeleteMember(ctx context.Context, id string) error {
	if err := f.begin("delete member " + id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, id)
	return nil
}

func (f *fakeRemote) ListServices(ctx context.Context) ([]service.Service, error) {
	if err := f.begin("list services"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []service.Service
	for _, s := range f.services {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRemote) CreateService(ctx context.Context, s service.Service) (service.Service, error) {
	if err := f.begin("create service " + s.Date + " " + s.Slot); err != nil {
		return service.Service{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.services {
		if existing.SameOccurrence(s) {
			return existing, nil
		}
	}
	if f.assignIDs || s.ID == "" {
		s.ID = f.nextID("culto")
	}
	s.PendingSync = false
	f.services[s.ID] = s
	return s, nil
}

func (f *fakeRemote) ListAttendance(ctx context.Context, serviceID string) ([]attendance.Mark, error) {
	if err := f.begin("list attendance " + serviceID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []attendance.Mark
	for _, m := range f.marks {
		if m.ServiceID == serviceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRemote) UpsertAttendance(ctx context.Context, u attendance.Upsert) (attendance.Mark, error) {
	if err := f.begin("upsert attendance " + attendance.PairKey(u.MemberID, u.ServiceID)); err != nil {
		return attendance.Mark{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := attendance.PairKey(u.MemberID, u.ServiceID)
	m, ok := f.marks[key]
	if !ok {
		m = attendance.Mark{ID: f.nextID("p"), MemberID: u.MemberID, ServiceID: u.ServiceID}
	}
	m.Present = u.Present
	f.marks[key] = m
	return m, nil
}

func (f *fakeRemote) DeleteAttendance(ctx context.Context, memberID, serviceID string) error {
	if err := f.begin("delete attendance " + attendance.PairKey(memberID, serviceID)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.marks, attendance.PairKey(memberID, serviceID))
	return nil
}

// recordingNotifier keeps every discard it is told about.
type recordingNotifier struct {
	mu       sync.Mutex
	discards []Discard
}

func (n *recordingNotifier) NotifyDiscard(_ context.Context, d Discard) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.discards = append(n.discards, d)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.discards)
}

func newTestLocal(t *testing.T) *localstore.Local {
	t.Helper()
	local, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "betania.db"), localstore.Options{})
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return local
}

// syncEnv wires a facade and reconciler over one local store and fake remote.
type syncEnv struct {
	local    *localstore.Local
	remote   *fakeRemote
	conn     *fakeConn
	notifier *recordingNotifier
	facade   *Facade
	rec      *Reconciler
}

func newSyncEnv(t *testing.T, online bool) *syncEnv {
	t.Helper()
	env := &syncEnv{
		local:    newTestLocal(t),
		remote:   newFakeRemote(),
		conn:     newConn(online),
		notifier: &recordingNotifier{},
	}
	ids := 0
	env.facade = NewFacade(FacadeDeps{
		Local:        env.local,
		Remote:       env.remote,
		Connectivity: env.conn,
		GenerateID: func() string {
			ids++
			return fmt.Sprintf("local-%d", ids)
		},
	})
	t.Cleanup(env.facade.Close)
	env.rec = NewReconciler(ReconcilerDeps{
		Local:        env.local,
		Remote:       env.remote,
		Connectivity: env.conn,
		Notifier:     env.notifier,
	})
	return env
}

func (e *syncEnv) queueLen(t *testing.T) int {
	t.Helper()
	n, err := e.local.Queue.Count(context.Background())
	if err != nil {
		t.Fatalf("Queue.Count: %v", err)
	}
	return n
}

func unavailable(op string) error {
	return &remote.Error{Method: "X", Path: op, StatusCode: http.StatusServiceUnavailable}
}

func strPtr(s string) *string { return &s }

func attendanceUpsert(memberID, serviceID string) attendance.Upsert {
	return attendance.Upsert{MemberID: memberID, ServiceID: serviceID, Present: true}
}
