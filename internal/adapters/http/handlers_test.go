package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/revolutedigital/igreja-betania/internal/adapters/connectivity"
	"github.com/revolutedigital/igreja-betania/internal/adapters/http/perf"
	"github.com/revolutedigital/igreja-betania/internal/adapters/remote"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage/localstore"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/service"
)

// stubRemote is an in-memory remote API.
type stubRemote struct {
	mu       sync.Mutex
	members  map[string]member.Member
	services map[string]service.Service
	marks    map[string]attendance.Mark
	seq      int
	err      error // returned by every call when set
}

func newStubRemote() *stubRemote {
	return &stubRemote{
		members:  map[string]member.Member{},
		services: map[string]service.Service{},
		marks:    map[string]attendance.Mark{},
	}
}

func (s *stubRemote) ListMembers(context.Context) ([]member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []member.Member
	for _, m := range s.members {
		out = append(out, m)
	}
	return out, nil
}

func (s *stubRemote) CreateMember(_ context.Context, m member.Member) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return member.Member{}, s.err
	}
	if m.ID == "" {
		s.seq++
		m.ID = fmt.Sprintf("srv-%d", s.seq)
	}
	m.PendingSync = false
	s.members[m.ID] = m
	return m, nil
}

func (s *stubRemote) UpdateMember(_ context.Context, id string, c member.Changes) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return member.Member{}, s.err
	}
	m, ok := s.members[id]
	if !ok {
		return member.Member{}, &remote.Error{Method: "PUT", Path: "/api/membros/" + id, StatusCode: http.StatusNotFound, Message: "Membro não encontrado"}
	}
	c.Apply(&m)
	s.members[id] = m
	return m, nil
}

func (s *stubRemote) DeleteMember(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.members, id)
	return nil
}

func (s *stubRemote) ListServices(context.Context) ([]service.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []service.Service
	for _, sv := range s.services {
		out = append(out, sv)
	}
	return out, nil
}

func (s *stubRemote) CreateService(_ context.Context, sv service.Service) (service.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return service.Service{}, s.err
	}
	if sv.ID == "" {
		s.seq++
		sv.ID = fmt.Sprintf("culto-%d", s.seq)
	}
	s.services[sv.ID] = sv
	return sv, nil
}

func (s *stubRemote) ListAttendance(_ context.Context, serviceID string) ([]attendance.Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []attendance.Mark
	for _, m := range s.marks {
		if m.ServiceID == serviceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubRemote) UpsertAttendance(_ context.Context, u attendance.Upsert) (attendance.Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return attendance.Mark{}, s.err
	}
	m := attendance.Mark{ID: "p-" + u.MemberID, MemberID: u.MemberID, ServiceID: u.ServiceID, Present: u.Present}
	s.marks[m.Key()] = m
	return m, nil
}

func (s *stubRemote) DeleteAttendance(_ context.Context, memberID, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.marks, attendance.PairKey(memberID, serviceID))
	return nil
}

func (s *stubRemote) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// testEnv is one API instance over a temp-dir cache and a stub remote.
type testEnv struct {
	app     *App
	remote  *stubRemote
	handler http.Handler
}

func newTestEnv(t *testing.T, online bool) *testEnv {
	t.Helper()
	local, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "betania.db"), localstore.Options{})
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return newTestEnvWithLocal(t, online, local)
}

func newTestEnvWithLocal(t *testing.T, online bool, local *localstore.Local) *testEnv {
	t.Helper()
	stub := newStubRemote()
	monitor := connectivity.NewMonitor()
	monitor.Set(online)

	facade := orchestrators.NewFacade(orchestrators.FacadeDeps{Local: local, Remote: stub, Connectivity: monitor})
	a := &App{
		Facade:     facade,
		Reconciler: orchestrators.NewReconciler(orchestrators.ReconcilerDeps{Local: local, Remote: stub, Connectivity: monitor}),
		Local:      local,
		Monitor:    monitor,
		Hub:        NewHub(nil),
	}
	RateLimitPerSecond = 1000
	handler := NewMux(a, perf.NewCollector(100), Options{CSRFKey: bytes.Repeat([]byte{7}, 32)})
	t.Cleanup(func() {
		Shutdown()
		facade.Close()
	})
	return &testEnv{app: a, remote: stub, handler: handler}
}

// decoded mirrors envelope with a raw data field.
type decoded struct {
	Success  bool              `json:"success"`
	Data     json.RawMessage   `json:"data"`
	Error    string            `json:"error"`
	Fields   map[string]string `json:"fields"`
	Offline  bool              `json:"offline"`
	Fallback bool              `json:"fallback"`
}

func (e *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, decoded) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var out decoded
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v\n%s", method, target, err, rr.Body.String())
		}
	}
	return rr, out
}

func mustData(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode data: %v\n%s", err, raw)
	}
}

// TestHealth reports store and connectivity state.
func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rr, body := env.do(t, "GET", "/healthz", "")
	if rr.Code != http.StatusOK || !body.Success || !body.Offline {
		t.Fatalf("healthz = %d %+v", rr.Code, body)
	}
	var data map[string]any
	mustData(t, body.Data, &data)
	if data["localStore"] != true || data["connectivity"] != "offline" {
		t.Errorf("data = %v", data)
	}
}

// TestSecurityHeaders applies to API answers.
func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, false)
	rr, _ := env.do(t, "GET", "/api/services", "")
	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	} {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

// TestMembers_OnlineList serves the remote list.
func TestMembers_OnlineList(t *testing.T) {
	env := newTestEnv(t, true)
	env.remote.members["m1"] = member.Member{ID: "m1", Name: "Ana", WhatsApp: "11987654321"}
	env.remote.members["m2"] = member.Member{ID: "m2", Name: "Bruno", WhatsApp: "11987654322"}

	rr, body := env.do(t, "GET", "/api/members?q=ana", "")
	if rr.Code != http.StatusOK || body.Offline {
		t.Fatalf("list = %d %+v", rr.Code, body)
	}
	var data struct {
		Members []member.Member `json:"members"`
		Page    struct {
			Total int `json:"total"`
		} `json:"page"`
		Source string `json:"source"`
	}
	mustData(t, body.Data, &data)
	if len(data.Members) != 1 || data.Members[0].ID != "m1" || data.Page.Total != 1 {
		t.Errorf("data = %+v", data)
	}
	if data.Source != "remote" {
		t.Errorf("source = %q", data.Source)
	}
}

// TestMembers_RemoteReadFallsBack marks the answer as offline fallback.
func TestMembers_RemoteReadFallsBack(t *testing.T) {
	env := newTestEnv(t, true)
	if err := env.app.Local.Members.Save(context.Background(), member.Member{ID: "m1", Name: "Ana", WhatsApp: "11987654321"}); err != nil {
		t.Fatal(err)
	}
	env.remote.setErr(&remote.Error{Method: "GET", Path: "/api/membros", StatusCode: http.StatusBadGateway})

	_, body := env.do(t, "GET", "/api/members", "")
	if !body.Success || !body.Offline || !body.Fallback {
		t.Errorf("envelope = %+v, want offline fallback", body)
	}
}

// TestMembers_OfflineCreateThenSync queues a create and replays it.
func TestMembers_OfflineCreateThenSync(t *testing.T) {
	env := newTestEnv(t, false)

	rr, body := env.do(t, "POST", "/api/members", `{"nome":"Carla","whatsapp":"11987654323"}`)
	if rr.Code != http.StatusCreated || !body.Offline {
		t.Fatalf("create = %d %+v", rr.Code, body)
	}
	var created member.Member
	mustData(t, body.Data, &created)
	if !created.PendingSync || created.ID == "" {
		t.Errorf("created = %+v, want pending with a local id", created)
	}

	_, body = env.do(t, "GET", "/api/sync/status", "")
	var status struct {
		PendingCount int    `json:"pendingCount"`
		Connectivity string `json:"connectivity"`
	}
	mustData(t, body.Data, &status)
	if status.PendingCount != 1 || status.Connectivity != "offline" {
		t.Errorf("status = %+v", status)
	}

	rr, body = env.do(t, "POST", "/api/connectivity", `{"online":true}`)
	if rr.Code != http.StatusOK || body.Offline {
		t.Fatalf("connectivity = %d %+v", rr.Code, body)
	}

	rr, body = env.do(t, "POST", "/api/sync", "")
	if rr.Code != http.StatusOK || !body.Success {
		t.Fatalf("sync = %d %+v", rr.Code, body)
	}
	var cycle orchestrators.CycleResult
	mustData(t, body.Data, &cycle)
	if cycle.Drain.Applied != 1 {
		t.Errorf("drain = %+v, want 1 applied", cycle.Drain)
	}
	if len(env.remote.members) != 1 {
		t.Errorf("remote members = %v", env.remote.members)
	}

	_, body = env.do(t, "GET", "/api/sync/status", "")
	mustData(t, body.Data, &status)
	if status.PendingCount != 0 {
		t.Errorf("pending after sync = %d", status.PendingCount)
	}
}

// TestMembers_BadInput rejects invalid and malformed bodies.
func TestMembers_BadInput(t *testing.T) {
	env := newTestEnv(t, false)
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"short whatsapp", `{"nome":"Carla","whatsapp":"123"}`, "whatsapp"},
		{"missing name", `{"whatsapp":"11987654323"}`, "nome"},
		{"unknown field", `{"nome":"Carla","whatsapp":"11987654323","senha":"x"}`, ""},
		{"not json", `nome=Carla`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := env.do(t, "POST", "/api/members", tt.body)
			if rr.Code != http.StatusBadRequest || body.Success {
				t.Fatalf("status = %d %+v, want 400", rr.Code, body)
			}
			if tt.wantField != "" {
				if _, ok := body.Fields[tt.wantField]; !ok {
					t.Errorf("fields = %v, want %s", body.Fields, tt.wantField)
				}
			}
		})
	}
}

// TestMembers_GetUpdateDelete covers the record routes offline.
func TestMembers_GetUpdateDelete(t *testing.T) {
	env := newTestEnv(t, false)
	if err := env.app.Local.Members.Save(context.Background(), member.Member{ID: "m1", Name: "Ana", WhatsApp: "11987654321"}); err != nil {
		t.Fatal(err)
	}

	rr, _ := env.do(t, "GET", "/api/members/m9", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing member = %d, want 404", rr.Code)
	}

	rr, body := env.do(t, "PUT", "/api/members/m1", `{"nome":"Ana Paula"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update = %d %+v", rr.Code, body)
	}
	var updated member.Member
	mustData(t, body.Data, &updated)
	if updated.Name != "Ana Paula" || !updated.PendingSync {
		t.Errorf("updated = %+v", updated)
	}

	rr, _ = env.do(t, "DELETE", "/api/members/m1", "")
	if rr.Code != http.StatusOK {
		t.Errorf("delete = %d", rr.Code)
	}
	rr, _ = env.do(t, "GET", "/api/members/m1", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("after delete = %d, want 404", rr.Code)
	}
	if n, _ := env.app.Local.Queue.Count(context.Background()); n != 2 {
		t.Errorf("queued = %d, want update and delete", n)
	}
}

// TestRemoteErrors_Mapping turns remote failures into API statuses.
func TestRemoteErrors_Mapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", &remote.Error{Method: "POST", Path: "/api/membros", StatusCode: http.StatusConflict, Message: "WhatsApp já cadastrado"}, http.StatusConflict},
		{"rejected", &remote.Error{Method: "POST", Path: "/api/membros", StatusCode: http.StatusOK, Message: "inválido", Rejected: true}, http.StatusUnprocessableEntity},
		{"server down", &remote.Error{Method: "POST", Path: "/api/membros", StatusCode: http.StatusServiceUnavailable}, http.StatusBadGateway},
		{"unreachable", &url.Error{Op: "Post", URL: "http://remote/api/membros", Err: context.DeadlineExceeded}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			env.remote.setErr(tt.err)
			rr, body := env.do(t, "POST", "/api/members", `{"nome":"Carla","whatsapp":"11987654323"}`)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%+v)", rr.Code, tt.want, body)
			}
			if body.Success {
				t.Error("success = true")
			}
		})
	}
}

// TestServices_CreateAndList works offline against the cache.
func TestServices_CreateAndList(t *testing.T) {
	env := newTestEnv(t, false)
	rr, body := env.do(t, "POST", "/api/services", `{"data":"2024-01-07","horario":"19:00"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d %+v", rr.Code, body)
	}
	rr, body = env.do(t, "POST", "/api/services", `{"data":"2024-01-07","horario":"08:00"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad slot = %d, want 400", rr.Code)
	}

	_, body = env.do(t, "GET", "/api/services", "")
	var services []service.Service
	mustData(t, body.Data, &services)
	if len(services) != 1 || !services[0].PendingSync {
		t.Errorf("services = %+v", services)
	}
}

// TestAttendance_ToggleOffline flips a mark twice and reads the sheet.
func TestAttendance_ToggleOffline(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	if err := env.app.Local.Members.Save(ctx, member.Member{ID: "m1", Name: "Ana", WhatsApp: "11987654321"}); err != nil {
		t.Fatal(err)
	}
	if err := env.app.Local.Services.Save(ctx, service.Service{ID: "c1", Date: "2024-01-07", Slot: "19:00"}); err != nil {
		t.Fatal(err)
	}

	_, body := env.do(t, "POST", "/api/attendance/toggle", `{"membroId":"m1","cultoId":"c1"}`)
	var mark attendance.Mark
	mustData(t, body.Data, &mark)
	if !mark.Present || !body.Offline {
		t.Fatalf("first toggle = %+v offline=%v", mark, body.Offline)
	}

	_, body = env.do(t, "GET", "/api/attendance/sheet?serviceId=c1", "")
	var sheet struct {
		PresentCount int `json:"presentCount"`
		Rows         []struct {
			Present     bool `json:"presente"`
			PendingSync bool `json:"pendingSync"`
		} `json:"rows"`
	}
	mustData(t, body.Data, &sheet)
	if sheet.PresentCount != 1 || len(sheet.Rows) != 1 || !sheet.Rows[0].PendingSync {
		t.Errorf("sheet = %+v", sheet)
	}

	_, body = env.do(t, "POST", "/api/attendance/toggle", `{"membroId":"m1","cultoId":"c1"}`)
	mustData(t, body.Data, &mark)
	if mark.Present {
		t.Errorf("second toggle = %+v, want absent", mark)
	}
}

// TestAttendance_BadRequests covers missing parameters.
func TestAttendance_BadRequests(t *testing.T) {
	env := newTestEnv(t, false)
	tests := []struct {
		method, target, body string
	}{
		{"GET", "/api/attendance", ""},
		{"GET", "/api/attendance/sheet", ""},
		{"POST", "/api/attendance", `{"membroId":"m1","cultoId":"c1"}`},
		{"POST", "/api/attendance/toggle", `{"membroId":"m1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rr, _ := env.do(t, tt.method, tt.target, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

// TestAttendance_FormPostNeedsCSRFToken protects browser form posts.
func TestAttendance_FormPostNeedsCSRFToken(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest("POST", "/api/attendance/toggle", strings.NewReader("membroId=m1&cultoId=c1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

// TestConnectivity_RequiresFlag rejects bodies without online.
func TestConnectivity_RequiresFlag(t *testing.T) {
	env := newTestEnv(t, false)
	rr, _ := env.do(t, "POST", "/api/connectivity", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

// TestSyncStatus_NoLocalStore reports the degraded mode.
func TestSyncStatus_NoLocalStore(t *testing.T) {
	env := newTestEnvWithLocal(t, false, nil)
	rr, body := env.do(t, "GET", "/api/sync/status", "")
	if rr.Code != http.StatusServiceUnavailable || !body.Offline {
		t.Errorf("status = %d %+v, want 503", rr.Code, body)
	}
	rr, _ = env.do(t, "POST", "/api/members", `{"nome":"Carla","whatsapp":"11987654323"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("offline write = %d, want 503", rr.Code)
	}
}

// TestPerf_RecordsRequests exposes the timing snapshot.
func TestPerf_RecordsRequests(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, "GET", "/api/services", "")
	_, body := env.do(t, "GET", "/api/perf", "")
	var snap perf.Snapshot
	mustData(t, body.Data, &snap)
	if snap.Requests.Count == 0 {
		t.Errorf("snapshot = %+v, want recorded requests", snap)
	}
}
