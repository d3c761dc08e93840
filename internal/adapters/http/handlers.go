package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/remote"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	"github.com/revolutedigital/igreja-betania/internal/application/listutil"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	"github.com/revolutedigital/igreja-betania/internal/application/projections"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/validation"
)

// perfWindow is how far back the perf endpoint aggregates.
const perfWindow = time.Hour

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)

	mux.HandleFunc("GET /api/members", handleListMembers)
	mux.HandleFunc("POST /api/members", handleCreateMember)
	mux.HandleFunc("GET /api/members/{id}", handleGetMember)
	mux.HandleFunc("PUT /api/members/{id}", handleUpdateMember)
	mux.HandleFunc("DELETE /api/members/{id}", handleDeleteMember)

	mux.HandleFunc("GET /api/services", handleListServices)
	mux.HandleFunc("POST /api/services", handleCreateService)

	mux.HandleFunc("GET /api/attendance", handleListAttendance)
	mux.HandleFunc("GET /api/attendance/sheet", handleAttendanceSheet)
	mux.HandleFunc("POST /api/attendance", handleSetAttendance)
	mux.HandleFunc("POST /api/attendance/toggle", handleToggleAttendance)

	mux.HandleFunc("GET /api/sync/status", handleSyncStatus)
	mux.HandleFunc("POST /api/sync", handleRunSync)
	mux.HandleFunc("POST /api/connectivity", handleConnectivity)
	mux.HandleFunc("GET /api/status/stream", handleStatusStream)

	mux.HandleFunc("GET /api/perf", handlePerf)
}

// envelope is the JSON shape of every API answer.
type envelope struct {
	Success  bool                   `json:"success"`
	Data     any                    `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Fields   validation.FieldErrors `json:"fields,omitempty"`
	Offline  bool                   `json:"offline"`
	Fallback bool                   `json:"fallback,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

// writeRead answers a read with the facade's provenance.
func writeRead(w http.ResponseWriter, data any, meta orchestrators.ReadMeta) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Offline: meta.Offline(), Fallback: meta.Fallback})
}

// writeWrite answers a mutation. Offline means it was queued for replay.
func writeWrite(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data, Offline: isOffline()})
}

func isOffline() bool {
	return app.Monitor == nil || !app.Monitor.Online()
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeJSON(w, http.StatusInternalServerError, envelope{Error: "internal server error", Offline: isOffline()})
}

// writeError maps domain, store and remote errors onto HTTP answers.
func writeError(w http.ResponseWriter, err error) {
	var fields validation.FieldErrors
	switch {
	case errors.As(err, &fields):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "validation failed", Fields: fields, Offline: isOffline()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Error: "not found", Offline: isOffline()})
	case errors.Is(err, orchestrators.ErrLocalStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: "offline storage unavailable", Offline: true})
	case errors.Is(err, orchestrators.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, envelope{Error: err.Error(), Offline: isOffline()})
	case remote.IsTerminal(err):
		var re *remote.Error
		errors.As(err, &re)
		status := re.StatusCode
		if re.Rejected || status < 400 {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, envelope{Error: re.Message, Offline: isOffline()})
	case remote.StatusCode(err) != 0 || remote.IsUnreachable(err):
		slog.Warn("remote_unavailable", "error", err)
		writeJSON(w, http.StatusBadGateway, envelope{Error: "server unavailable", Offline: isOffline()})
	default:
		internalError(w, err)
	}
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, envelope{Error: msg, Offline: isOffline()})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if app.Monitor != nil {
		state = app.Monitor.State().String()
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Offline: isOffline(), Data: map[string]any{
		"status":       "ok",
		"localStore":   app.Local != nil,
		"connectivity": state,
	}})
}

// --- Members ---

func handleListMembers(w http.ResponseWriter, r *http.Request) {
	lp := listutil.ParseListParams(r.URL.Query(), projections.MemberListSortColumns, projections.MemberListFilterKeys)
	result, err := projections.QueryGetMemberList(r.Context(),
		projections.GetMemberListQuery{ListParams: lp},
		projections.GetMemberListDeps{Members: app.Facade},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRead(w, result, result.ReadMeta)
}

func handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := app.Facade.GetMember(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: m, Offline: isOffline()})
}

func handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var m member.Member
	if err := strictDecode(r, &m); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	saved, err := app.Facade.SaveMember(r.Context(), m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, http.StatusCreated, saved)
}

func handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var changes member.Changes
	if err := strictDecode(r, &changes); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	updated, err := app.Facade.UpdateMember(r.Context(), r.PathValue("id"), changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, http.StatusOK, updated)
}

func handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	if err := app.Facade.DeleteMember(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, http.StatusOK, nil)
}

// --- Services ---

func handleListServices(w http.ResponseWriter, r *http.Request) {
	list, err := app.Facade.ListServices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeRead(w, list.Services, list.ReadMeta)
}

type createServiceRequest struct {
	Date string `json:"data"`
	Slot string `json:"horario"`
}

func handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := strictDecode(r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	s, err := app.Facade.CreateService(r.Context(), req.Date, req.Slot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, http.StatusCreated, s)
}

// --- Attendance ---

func handleListAttendance(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("serviceId")
	if serviceID == "" {
		badRequest(w, "serviceId is required")
		return
	}
	list, err := app.Facade.ListAttendance(r.Context(), serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRead(w, list, list.ReadMeta)
}

func handleAttendanceSheet(w http.ResponseWriter, r *http.Request) {
	result, err := projections.QueryGetAttendanceSheet(r.Context(),
		projections.GetAttendanceSheetQuery{ServiceID: r.URL.Query().Get("serviceId")},
		projections.GetAttendanceSheetDeps{Source: app.Facade},
	)
	if errors.Is(err, projections.ErrServiceRequired) {
		badRequest(w, "serviceId is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeRead(w, result, result.ReadMeta)
}

type attendanceRequest struct {
	MemberID  string `json:"membroId"`
	ServiceID string `json:"cultoId"`
	Present   *bool  `json:"presente,omitempty"`
}

// decodeAttendance reads a JSON body or, for plain form posts, form fields.
func decodeAttendance(r *http.Request) (attendanceRequest, error) {
	var req attendanceRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.MemberID = r.FormValue("membroId")
		req.ServiceID = r.FormValue("cultoId")
		return req, nil
	}
	err := strictDecode(r, &req)
	return req, err
}

func handleSetAttendance(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAttendance(r)
	if err != nil {
		badRequest(w, "invalid body")
		return
	}
	if req.Present == nil {
		badRequest(w, "presente is required")
		return
	}
	mark, err := app.Facade.SetPresence(r.Context(), req.MemberID, req.ServiceID, *req.Present)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, http.StatusOK, mark)
}

func handleToggleAttendance(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAttendance(r)
	if err != nil {
		badRequest(w, "invalid body")
		return
	}
	mark, err := app.Facade.TogglePresence(r.Context(), req.MemberID, req.ServiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWrite(w, http.StatusOK, mark)
}

// --- Sync ---

func syncStatus(ctx context.Context) (projections.GetSyncStatusResult, error) {
	if app.Local == nil {
		return projections.GetSyncStatusResult{}, orchestrators.ErrLocalStoreUnavailable
	}
	deps := projections.GetSyncStatusDeps{
		Queue:    app.Local.Queue,
		SyncMeta: app.Local.SyncMeta,
		Cycles:   app.Reconciler,
	}
	if app.Monitor != nil {
		deps.Connectivity = app.Monitor
	}
	return projections.QueryGetSyncStatus(ctx, deps)
}

func handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := syncStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: status, Offline: isOffline()})
}

func handleRunSync(w http.ResponseWriter, r *http.Request) {
	result, err := app.Reconciler.RunCycle(r.Context())
	if errors.Is(err, orchestrators.ErrSyncInProgress) {
		writeError(w, err)
		return
	}
	body := envelope{Success: err == nil, Data: result, Offline: isOffline()}
	if err != nil {
		slog.Warn("sync_requested_failed", "error", err)
		body.Error = "sync incomplete"
	}
	writeJSON(w, http.StatusOK, body)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

// handleConnectivity lets the UI report online/offline edges it observes.
func handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := strictDecode(r, &req); err != nil || req.Online == nil {
		badRequest(w, "online is required")
		return
	}
	changed := app.Monitor.Set(*req.Online)
	writeJSON(w, http.StatusOK, envelope{Success: true, Offline: isOffline(), Data: map[string]any{
		"connectivity": app.Monitor.State().String(),
		"changed":      changed,
	}})
}

func handleStatusStream(w http.ResponseWriter, r *http.Request) {
	if app.Hub == nil {
		writeJSON(w, http.StatusNotFound, envelope{Error: "status stream disabled", Offline: isOffline()})
		return
	}
	hello := Event{}
	if app.Monitor != nil {
		hello.Connectivity = app.Monitor.State().String()
	}
	if status, err := syncStatus(r.Context()); err == nil {
		hello.Status = &status
	}
	if err := app.Hub.Accept(w, r, hello); err != nil {
		slog.Warn("status_stream_accept_failed", "error", err)
	}
}

func handlePerf(w http.ResponseWriter, r *http.Request) {
	if perfCollector == nil {
		writeJSON(w, http.StatusNotFound, envelope{Error: "perf collection disabled", Offline: isOffline()})
		return
	}
	snap := perfCollector.Snapshot(time.Now().Add(-perfWindow), 10)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: snap, Offline: isOffline()})
}
