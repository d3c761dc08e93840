package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage/localstore"
	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/pendingaction"
	"github.com/revolutedigital/igreja-betania/internal/domain/service"
)

// ErrLocalStoreUnavailable is returned by offline writes when the process
// runs without a local store.
var ErrLocalStoreUnavailable = errors.New("local store unavailable")

// mirrorTimeout bounds a background mirror started by a read.
const mirrorTimeout = 30 * time.Second

// Source says where a read was served from.
type Source string

// Read sources.
const (
	SourceRemote      Source = "remote"
	SourceLocal       Source = "local"
	SourceUnavailable Source = "unavailable"
)

// ReadMeta describes how a read was served.
type ReadMeta struct {
	Source Source `json:"source"`
	// Fallback is set when the remote read failed and cached data was used.
	Fallback bool `json:"fallback,omitempty"`
	// Degraded is set when the local store could not serve the read.
	Degraded bool `json:"degraded,omitempty"`
}

// Offline reports whether the caller is looking at cached data.
func (m ReadMeta) Offline() bool {
	return m.Source != SourceRemote
}

// MemberList is the result of ListMembers.
type MemberList struct {
	Members []member.Member `json:"members"`
	ReadMeta
}

// ServiceList is the result of ListServices.
type ServiceList struct {
	Services []service.Service `json:"services"`
	ReadMeta
}

// AttendanceList is the result of ListAttendance.
type AttendanceList struct {
	ServiceID string            `json:"serviceId"`
	Marks     []attendance.Mark `json:"marks"`
	ReadMeta
}

// FacadeDeps holds dependencies for the Facade.
type FacadeDeps struct {
	Local        *localstore.Local // nil runs remote-only
	Remote       RemoteAPI
	Connectivity Connectivity
	GenerateID   func() string
	Now          func() time.Time
	// OnQueued runs after an action is queued while online, so the
	// reconciler can replay it without waiting for a reconnect.
	OnQueued func()
}

// Facade is the single read/write entry point for UI code. Each call goes
// to the remote API when online and to the local store and queue otherwise.
type Facade struct {
	local      *localstore.Local
	remote     RemoteAPI
	conn       Connectivity
	generateID func() string
	now        func() time.Time
	onQueued   func()

	board *attendanceBoard
	wg    sync.WaitGroup
}

// NewFacade creates a Facade.
// PRE: deps.Remote and deps.Connectivity are set
// POST: Returns a ready facade; call Close on shutdown
func NewFacade(deps FacadeDeps) *Facade {
	f := &Facade{
		local:      deps.Local,
		remote:     deps.Remote,
		conn:       deps.Connectivity,
		generateID: deps.GenerateID,
		now:        deps.Now,
		onQueued:   deps.OnQueued,
		board:      newAttendanceBoard(),
	}
	if f.generateID == nil {
		f.generateID = uuid.NewString
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Close waits for background mirrors to finish.
func (f *Facade) Close() {
	f.wg.Wait()
}

// HasLocalStore reports whether offline operation is possible.
func (f *Facade) HasLocalStore() bool {
	return f.local != nil
}

// mirror persists remote data without blocking the read that fetched it.
func (f *Facade) mirror(resource string, fn func(ctx context.Context) (storage.MirrorResult, error)) {
	if f.local == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		res, err := fn(ctx)
		if err != nil {
			slog.Warn("cache_mirror_failed", "resource", resource, "error", err)
			return
		}
		slog.Debug("cache_mirrored", "resource", resource, "written", res.Written, "skipped", res.Skipped, "pruned", res.Pruned)
	}()
}

// --- Reads ---

// ListMembers returns all members.
// PRE: none
// POST: online success mirrors in the background; a failed remote read falls
// back to the cache with Fallback set; cache failures yield a Degraded result
func (f *Facade) ListMembers(ctx context.Context) (MemberList, error) {
	if f.conn.Online() {
		members, err := f.remote.ListMembers(ctx)
		if err == nil {
			now := f.now()
			f.mirror("members", func(ctx context.Context) (storage.MirrorResult, error) {
				return f.local.Members.Mirror(ctx, members, now)
			})
			return MemberList{Members: members, ReadMeta: ReadMeta{Source: SourceRemote}}, nil
		}
		slog.Warn("remote_read_failed", "resource", "members", "error", err)
		if f.local == nil {
			return MemberList{ReadMeta: ReadMeta{Source: SourceUnavailable, Fallback: true, Degraded: true}}, err
		}
		list := f.localMembers(ctx)
		list.Fallback = true
		return list, nil
	}
	return f.localMembers(ctx), nil
}

func (f *Facade) localMembers(ctx context.Context) MemberList {
	if f.local == nil {
		return MemberList{ReadMeta: ReadMeta{Source: SourceUnavailable, Degraded: true}}
	}
	members, err := f.local.Members.List(ctx)
	if err != nil {
		slog.Error("cache_read_failed", "resource", "members", "error", err)
		return MemberList{ReadMeta: ReadMeta{Source: SourceUnavailable, Degraded: true}}
	}
	return MemberList{Members: members, ReadMeta: ReadMeta{Source: SourceLocal}}
}

// ListServices returns all services, newest first when read from the cache.
func (f *Facade) ListServices(ctx context.Context) (ServiceList, error) {
	if f.conn.Online() {
		services, err := f.remote.ListServices(ctx)
		if err == nil {
			now := f.now()
			f.mirror("services", func(ctx context.Context) (storage.MirrorResult, error) {
				return f.local.Services.Mirror(ctx, services, now)
			})
			return ServiceList{Services: services, ReadMeta: ReadMeta{Source: SourceRemote}}, nil
		}
		slog.Warn("remote_read_failed", "resource", "services", "error", err)
		if f.local == nil {
			return ServiceList{ReadMeta: ReadMeta{Source: SourceUnavailable, Fallback: true, Degraded: true}}, err
		}
		list := f.localServices(ctx)
		list.Fallback = true
		return list, nil
	}
	return f.localServices(ctx), nil
}

func (f *Facade) localServices(ctx context.Context) ServiceList {
	if f.local == nil {
		return ServiceList{ReadMeta: ReadMeta{Source: SourceUnavailable, Degraded: true}}
	}
	services, err := f.local.Services.List(ctx)
	if err != nil {
		slog.Error("cache_read_failed", "resource", "services", "error", err)
		return ServiceList{ReadMeta: ReadMeta{Source: SourceUnavailable, Degraded: true}}
	}
	return ServiceList{Services: services, ReadMeta: ReadMeta{Source: SourceLocal}}
}

// ListAttendance returns the marks of one service and reloads its board.
func (f *Facade) ListAttendance(ctx context.Context, serviceID string) (AttendanceList, error) {
	if serviceID == "" {
		return AttendanceList{}, errors.New("service id is required")
	}
	list := AttendanceList{ServiceID: serviceID}

	if f.conn.Online() {
		marks, err := f.remote.ListAttendance(ctx, serviceID)
		if err == nil {
			now := f.now()
			f.mirror("attendance", func(ctx context.Context) (storage.MirrorResult, error) {
				return f.local.Attendance.MirrorService(ctx, serviceID, marks, now)
			})
			list.Marks = marks
			list.Source = SourceRemote
			f.loadBoard(serviceID, marks)
			return list, nil
		}
		slog.Warn("remote_read_failed", "resource", "attendance", "service_id", serviceID, "error", err)
		if f.local == nil {
			list.ReadMeta = ReadMeta{Source: SourceUnavailable, Fallback: true, Degraded: true}
			return list, err
		}
		list.Fallback = true
	}

	if f.local == nil {
		list.Source, list.Degraded = SourceUnavailable, true
		return list, nil
	}
	marks, err := f.local.Attendance.ListByService(ctx, serviceID)
	if err != nil {
		slog.Error("cache_read_failed", "resource", "attendance", "service_id", serviceID, "error", err)
		list.Source, list.Degraded = SourceUnavailable, true
		return list, nil
	}
	list.Marks = marks
	list.Source = SourceLocal
	f.loadBoard(serviceID, marks)
	return list, nil
}

func (f *Facade) loadBoard(serviceID string, marks []attendance.Mark) {
	present := make(map[string]bool, len(marks))
	for _, m := range marks {
		present[m.MemberID] = m.Present
	}
	f.board.replace(serviceID, present)
}

// Board returns who is currently shown as present at a service.
func (f *Facade) Board(serviceID string) map[string]bool {
	return f.board.snapshot(serviceID)
}

// GetMember returns one member from the cache, or from the remote list when
// the cache does not have it and the remote API is reachable.
func (f *Facade) GetMember(ctx context.Context, id string) (member.Member, error) {
	if id == "" {
		return member.Member{}, member.ErrEmptyID
	}
	if f.local != nil {
		m, err := f.local.Members.GetByID(ctx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("cache_read_failed", "resource", "member", "id", id, "error", err)
		}
	}
	if !f.conn.Online() {
		if f.local == nil {
			return member.Member{}, ErrLocalStoreUnavailable
		}
		return member.Member{}, fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	members, err := f.remote.ListMembers(ctx)
	if err != nil {
		return member.Member{}, err
	}
	for _, m := range members {
		if m.ID == id {
			return m, nil
		}
	}
	return member.Member{}, fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
}

// --- Attendance writes ---

// TogglePresence flips a member's presence at a service. The current value
// comes from the cached mark; no mark means not present.
// PRE: memberID and serviceID are non-empty
// POST: Returns the resulting mark, or an error with the board restored
func (f *Facade) TogglePresence(ctx context.Context, memberID, serviceID string) (attendance.Mark, error) {
	current := f.currentPresence(ctx, memberID, serviceID)
	return f.SetPresence(ctx, memberID, serviceID, !current)
}

func (f *Facade) currentPresence(ctx context.Context, memberID, serviceID string) bool {
	if f.local != nil {
		m, err := f.local.Attendance.GetByPair(ctx, memberID, serviceID)
		if err == nil {
			return m.Present
		}
		if errors.Is(err, storage.ErrNotFound) {
			return false
		}
		slog.Warn("cache_read_failed", "resource", "attendance", "key", attendance.PairKey(memberID, serviceID), "error", err)
	}
	present, _ := f.board.get(serviceID, memberID)
	return present
}

// SetPresence records whether a member attended a service. Marking absent
// removes the mark.
// PRE: memberID and serviceID are non-empty
// POST: online: the remote API holds the value and the cache follows it;
// offline: the cache holds the value and one action is queued
// INVARIANT: a write for a pair, member or service with queued actions is
// queued behind them, online or not
func (f *Facade) SetPresence(ctx context.Context, memberID, serviceID string, present bool) (attendance.Mark, error) {
	mark := attendance.Mark{MemberID: memberID, ServiceID: serviceID, Present: present}
	if err := mark.Validate(); err != nil {
		return attendance.Mark{}, err
	}

	prev, had := f.board.set(serviceID, memberID, present)
	var err error
	if f.writeOnline(ctx,
		string(pendingaction.EntityAttendance)+":"+mark.Key(),
		string(pendingaction.EntityMember)+":"+memberID,
		string(pendingaction.EntityService)+":"+serviceID,
	) {
		mark, err = f.setPresenceRemote(ctx, mark)
	} else {
		mark, err = f.setPresenceLocal(ctx, mark)
	}
	if err != nil {
		f.board.restore(serviceID, memberID, prev, had)
		slog.Warn("presence_write_reverted", "member_id", memberID, "service_id", serviceID, "present", present, "error", err)
		return attendance.Mark{}, err
	}
	return mark, nil
}

func (f *Facade) setPresenceRemote(ctx context.Context, mark attendance.Mark) (attendance.Mark, error) {
	now := f.now()
	if !mark.Present {
		if err := f.remote.DeleteAttendance(ctx, mark.MemberID, mark.ServiceID); err != nil && !isNotFound(err) {
			return attendance.Mark{}, err
		}
		if f.local != nil {
			if err := f.local.Attendance.DeleteByPair(ctx, mark.MemberID, mark.ServiceID); err != nil {
				slog.Warn("cache_write_failed", "resource", "attendance", "key", mark.Key(), "error", err)
			}
		}
		return mark, nil
	}

	saved, err := f.remote.UpsertAttendance(ctx, attendance.Upsert{MemberID: mark.MemberID, ServiceID: mark.ServiceID, Present: true})
	if err != nil {
		return attendance.Mark{}, err
	}
	if saved.MemberID == "" {
		saved.MemberID, saved.ServiceID, saved.Present = mark.MemberID, mark.ServiceID, true
	}
	if saved.ID == "" {
		saved.ID = attendance.LocalID(mark.MemberID, mark.ServiceID, now)
	}
	saved.SyncedAt = now
	if f.local != nil {
		saved.PendingSync = f.stillQueued(ctx, string(pendingaction.EntityAttendance)+":"+saved.Key())
		if err := f.local.Attendance.Save(ctx, saved); err != nil {
			slog.Warn("cache_write_failed", "resource", "attendance", "key", saved.Key(), "error", err)
		}
	}
	return saved, nil
}

func (f *Facade) setPresenceLocal(ctx context.Context, mark attendance.Mark) (attendance.Mark, error) {
	if f.local == nil {
		return attendance.Mark{}, ErrLocalStoreUnavailable
	}
	store := f.local.Attendance
	previous, prevErr := store.GetByPair(ctx, mark.MemberID, mark.ServiceID)
	if prevErr != nil && !errors.Is(prevErr, storage.ErrNotFound) {
		return attendance.Mark{}, fmt.Errorf("read cached mark: %w", prevErr)
	}
	hadPrevious := prevErr == nil

	var (
		kind    pendingaction.Kind
		payload json.RawMessage
		err     error
	)
	if mark.Present {
		mark.ID = attendance.LocalID(mark.MemberID, mark.ServiceID, f.now())
		mark.PendingSync = true
		if err := store.Save(ctx, mark); err != nil {
			return attendance.Mark{}, fmt.Errorf("cache mark: %w", err)
		}
		kind = pendingaction.KindCreate
		payload, err = mark.UpsertPayload()
	} else {
		if err := store.DeleteByPair(ctx, mark.MemberID, mark.ServiceID); err != nil {
			return attendance.Mark{}, fmt.Errorf("remove cached mark: %w", err)
		}
		kind = pendingaction.KindDelete
		payload, err = json.Marshal(attendance.Pair{MemberID: mark.MemberID, ServiceID: mark.ServiceID})
	}

	if err == nil {
		err = f.enqueue(ctx, kind, pendingaction.EntityAttendance, payload)
	}
	if err != nil {
		// Put the cache back the way it was.
		if hadPrevious {
			_ = store.Save(ctx, previous)
		} else {
			_ = store.DeleteByPair(ctx, mark.MemberID, mark.ServiceID)
		}
		return attendance.Mark{}, err
	}
	return mark, nil
}

// --- Member writes ---

// SaveMember registers a new member.
// PRE: m passes Validate
// POST: online: created remotely and cached; offline: cached with
// PendingSync=true under a local id and a create is queued
func (f *Facade) SaveMember(ctx context.Context, m member.Member) (member.Member, error) {
	if err := m.Validate(); err != nil {
		return member.Member{}, err
	}

	if f.conn.Online() {
		created, err := f.remote.CreateMember(ctx, m)
		if err != nil {
			return member.Member{}, err
		}
		f.cacheMember(ctx, created)
		return created, nil
	}

	if f.local == nil {
		return member.Member{}, ErrLocalStoreUnavailable
	}
	if m.ID == "" {
		m.ID = f.generateID()
	}
	m.PendingSync = true
	m.SyncedAt = time.Time{}
	if err := f.local.Members.Save(ctx, m); err != nil {
		return member.Member{}, fmt.Errorf("cache member: %w", err)
	}
	payload, err := m.Payload()
	if err == nil {
		err = f.enqueue(ctx, pendingaction.KindCreate, pendingaction.EntityMember, payload)
	}
	if err != nil {
		_ = f.local.Members.Delete(ctx, m.ID)
		return member.Member{}, err
	}
	return m, nil
}

// UpdateMember applies a partial update.
// PRE: id is non-empty
// POST: online: updated remotely and cached; offline, or behind queued
// changes to the member: merged into the cached record with PendingSync=true
// and an update is queued
func (f *Facade) UpdateMember(ctx context.Context, id string, changes member.Changes) (member.Member, error) {
	if id == "" {
		return member.Member{}, member.ErrEmptyID
	}

	if f.writeOnline(ctx, string(pendingaction.EntityMember)+":"+id) {
		updated, err := f.remote.UpdateMember(ctx, id, changes)
		if err != nil {
			return member.Member{}, err
		}
		if updated.ID == "" {
			updated.ID = id
		}
		f.cacheMember(ctx, updated)
		return updated, nil
	}

	if f.local == nil {
		return member.Member{}, ErrLocalStoreUnavailable
	}
	previous, err := f.local.Members.GetByID(ctx, id)
	if err != nil {
		return member.Member{}, err
	}
	m := previous
	changes.Apply(&m)
	if err := m.Validate(); err != nil {
		return member.Member{}, err
	}
	m.PendingSync = true
	if err := f.local.Members.Save(ctx, m); err != nil {
		return member.Member{}, fmt.Errorf("cache member: %w", err)
	}
	payload, err := json.Marshal(memberUpdate{ID: id, Changes: changes})
	if err == nil {
		err = f.enqueue(ctx, pendingaction.KindUpdate, pendingaction.EntityMember, payload)
	}
	if err != nil {
		_ = f.local.Members.Save(ctx, previous)
		return member.Member{}, err
	}
	return m, nil
}

// DeleteMember removes a member.
// PRE: id is non-empty
// POST: online: deleted remotely and from the cache; offline, or behind
// queued changes to the member: deleted from the cache and a delete is queued
func (f *Facade) DeleteMember(ctx context.Context, id string) error {
	if id == "" {
		return member.ErrEmptyID
	}

	if f.writeOnline(ctx, string(pendingaction.EntityMember)+":"+id) {
		if err := f.remote.DeleteMember(ctx, id); err != nil {
			return err
		}
		if f.local != nil {
			if err := f.local.Members.Delete(ctx, id); err != nil {
				slog.Warn("cache_write_failed", "resource", "member", "id", id, "error", err)
			}
		}
		return nil
	}

	if f.local == nil {
		return ErrLocalStoreUnavailable
	}
	previous, prevErr := f.local.Members.GetByID(ctx, id)
	if prevErr != nil && !errors.Is(prevErr, storage.ErrNotFound) {
		return prevErr
	}
	if err := f.local.Members.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove cached member: %w", err)
	}
	payload, err := json.Marshal(idPayload{ID: id})
	if err == nil {
		err = f.enqueue(ctx, pendingaction.KindDelete, pendingaction.EntityMember, payload)
	}
	if err != nil {
		if prevErr == nil {
			_ = f.local.Members.Save(ctx, previous)
		}
		return err
	}
	return nil
}

func (f *Facade) cacheMember(ctx context.Context, m member.Member) {
	if f.local == nil || m.ID == "" {
		return
	}
	m.SyncedAt = f.now()
	m.PendingSync = f.stillQueued(ctx, string(pendingaction.EntityMember)+":"+m.ID)
	if err := f.local.Members.Save(ctx, m); err != nil {
		slog.Warn("cache_write_failed", "resource", "member", "id", m.ID, "error", err)
	}
}

// --- Service writes ---

// CreateService returns the service for a date and slot, creating it when
// needed. Offline, an existing cached occurrence is reused.
// PRE: date is YYYY-MM-DD; slot is one of service.Slots
// POST: at most one cached service exists per (date, slot) created here
func (f *Facade) CreateService(ctx context.Context, date, slot string) (service.Service, error) {
	s := service.Service{Date: strings.TrimSpace(date), Slot: slot}
	if err := s.Validate(); err != nil {
		return service.Service{}, err
	}

	if f.conn.Online() {
		created, err := f.remote.CreateService(ctx, s)
		if err != nil {
			return service.Service{}, err
		}
		if f.local != nil && created.ID != "" {
			created.SyncedAt = f.now()
			created.PendingSync = f.stillQueued(ctx, string(pendingaction.EntityService)+":"+created.ID)
			if err := f.local.Services.Save(ctx, created); err != nil {
				slog.Warn("cache_write_failed", "resource", "service", "id", created.ID, "error", err)
			}
		}
		return created, nil
	}

	if f.local == nil {
		return service.Service{}, ErrLocalStoreUnavailable
	}
	existing, err := f.local.Services.FindOccurrence(ctx, s.Date, s.Slot)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return service.Service{}, fmt.Errorf("find cached service: %w", err)
	}

	s.ID = f.generateID()
	s.PendingSync = true
	if err := f.local.Services.Save(ctx, s); err != nil {
		return service.Service{}, fmt.Errorf("cache service: %w", err)
	}
	payload, err := s.Payload()
	if err == nil {
		err = f.enqueue(ctx, pendingaction.KindCreate, pendingaction.EntityService, payload)
	}
	if err != nil {
		_ = f.local.Services.Delete(ctx, s.ID)
		return service.Service{}, err
	}
	return s, nil
}

// --- Queue helpers ---

func (f *Facade) enqueue(ctx context.Context, kind pendingaction.Kind, entity pendingaction.Entity, payload json.RawMessage) error {
	a, err := pendingaction.New(kind, entity, payload, f.now())
	if err != nil {
		return err
	}
	id, err := f.local.Queue.Enqueue(ctx, a)
	if err != nil {
		return fmt.Errorf("queue %s %s: %w", kind, entity, err)
	}
	slog.Info("pending_action_queued", "action_id", id, "kind", kind, "entity", entity, "key", a.EntityKey)
	if f.onQueued != nil && f.conn.Online() {
		f.onQueued()
	}
	return nil
}

// writeOnline reports whether a write may go straight to the remote API.
// It may not while offline, nor while any of keys has queued actions that
// the remote API has yet to see.
func (f *Facade) writeOnline(ctx context.Context, keys ...string) bool {
	if !f.conn.Online() {
		return false
	}
	if f.local == nil {
		return true
	}
	for _, key := range keys {
		if f.stillQueued(ctx, key) {
			slog.Info("online_write_queued", "behind", key)
			return false
		}
	}
	return true
}

// stillQueued reports whether offline changes to key are still waiting.
func (f *Facade) stillQueued(ctx context.Context, key string) bool {
	n, err := f.local.Queue.CountByKey(ctx, key)
	return err == nil && n > 0
}
