package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/revolutedigital/igreja-betania/internal/adapters/remote"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/pendingaction"
	"github.com/revolutedigital/igreja-betania/internal/domain/service"
)

// memberUpdate is the queued payload of a member update: the id plus the
// partial changes, flattened into one object.
type memberUpdate struct {
	ID string `json:"id"`
	member.Changes
}

// idPayload is the queued payload of deletes keyed by id.
type idPayload struct {
	ID string `json:"id"`
}

type replayKey struct {
	kind   pendingaction.Kind
	entity pendingaction.Entity
}

// replayFunc applies one queued action remotely. rest holds the actions
// queued after it; a create that is assigned a new id rewrites them.
// It returns the entity key the action ends up concerning.
type replayFunc func(ctx context.Context, r *Reconciler, a pendingaction.Action, rest []pendingaction.Action) (string, error)

// replayers maps (kind, entity) to the remote operation. Service updates and
// deletes have no remote endpoint and are skipped.
var replayers = map[replayKey]replayFunc{
	{pendingaction.KindCreate, pendingaction.EntityMember}:     replayCreateMember,
	{pendingaction.KindUpdate, pendingaction.EntityMember}:     replayUpdateMember,
	{pendingaction.KindDelete, pendingaction.EntityMember}:     replayDeleteMember,
	{pendingaction.KindCreate, pendingaction.EntityService}:    replayCreateService,
	{pendingaction.KindCreate, pendingaction.EntityAttendance}: replayUpsertAttendance,
	{pendingaction.KindUpdate, pendingaction.EntityAttendance}: replayUpsertAttendance,
	{pendingaction.KindDelete, pendingaction.EntityAttendance}: replayDeleteAttendance,
}

func decodePayload(a pendingaction.Action, v any) error {
	if err := json.Unmarshal(a.Payload, v); err != nil {
		// A payload that cannot be decoded will never replay.
		return &remote.Error{Method: "replay", Path: string(a.Entity), StatusCode: http.StatusUnprocessableEntity,
			Message: fmt.Sprintf("decode payload of %s: %v", a, err)}
	}
	return nil
}

// isNotFound reports a 404 from the remote API. Deletes treat it as done.
func isNotFound(err error) bool {
	return remote.StatusCode(err) == http.StatusNotFound
}

func replayCreateMember(ctx context.Context, r *Reconciler, a pendingaction.Action, rest []pendingaction.Action) (string, error) {
	var m member.Member
	if err := decodePayload(a, &m); err != nil {
		return "", err
	}
	created, err := r.remote.CreateMember(ctx, m)
	if err != nil {
		return "", err
	}
	if created.ID == "" || created.ID == m.ID {
		return a.EntityKey, nil
	}
	return r.remapMember(ctx, m.ID, created.ID, rest)
}

func replayUpdateMember(ctx context.Context, r *Reconciler, a pendingaction.Action, _ []pendingaction.Action) (string, error) {
	var u memberUpdate
	if err := decodePayload(a, &u); err != nil {
		return "", err
	}
	_, err := r.remote.UpdateMember(ctx, u.ID, u.Changes)
	return a.EntityKey, err
}

func replayDeleteMember(ctx context.Context, r *Reconciler, a pendingaction.Action, _ []pendingaction.Action) (string, error) {
	var p idPayload
	if err := decodePayload(a, &p); err != nil {
		return "", err
	}
	if err := r.remote.DeleteMember(ctx, p.ID); err != nil && !isNotFound(err) {
		return "", err
	}
	return a.EntityKey, nil
}

func replayCreateService(ctx context.Context, r *Reconciler, a pendingaction.Action, rest []pendingaction.Action) (string, error) {
	var s service.Service
	if err := decodePayload(a, &s); err != nil {
		return "", err
	}
	created, err := r.remote.CreateService(ctx, s)
	if err != nil {
		return "", err
	}
	if created.ID == "" || created.ID == s.ID {
		return a.EntityKey, nil
	}
	return r.remapService(ctx, s.ID, created.ID, rest)
}

func replayUpsertAttendance(ctx context.Context, r *Reconciler, a pendingaction.Action, _ []pendingaction.Action) (string, error) {
	var u attendance.Upsert
	if err := decodePayload(a, &u); err != nil {
		return "", err
	}
	_, err := r.remote.UpsertAttendance(ctx, u)
	return a.EntityKey, err
}

func replayDeleteAttendance(ctx context.Context, r *Reconciler, a pendingaction.Action, _ []pendingaction.Action) (string, error) {
	var p attendance.Pair
	if err := decodePayload(a, &p); err != nil {
		return "", err
	}
	if err := r.remote.DeleteAttendance(ctx, p.MemberID, p.ServiceID); err != nil && !isNotFound(err) {
		return "", err
	}
	return a.EntityKey, nil
}

// remapMember moves a member created offline onto the id the remote API
// assigned: the cached row, its attendance marks, and every later queued
// action that names the provisional id.
func (r *Reconciler) remapMember(ctx context.Context, oldID, newID string, rest []pendingaction.Action) (string, error) {
	local := r.local
	m, err := local.Members.GetByID(ctx, oldID)
	switch {
	case err == nil:
		m.ID = newID
		if err := local.Members.Save(ctx, m); err != nil {
			return "", fmt.Errorf("save remapped member: %w", err)
		}
		if err := local.Members.Delete(ctx, oldID); err != nil {
			return "", fmt.Errorf("drop provisional member: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return "", err
	}
	if _, err := local.Attendance.RemapMember(ctx, oldID, newID); err != nil {
		return "", err
	}
	if err := r.rewriteQueued(ctx, rest, oldID, newID, map[pendingaction.Entity]string{
		pendingaction.EntityMember:     "id",
		pendingaction.EntityAttendance: "membroId",
	}); err != nil {
		return "", err
	}
	slog.Info("pending_member_remapped", "old_id", oldID, "new_id", newID)
	return string(pendingaction.EntityMember) + ":" + newID, nil
}

// remapService is remapMember for services; marks move by cultoId.
func (r *Reconciler) remapService(ctx context.Context, oldID, newID string, rest []pendingaction.Action) (string, error) {
	local := r.local
	s, err := local.Services.GetByID(ctx, oldID)
	switch {
	case err == nil:
		s.ID = newID
		if err := local.Services.Save(ctx, s); err != nil {
			return "", fmt.Errorf("save remapped service: %w", err)
		}
		if err := local.Services.Delete(ctx, oldID); err != nil {
			return "", fmt.Errorf("drop provisional service: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return "", err
	}
	if _, err := local.Attendance.RemapService(ctx, oldID, newID); err != nil {
		return "", err
	}
	if err := r.rewriteQueued(ctx, rest, oldID, newID, map[pendingaction.Entity]string{
		pendingaction.EntityService:    "id",
		pendingaction.EntityAttendance: "cultoId",
	}); err != nil {
		return "", err
	}
	slog.Info("pending_service_remapped", "old_id", oldID, "new_id", newID)
	return string(pendingaction.EntityService) + ":" + newID, nil
}

// rewriteQueued replaces oldID with newID in the given payload field of each
// action, both in the queue and in the in-memory batch being drained.
func (r *Reconciler) rewriteQueued(ctx context.Context, rest []pendingaction.Action, oldID, newID string, fields map[pendingaction.Entity]string) error {
	for i := range rest {
		field, ok := fields[rest[i].Entity]
		if !ok {
			continue
		}
		payload, changed, err := replaceField(rest[i].Payload, field, oldID, newID)
		if err != nil || !changed {
			continue
		}
		key, err := pendingaction.KeyFor(rest[i].Entity, payload)
		if err != nil {
			continue
		}
		if err := r.local.Queue.UpdatePayload(ctx, rest[i].ID, payload, key); err != nil {
			return fmt.Errorf("rewrite pending action %d: %w", rest[i].ID, err)
		}
		rest[i].Payload = payload
		rest[i].EntityKey = key
	}
	return nil
}

// replaceField sets payload[field] to newID when it currently equals oldID.
func replaceField(payload json.RawMessage, field, oldID, newID string) (json.RawMessage, bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload, false, err
	}
	var current string
	if raw, ok := doc[field]; !ok || json.Unmarshal(raw, &current) != nil || current != oldID {
		return payload, false, nil
	}
	encoded, err := json.Marshal(newID)
	if err != nil {
		return payload, false, err
	}
	doc[field] = encoded
	out, err := json.Marshal(doc)
	if err != nil {
		return payload, false, err
	}
	return out, true, nil
}
