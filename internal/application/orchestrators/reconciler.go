package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/connectivity"
	"github.com/revolutedigital/igreja-betania/internal/adapters/remote"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage/localstore"
	"github.com/revolutedigital/igreja-betania/internal/domain/pendingaction"
)

// ErrSyncInProgress is returned when a drain or cycle is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// notifyTimeout bounds one discard notice.
const notifyTimeout = 15 * time.Second

// DrainResult counts the outcome of one pass over the queue.
type DrainResult struct {
	Applied   int `json:"applied"`
	Failed    int `json:"failed"`    // failed attempts, including discards of exhausted actions
	Discarded int `json:"discarded"` // removed without reaching the remote API
	Deferred  int `json:"deferred"`  // held back behind an earlier failure for the same or a parent record
	Skipped   int `json:"skipped"`   // no remote operation for the (kind, entity) pair
}

// RefreshResult summarizes the mirrors written by RefreshFromRemote.
type RefreshResult struct {
	Members  storage.MirrorResult `json:"members"`
	Services storage.MirrorResult `json:"services"`
}

// CycleResult is one reconciliation cycle: a drain followed by a refresh.
type CycleResult struct {
	Drain      DrainResult   `json:"drain"`
	Refresh    RefreshResult `json:"refresh"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// CycleListener observes completed cycles.
type CycleListener func(CycleResult, error)

// ReconcilerDeps holds dependencies for the Reconciler.
type ReconcilerDeps struct {
	Local        *localstore.Local // nil in remote-only mode
	Remote       RemoteAPI
	Connectivity Connectivity
	Notifier     DiscardNotifier // defaults to LogNotifier
	MaxRetries   int             // defaults to pendingaction.DefaultMaxRetries
	Now          func() time.Time
}

// Reconciler replays queued actions against the remote API and refreshes the
// cached reference data.
type Reconciler struct {
	local      *localstore.Local
	remote     RemoteAPI
	conn       Connectivity
	notifier   DiscardNotifier
	maxRetries int
	now        func() time.Time

	drainMu sync.Mutex

	cycleMu   sync.Mutex
	inFlight  bool
	rerun     bool
	lastCycle CycleResult
	lastErr   error
	nextID    int
	listeners map[int]CycleListener

	wg sync.WaitGroup
}

// NewReconciler creates a Reconciler.
// PRE: deps.Remote and deps.Connectivity are set
// POST: Returns an idle reconciler; nothing runs until Start or RunCycle
func NewReconciler(deps ReconcilerDeps) *Reconciler {
	r := &Reconciler{
		local:      deps.Local,
		remote:     deps.Remote,
		conn:       deps.Connectivity,
		notifier:   deps.Notifier,
		maxRetries: deps.MaxRetries,
		now:        deps.Now,
		listeners:  map[int]CycleListener{},
	}
	if r.notifier == nil {
		r.notifier = LogNotifier{}
	}
	if r.maxRetries <= 0 {
		r.maxRetries = pendingaction.DefaultMaxRetries
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// MaxRetries returns the retry ceiling in effect.
func (r *Reconciler) MaxRetries() int {
	return r.maxRetries
}

// DrainQueue replays every queued action in creation order.
// PRE: none
// POST: each action was applied and removed, failed and counted, or left in place;
// a concurrent call returns ErrSyncInProgress without touching the queue
// INVARIANT: no action is replayed more than MaxRetries times
func (r *Reconciler) DrainQueue(ctx context.Context) (DrainResult, error) {
	if r.local == nil || !r.conn.Online() {
		return DrainResult{}, nil
	}
	if !r.drainMu.TryLock() {
		return DrainResult{}, ErrSyncInProgress
	}
	res, discards, err := r.drain(ctx)
	r.drainMu.Unlock()

	// Notices go out after the queue is released.
	r.notify(ctx, discards)
	return res, err
}

// drain is one pass over the queue.
// PRE: drainMu is held
// POST: Returns the counts and every action discarded on the way
func (r *Reconciler) drain(ctx context.Context) (DrainResult, []Discard, error) {
	var res DrainResult
	var discards []Discard
	drop := func(a pendingaction.Action, reason string) {
		if d, ok := r.discard(ctx, a, reason); ok {
			discards = append(discards, d)
		}
	}

	actions, err := r.local.Queue.ListAll(ctx)
	if err != nil {
		return res, nil, fmt.Errorf("list pending actions: %w", err)
	}
	if len(actions) == 0 {
		return res, nil, nil
	}
	slog.Info("sync_drain_start", "count", len(actions))

	// Records whose earlier action failed this pass. Their later actions,
	// and marks that name them, wait for the next drain so a record's
	// mutations stay in order and no mark reaches the remote API before
	// its member or service.
	blocked := map[string]bool{}

	for i := range actions {
		if err := ctx.Err(); err != nil {
			return res, discards, err
		}
		a := actions[i]

		if waitsOn(blocked, a) {
			blocked[a.EntityKey] = true
			res.Deferred++
			continue
		}

		if a.Exhausted(r.maxRetries) {
			drop(a, "retries exhausted")
			res.Failed++
			res.Discarded++
			continue
		}

		replay, ok := replayers[replayKey{a.Kind, a.Entity}]
		if !ok {
			slog.Warn("pending_action_unmapped", "action_id", a.ID, "kind", a.Kind, "entity", a.Entity)
			res.Skipped++
			continue
		}

		key, err := replay(ctx, r, a, actions[i+1:])
		if err == nil {
			if rmErr := r.local.Queue.Remove(ctx, a.ID); rmErr != nil {
				return res, discards, fmt.Errorf("remove applied action %d: %w", a.ID, rmErr)
			}
			r.clearPending(ctx, a.Entity, key)
			res.Applied++
			slog.Info("pending_action_applied", "action_id", a.ID, "kind", a.Kind, "entity", a.Entity, "key", key)
			continue
		}

		if ctx.Err() != nil {
			// Shutdown, not a verdict on the action.
			return res, discards, ctx.Err()
		}

		res.Failed++
		if remote.IsTerminal(err) {
			a.LastError = err.Error()
			drop(a, err.Error())
			res.Discarded++
			continue
		}

		retries, bumpErr := r.local.Queue.BumpRetry(ctx, a.ID, err.Error())
		if bumpErr != nil {
			slog.Error("pending_action_bump_failed", "action_id", a.ID, "error", bumpErr)
			blocked[a.EntityKey] = true
			continue
		}
		slog.Warn("pending_action_failed", "action_id", a.ID, "kind", a.Kind, "entity", a.Entity, "attempt", retries, "error", err.Error())
		if retries >= r.maxRetries {
			a.Retries = retries
			a.LastError = err.Error()
			drop(a, err.Error())
			res.Discarded++
			continue
		}
		blocked[a.EntityKey] = true
	}

	slog.Info("sync_drain_complete", "applied", res.Applied, "failed", res.Failed,
		"discarded", res.Discarded, "deferred", res.Deferred, "skipped", res.Skipped)
	return res, discards, nil
}

// waitsOn reports whether a's record, or a record it depends on, is blocked.
func waitsOn(blocked map[string]bool, a pendingaction.Action) bool {
	if blocked[a.EntityKey] {
		return true
	}
	for _, key := range a.DependsOn() {
		if blocked[key] {
			return true
		}
	}
	return false
}

// discard drops a from the queue and clears the pending flag when nothing
// else is queued for the record. It returns the notice to send.
func (r *Reconciler) discard(ctx context.Context, a pendingaction.Action, reason string) (Discard, bool) {
	if err := r.local.Queue.Remove(ctx, a.ID); err != nil {
		slog.Error("pending_action_discard_failed", "action_id", a.ID, "error", err)
		return Discard{}, false
	}
	r.clearPending(ctx, a.Entity, a.EntityKey)

	slog.Warn("pending_action_discarded", "action_id", a.ID, "kind", a.Kind, "entity", a.Entity,
		"key", a.EntityKey, "retries", a.Retries, "reason", reason)
	return Discard{Action: a, Reason: reason, Description: describeAction(ctx, r.local, a), At: r.now()}, true
}

// notify sends discard notices, each bounded by notifyTimeout. The actions
// are already gone, so a cancelled drain still reports them.
func (r *Reconciler) notify(ctx context.Context, discards []Discard) {
	for _, d := range discards {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		err := r.notifier.NotifyDiscard(nctx, d)
		cancel()
		if err != nil {
			slog.Error("discard_notify_failed", "action_id", d.Action.ID, "error", err)
		}
	}
}

// clearPending flips pendingSync off once no queued action remains for key.
func (r *Reconciler) clearPending(ctx context.Context, entity pendingaction.Entity, key string) {
	remaining, err := r.local.Queue.CountByKey(ctx, key)
	if err != nil {
		slog.Error("pending_count_failed", "key", key, "error", err)
		return
	}
	if remaining > 0 {
		return
	}

	switch entity {
	case pendingaction.EntityMember:
		err = r.local.Members.SetPendingSync(ctx, pendingaction.RecordID(entity, key), false)
	case pendingaction.EntityService:
		err = r.local.Services.SetPendingSync(ctx, pendingaction.RecordID(entity, key), false)
	case pendingaction.EntityAttendance:
		memberID, serviceID, ok := splitPairKey(pendingaction.RecordID(entity, key))
		if !ok {
			return
		}
		err = r.local.Attendance.SetPendingSync(ctx, memberID, serviceID, false)
	}
	// A record deleted locally leaves nothing to flag.
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Error("pending_flag_clear_failed", "key", key, "error", err)
	}
}

// PurgeQueue drops every queued action without replaying it and clears the
// pendingSync flag of the records they touched, so the next refresh treats
// them like any other cached record.
// PRE: no drain is running
// POST: the queue is empty; returns how many actions were dropped
func (r *Reconciler) PurgeQueue(ctx context.Context) (int, error) {
	if r.local == nil {
		return 0, ErrLocalStoreUnavailable
	}
	if !r.drainMu.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer r.drainMu.Unlock()

	actions, err := r.local.Queue.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending actions: %w", err)
	}
	n, err := r.local.Queue.Purge(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge pending actions: %w", err)
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if seen[a.EntityKey] {
			continue
		}
		seen[a.EntityKey] = true
		r.clearPending(ctx, a.Entity, a.EntityKey)
	}
	slog.Warn("pending_queue_purged", "count", n)
	return n, nil
}

func splitPairKey(pair string) (memberID, serviceID string, ok bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '|' {
			return pair[:i], pair[i+1:], i > 0 && i < len(pair)-1
		}
	}
	return "", "", false
}

// RefreshFromRemote mirrors the full member and service lists into the
// local store. Each list is written in one transaction.
// PRE: none
// POST: non-pending cached members and services equal the remote lists
func (r *Reconciler) RefreshFromRemote(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	if r.local == nil || !r.conn.Online() {
		return res, nil
	}
	now := r.now()
	var errs []error

	members, err := r.remote.ListMembers(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch members: %w", err))
	} else if res.Members, err = r.local.Members.Mirror(ctx, members, now); err != nil {
		errs = append(errs, fmt.Errorf("mirror members: %w", err))
	}

	services, err := r.remote.ListServices(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch services: %w", err))
	} else if res.Services, err = r.local.Services.Mirror(ctx, services, now); err != nil {
		errs = append(errs, fmt.Errorf("mirror services: %w", err))
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	slog.Info("sync_refresh_complete",
		"members_written", res.Members.Written, "members_pruned", res.Members.Pruned,
		"services_written", res.Services.Written, "services_pruned", res.Services.Pruned)
	return res, nil
}

// RunCycle drains the queue and then refreshes reference data. Cycles never
// overlap: a call made while one runs returns ErrSyncInProgress and the
// running cycle goes round once more before it returns.
// PRE: none
// POST: the refresh observed every action the drain settled
func (r *Reconciler) RunCycle(ctx context.Context) (CycleResult, error) {
	r.cycleMu.Lock()
	if r.inFlight {
		r.rerun = true
		r.cycleMu.Unlock()
		return CycleResult{}, ErrSyncInProgress
	}
	r.inFlight = true
	r.cycleMu.Unlock()

	var result CycleResult
	var err error
	for {
		result, err = r.runOnce(ctx)

		r.cycleMu.Lock()
		again := r.rerun && ctx.Err() == nil
		r.rerun = false
		if !again {
			r.inFlight = false
			r.lastCycle, r.lastErr = result, err
			listeners := make([]CycleListener, 0, len(r.listeners))
			for _, l := range r.listeners {
				listeners = append(listeners, l)
			}
			r.cycleMu.Unlock()
			for _, l := range listeners {
				l(result, err)
			}
			return result, err
		}
		r.cycleMu.Unlock()
	}
}

func (r *Reconciler) runOnce(ctx context.Context) (CycleResult, error) {
	result := CycleResult{StartedAt: r.now()}
	drain, err := r.DrainQueue(ctx)
	result.Drain = drain
	if err != nil {
		result.FinishedAt = r.now()
		return result, fmt.Errorf("drain queue: %w", err)
	}
	result.Refresh, err = r.RefreshFromRemote(ctx)
	result.FinishedAt = r.now()
	if err != nil {
		return result, fmt.Errorf("refresh from remote: %w", err)
	}
	slog.Info("sync_cycle_completed", "applied", drain.Applied, "failed", drain.Failed,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds())
	return result, nil
}

// RequestCycle asks for a cycle without waiting for it. A running cycle goes
// round once more; otherwise one starts in the background.
func (r *Reconciler) RequestCycle(ctx context.Context, reason string) {
	r.cycleMu.Lock()
	if r.inFlight {
		r.rerun = true
		r.cycleMu.Unlock()
		return
	}
	r.cycleMu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		slog.Info("sync_cycle_triggered", "trigger", reason)
		if _, err := r.RunCycle(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			slog.Warn("sync_cycle_failed", "trigger", reason, "error", err)
		}
	}()
}

// Wait blocks until cycles started by RequestCycle have returned.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// LastCycle returns the most recent completed cycle and its error.
func (r *Reconciler) LastCycle() (CycleResult, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return r.lastCycle, r.lastErr
}

// Running reports whether a cycle is in flight.
func (r *Reconciler) Running() bool {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return r.inFlight
}

// OnCycle registers fn to run after every completed cycle.
func (r *Reconciler) OnCycle(fn CycleListener) (unsubscribe func()) {
	r.cycleMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.cycleMu.Unlock()
	return func() {
		r.cycleMu.Lock()
		delete(r.listeners, id)
		r.cycleMu.Unlock()
	}
}

// Start runs a cycle now if the monitor is online and again on every
// transition into Online. The returned stop function unsubscribes and waits
// for running cycles.
// PRE: monitor is the same source the Reconciler's Connectivity reads
// POST: cycles are triggered by connectivity edges until stop is called
func (r *Reconciler) Start(ctx context.Context, monitor *connectivity.Monitor) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var mu sync.Mutex
	stopped := false

	trigger := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			slog.Info("sync_cycle_triggered", "trigger", reason)
			if _, err := r.RunCycle(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				slog.Warn("sync_cycle_failed", "trigger", reason, "error", err)
			}
		}()
	}

	unsubscribe := monitor.Subscribe(func(t connectivity.Transition) {
		if t.To == connectivity.Online && t.From != connectivity.Online {
			trigger("reconnected")
		}
	})
	if monitor.Online() {
		trigger("startup")
	}

	return func() {
		unsubscribe()
		mu.Lock()
		stopped = true
		mu.Unlock()
		cancel()
		r.wg.Wait()
	}
}
