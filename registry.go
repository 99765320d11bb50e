package streamhub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/capturekit/streamhub-go/backend"
	"github.com/capturekit/streamhub-go/internal/logctx"
)

// Registry is the central coordinator for streaming sessions. It owns the
// session map, the per-session event subscriptions, and the heartbeat
// keepers. Safe for concurrent use; the internal mutex is never held across
// a backend round trip.
type Registry struct {
	svc    backend.Service
	events backend.EventSource
	log    *slog.Logger

	hbInterval time.Duration
	suppressed []string

	// baseCtx bounds the lifetime of subscriptions and heartbeats.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*sessionRecord
	closed   bool
}

// New builds a Registry over the given backend service and event source.
// The Registry should be created once at application startup and torn down
// with Close at shutdown; consumers hold references, never a singleton.
func New(svc backend.Service, events backend.EventSource, opts ...Option) *Registry {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		svc:        svc,
		events:     events,
		log:        cfg.logger,
		hbInterval: cfg.hbInterval,
		suppressed: cfg.suppressed,
		baseCtx:    ctx,
		cancel:     cancel,
		sessions:   make(map[string]*sessionRecord),
	}
}

// Open creates or joins the session for profileID and registers listenerID
// against it. The returned snapshot reflects the state after registration.
//
// If a connected local record already exists, the listener is re-registered
// idempotently (acting as a liveness refresh). Otherwise the backend is
// queried: a live session is joined (non-owner); a missing one is created
// (owner), falling back to join when creation reports the profile in use.
// Any other creation failure is persisted as a local error record and
// returned.
func (r *Registry) Open(ctx context.Context, profileID, displayName, listenerID string, opts OpenOptions) (Session, error) {
	id := opts.SessionID
	if id == "" {
		id = profileID
	}
	ctx = logctx.WithSession(ctx, id, profileID)
	ctx = logctx.WithListener(ctx, listenerID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Session{}, ErrRegistryClosed
	}
	if rec, ok := r.sessions[id]; ok && rec.snap.Lifecycle == LifecycleConnected {
		r.mu.Unlock()
		return r.refresh(ctx, id, listenerID)
	}

	// Claim: publish a connecting placeholder before the first round trip so
	// queries see the session and concurrent opens can reconcile against it.
	claimed := false
	if _, ok := r.sessions[id]; !ok {
		r.sessions[id] = &sessionRecord{
			snap: Session{
				ID:          id,
				ProfileID:   profileID,
				DisplayName: displayName,
				Lifecycle:   LifecycleConnecting,
				Run:         backend.RunState{Kind: backend.RunStopped},
				CreatedAt:   time.Now(),
			},
			callbacks: make(map[string]Callbacks),
		}
		claimed = true
	}
	r.mu.Unlock()

	state, isOwner, err := r.connect(ctx, id, profileID, displayName, listenerID, opts)
	if err != nil {
		r.mu.Lock()
		if rec, ok := r.sessions[id]; ok && rec.snap.Lifecycle != LifecycleConnected {
			if claimed {
				rec.snap.Lifecycle = LifecycleError
				rec.snap.ErrorMessage = err.Error()
			}
		}
		r.mu.Unlock()
		return Session{}, err
	}

	var caps *backend.Capabilities
	if c, err := r.svc.GetCapabilities(ctx, id); err == nil {
		caps = &c
	} else {
		r.log.DebugContext(ctx, "capabilities unavailable", slog.String("error", err.Error()))
	}

	// Reconcile: a concurrent caller may have finished first; adopt its
	// record and just fold our registration in.
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		// Removed while we were connecting (forced removal); treat our
		// connect result as authoritative and re-publish.
		rec = &sessionRecord{snap: Session{ID: id, CreatedAt: time.Now()}, callbacks: make(map[string]Callbacks)}
		r.sessions[id] = rec
		claimed = true
	}
	if !claimed && rec.snap.Lifecycle == LifecycleConnected {
		if _, exists := rec.callbacks[listenerID]; !exists {
			rec.callbacks[listenerID] = Callbacks{}
		}
		rec.snap.ListenerCount = state.ListenerCount
		snap := rec.viewFor(listenerID)
		needRouting := r.ensureRoutingLocked(rec, id)
		r.mu.Unlock()
		if needRouting != nil {
			needRouting()
		}
		return snap, nil
	}

	rec.snap.ProfileID = profileID
	rec.snap.DisplayName = displayName
	rec.snap.Lifecycle = LifecycleConnected
	rec.snap.Run = state.Run
	rec.snap.IsOwner = isOwner
	if isOwner {
		rec.owner = listenerID
	}
	rec.snap.ListenerCount = state.ListenerCount
	rec.snap.Buffer = state.Buffer
	rec.snap.HasQueuedMessages = state.HasQueuedMessages
	rec.snap.ErrorMessage = ""
	if caps != nil {
		rec.snap.Capabilities = caps
	}
	if _, exists := rec.callbacks[listenerID]; !exists {
		rec.callbacks[listenerID] = Callbacks{}
	}
	startRouting := r.ensureRoutingLocked(rec, id)
	snap := rec.viewFor(listenerID)
	r.mu.Unlock()

	if startRouting != nil {
		startRouting()
	}
	r.log.InfoContext(ctx, "session opened",
		slog.Bool("owner", isOwner),
		slog.Int("listener_count", snap.ListenerCount))
	return snap, nil
}

// refresh handles the connected fast path: idempotent re-registration.
func (r *Registry) refresh(ctx context.Context, id, listenerID string) (Session, error) {
	if err := r.svc.RegisterListener(ctx, id, listenerID); err != nil && !backend.IsNotFound(err) {
		return Session{}, fmt.Errorf("register listener: %w", err)
	}
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	if _, exists := rec.callbacks[listenerID]; !exists {
		rec.callbacks[listenerID] = Callbacks{}
		// A new local registration raised the backend's count by one; the
		// authoritative value follows on the next listener-count event.
		rec.snap.ListenerCount++
	}
	startRouting := r.ensureRoutingLocked(rec, id)
	snap := rec.viewFor(listenerID)
	r.mu.Unlock()
	if startRouting != nil {
		startRouting()
	}
	return snap, nil
}

// connect performs the backend round trips for Open: join when a live
// session exists, otherwise create with a join fallback on profile-in-use.
func (r *Registry) connect(ctx context.Context, id, profileID, displayName, listenerID string, opts OpenOptions) (backend.SessionState, bool, error) {
	if state, err := r.svc.GetState(ctx, id); err == nil && !state.Run.IsError() {
		joined, err := r.svc.JoinSession(ctx, id, listenerID)
		if err == nil {
			return joined, false, nil
		}
		if !backend.IsNotFound(err) {
			return backend.SessionState{}, false, fmt.Errorf("join session: %w", err)
		}
		// Vanished between GetState and Join; fall through to create.
	}

	created, err := r.svc.CreateSession(ctx, backend.CreateRequest{
		SessionID:           id,
		ProfileID:           profileID,
		DisplayName:         displayName,
		ListenerID:          listenerID,
		BusMappings:         opts.BusMappings,
		Framing:             opts.Framing,
		ConstituentProfiles: opts.ConstituentProfiles,
	})
	if err == nil {
		return created, true, nil
	}
	if backend.IsProfileInUse(err) {
		joined, jerr := r.svc.JoinSession(ctx, id, listenerID)
		if jerr != nil {
			return backend.SessionState{}, false, fmt.Errorf("join after in-use create: %w", jerr)
		}
		return joined, false, nil
	}
	return backend.SessionState{}, false, fmt.Errorf("create session: %w", err)
}

// Leave unregisters listenerID from the session. The backend's unregister
// already decrements its counter, so no additional leave call is issued.
// When the last local listener is gone, event subscriptions and the
// heartbeat are torn down; when the backend confirms zero remaining
// listeners the record is removed entirely.
func (r *Registry) Leave(ctx context.Context, id, listenerID string) error {
	ctx = logctx.WithSession(ctx, id, "")
	ctx = logctx.WithListener(ctx, listenerID)

	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	remaining, err := r.svc.UnregisterListener(ctx, id, listenerID)
	if err != nil {
		if !backend.IsNotFound(err) {
			return fmt.Errorf("unregister listener: %w", err)
		}
		remaining = 0
	}

	var after func()
	r.mu.Lock()
	if rec, ok := r.sessions[id]; ok {
		delete(rec.callbacks, listenerID)
		rec.snap.ListenerCount = remaining
		if len(rec.callbacks) == 0 {
			after = r.teardownLocked(rec)
			if remaining == 0 {
				delete(r.sessions, id)
			} else {
				rec.snap.Lifecycle = LifecycleDisconnected
			}
		}
	}
	r.mu.Unlock()
	if after != nil {
		after()
	}
	r.log.DebugContext(ctx, "listener left", slog.Int("remaining", remaining))
	return nil
}

// Remove is a hard teardown: every local listener is unregistered, event
// subscriptions are dropped, and (only if this registry owns the session)
// the backend resource is destroyed.
func (r *Registry) Remove(ctx context.Context, id string) error {
	ctx = logctx.WithSession(ctx, id, "")

	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	ids := rec.listenerIDs()
	isOwner := rec.snap.IsOwner
	r.mu.Unlock()

	for _, lid := range ids {
		if _, err := r.svc.UnregisterListener(ctx, id, lid); err != nil && !backend.IsNotFound(err) {
			r.log.WarnContext(ctx, "unregister during remove failed",
				slog.String("listener_id", lid), slog.String("error", err.Error()))
		}
	}
	if isOwner {
		if _, err := r.svc.Stop(ctx, id); err != nil && !backend.IsNotFound(err) {
			r.log.WarnContext(ctx, "stop during remove failed", slog.String("error", err.Error()))
		}
	}

	var after func()
	r.mu.Lock()
	if rec, ok := r.sessions[id]; ok {
		after = r.teardownLocked(rec)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if after != nil {
		after()
	}
	r.log.InfoContext(ctx, "session removed", slog.Bool("owner", isOwner))
	return nil
}

// ReinitializeResult is the typed outcome of a Reinitialize call. A blocked
// attempt is not an error: Session holds the unchanged record and
// OtherListeners the ids that prevented reconfiguration.
type ReinitializeResult struct {
	Session        Session
	OtherListeners []string
}

// Blocked reports whether other listeners prevented the reinitialize.
func (res ReinitializeResult) Blocked() bool { return len(res.OtherListeners) > 0 }

// Reinitialize atomically reconfigures a session: the backend checks that
// listenerID is the sole listener and, only then, tears the old session
// down so it can be recreated under newProfileID. Two consumers can never
// both conclude independently that reconfiguring is safe.
func (r *Registry) Reinitialize(ctx context.Context, id, listenerID, newProfileID, newDisplayName string, opts OpenOptions) (ReinitializeResult, error) {
	ctx = logctx.WithSession(ctx, id, newProfileID)
	ctx = logctx.WithListener(ctx, listenerID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ReinitializeResult{}, ErrRegistryClosed
	}
	rec, ok := r.sessions[id]
	var saved Callbacks
	if ok {
		saved = rec.callbacks[listenerID]
	}
	r.mu.Unlock()
	if !ok {
		return ReinitializeResult{}, ErrSessionNotFound
	}

	check, err := r.svc.ReinitializeIfSafe(ctx, id, listenerID)
	if err != nil {
		return ReinitializeResult{}, fmt.Errorf("reinitialize check: %w", err)
	}
	if !check.Safe {
		others := append([]string(nil), check.OtherListeners...)
		sort.Strings(others)
		r.mu.Lock()
		var snap Session
		if rec, ok := r.sessions[id]; ok {
			snap = rec.viewFor(listenerID)
		}
		r.mu.Unlock()
		r.log.InfoContext(ctx, "reinitialize blocked", slog.Any("other_listeners", others))
		return ReinitializeResult{Session: snap, OtherListeners: others}, nil
	}

	// Backend state is gone; drop the local record before recreating.
	var after func()
	r.mu.Lock()
	if rec, ok := r.sessions[id]; ok {
		after = r.teardownLocked(rec)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if after != nil {
		after()
	}

	snap, err := r.Open(ctx, newProfileID, newDisplayName, listenerID, opts)
	if err != nil {
		return ReinitializeResult{}, err
	}
	if err := r.RegisterCallbacks(snap.ID, listenerID, saved); err != nil {
		return ReinitializeResult{}, err
	}
	r.log.InfoContext(ctx, "session reinitialized", slog.String("new_session_id", snap.ID))
	return ReinitializeResult{Session: snap}, nil
}

// --- Queries ---

// GetSession returns a snapshot of the named session.
func (r *Registry) GetSession(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return rec.snap, true
}

// Sessions returns snapshots of every open session, ordered by id.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, rec.snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsProfileInUse reports whether any open session uses profileID.
func (r *Registry) IsProfileInUse(profileID string) bool {
	_, ok := r.SessionForProfile(profileID)
	return ok
}

// SessionForProfile returns the session backed by profileID, if any.
func (r *Registry) SessionForProfile(profileID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.sessions {
		if rec.snap.ProfileID == profileID {
			return rec.snap, true
		}
	}
	return Session{}, false
}

// TransmitCapableSessions returns snapshots of connected sessions whose
// capabilities allow transmission, ordered by id.
func (r *Registry) TransmitCapableSessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, rec := range r.sessions {
		if rec.snap.Lifecycle == LifecycleConnected &&
			rec.snap.Capabilities != nil && rec.snap.Capabilities.CanTransmit {
			out = append(out, rec.snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Callbacks ---

// RegisterCallbacks installs listenerID's handler set on the session. The
// listener must already be registered via Open.
func (r *Registry) RegisterCallbacks(id, listenerID string, cb Callbacks) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	rec.callbacks[listenerID] = cb
	return nil
}

// ClearCallbacks drops listenerID's handlers and releases its registration.
// A listener without callbacks must not keep the session warm: when the
// last local callback set is cleared, the heartbeat stops and event
// subscriptions are torn down, same as Leave. A listener that wants to stay
// present while pausing frame processing uses SetListenerActive instead.
func (r *Registry) ClearCallbacks(ctx context.Context, id, listenerID string) error {
	return r.Leave(ctx, id, listenerID)
}

// SetListenerActive marks listenerID active or inactive backend-side.
// Inactive listeners keep the session warm but drop out of batch
// allow-lists.
func (r *Registry) SetListenerActive(ctx context.Context, id, listenerID string, active bool) error {
	return r.svc.SetListenerActive(ctx, id, listenerID, active)
}

// --- Lifecycle ---

// Close removes every session and stops all background work. The Registry
// is unusable afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Remove(ctx, id); err != nil {
			r.log.WarnContext(ctx, "remove during close failed",
				slog.String("session_id", id), slog.String("error", err.Error()))
		}
	}
	r.cancel()
	return nil
}

// teardownLocked stops the heartbeat and clears the subscription handle.
// The returned function performs the actual unsubscribe and must be called
// after releasing the mutex.
func (r *Registry) teardownLocked(rec *sessionRecord) func() {
	unsub := rec.unsubscribe
	rec.unsubscribe = nil
	rec.subscribing = false
	if rec.hb != nil {
		rec.hb.stop()
		rec.hb = nil
	}
	if unsub == nil {
		return nil
	}
	return unsub
}
