// Package consumer layers per-view ergonomics over the session registry.
// Each UI consumer owns one Handle with a unique listener id; the Handle
// projects derived state (streaming/paused/stopped), counts watched frames,
// and implements detach/rejoin as exact inverses.
package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	streamhub "github.com/capturekit/streamhub-go"
	"github.com/capturekit/streamhub-go/backend"
)

// Option configures a Handle.
type Option func(*Handle)

// WithLogger sets the slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handle) { h.log = log }
}

// WithListenerID overrides the generated listener id. Intended for tests.
func WithListenerID(id string) Option {
	return func(h *Handle) { h.listenerID = id }
}

// OpenConfig tunes one Handle.Open call.
type OpenConfig struct {
	// Registry passes through to the registry's Open.
	Registry streamhub.OpenOptions
	// BufferProfile marks the selection as a replay buffer rather than a
	// device; buffer selections are excluded from IsStopped.
	BufferProfile bool
}

// Handle is one consumer's view onto a session. Listener ids are unique per
// Handle instance, not per session: two Handles watching the same session
// hold two registrations.
type Handle struct {
	reg        *streamhub.Registry
	log        *slog.Logger
	listenerID string

	watchFrames atomic.Int64

	mu            sync.Mutex
	sessionID     string
	profileID     string
	displayName   string
	openCfg       OpenConfig
	callbacks     streamhub.Callbacks
	watching      bool
	watchOnRejoin bool
	detached      bool
}

// New builds a Handle over reg with a fresh listener id.
func New(reg *streamhub.Registry, opts ...Option) *Handle {
	h := &Handle{
		reg:        reg,
		log:        slog.Default(),
		listenerID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListenerID returns this consumer's listener id.
func (h *Handle) ListenerID() string { return h.listenerID }

// Open selects profileID and opens (or joins) its session, installing cbs
// for this consumer. Watching starts enabled.
func (h *Handle) Open(ctx context.Context, profileID, displayName string, cfg OpenConfig, cbs streamhub.Callbacks) (streamhub.Session, error) {
	sess, err := h.reg.Open(ctx, profileID, displayName, h.listenerID, cfg.Registry)
	if err != nil {
		return streamhub.Session{}, err
	}

	h.mu.Lock()
	h.sessionID = sess.ID
	h.profileID = profileID
	h.displayName = displayName
	h.openCfg = cfg
	h.callbacks = cbs
	h.watching = true
	h.detached = false
	h.mu.Unlock()

	if err := h.reg.RegisterCallbacks(sess.ID, h.listenerID, h.wrap(cbs)); err != nil {
		return streamhub.Session{}, err
	}
	return sess, nil
}

// wrap intercepts OnBatch to count frames while the watching flag is set.
func (h *Handle) wrap(cbs streamhub.Callbacks) streamhub.Callbacks {
	inner := cbs.OnBatch
	cbs.OnBatch = func(batch backend.Batch) {
		h.mu.Lock()
		watching := h.watching
		h.mu.Unlock()
		if watching {
			h.watchFrames.Add(int64(len(batch.Frames)))
		}
		if inner != nil {
			inner(batch)
		}
	}
	return cbs
}

// Session returns the current session snapshot.
func (h *Handle) Session() (streamhub.Session, bool) {
	h.mu.Lock()
	id := h.sessionID
	h.mu.Unlock()
	if id == "" {
		return streamhub.Session{}, false
	}
	return h.reg.GetSession(id)
}

// IsStreaming reports whether the stream is running or paused and this
// consumer is attached.
func (h *Handle) IsStreaming() bool {
	h.mu.Lock()
	detached := h.detached
	h.mu.Unlock()
	if detached {
		return false
	}
	sess, ok := h.Session()
	return ok && sess.IsLive()
}

// IsPaused reports whether the stream is paused.
func (h *Handle) IsPaused() bool {
	sess, ok := h.Session()
	return ok && sess.Run.Kind == backend.RunPaused
}

// IsStopped reports a stopped stream with a real (non-buffer) profile
// selected.
func (h *Handle) IsStopped() bool {
	h.mu.Lock()
	selected := h.profileID != ""
	buffer := h.openCfg.BufferProfile
	h.mu.Unlock()
	if !selected || buffer {
		return false
	}
	sess, ok := h.Session()
	return ok && sess.Run.Kind == backend.RunStopped
}

// IsRealtime reports whether the session's source is a live feed.
func (h *Handle) IsRealtime() bool {
	sess, ok := h.Session()
	return ok && sess.Capabilities != nil && sess.Capabilities.IsRealtime
}

// WatchedFrames returns the number of frames delivered while watching.
func (h *Handle) WatchedFrames() int64 { return h.watchFrames.Load() }

// ResetWatchCount zeroes the watched-frame counter.
func (h *Handle) ResetWatchCount() { h.watchFrames.Store(0) }

// SetWatching toggles frame counting.
func (h *Handle) SetWatching(watching bool) {
	h.mu.Lock()
	h.watching = watching
	h.mu.Unlock()
}

// Detach leaves the session without discarding the selection: events stop,
// the listener registration is released, but profile and callbacks are kept
// so Rejoin can restore everything.
func (h *Handle) Detach(ctx context.Context) error {
	h.mu.Lock()
	if h.detached || h.sessionID == "" {
		h.mu.Unlock()
		return nil
	}
	id := h.sessionID
	h.watchOnRejoin = h.watching
	h.watching = false
	h.detached = true
	h.mu.Unlock()

	if err := h.reg.Leave(ctx, id, h.listenerID); err != nil {
		h.mu.Lock()
		h.detached = false
		h.watching = h.watchOnRejoin
		h.mu.Unlock()
		return err
	}
	return nil
}

// Rejoin re-registers against the kept selection and restores the watching
// flag to its pre-detach value. Detach followed by Rejoin is a round trip
// back to the attached state.
func (h *Handle) Rejoin(ctx context.Context) error {
	h.mu.Lock()
	if !h.detached {
		h.mu.Unlock()
		return nil
	}
	profileID := h.profileID
	displayName := h.displayName
	cfg := h.openCfg
	cbs := h.callbacks
	h.mu.Unlock()

	sess, err := h.reg.Open(ctx, profileID, displayName, h.listenerID, cfg.Registry)
	if err != nil {
		return err
	}
	if err := h.reg.RegisterCallbacks(sess.ID, h.listenerID, h.wrap(cbs)); err != nil {
		return err
	}

	h.mu.Lock()
	h.sessionID = sess.ID
	h.detached = false
	h.watching = h.watchOnRejoin
	h.mu.Unlock()
	return nil
}

// --- Control passthroughs ---

func (h *Handle) Start(ctx context.Context) (streamhub.Session, error) {
	return h.reg.Start(ctx, h.currentSessionID())
}

func (h *Handle) Stop(ctx context.Context) (streamhub.Session, error) {
	return h.reg.Stop(ctx, h.currentSessionID())
}

func (h *Handle) Pause(ctx context.Context) (streamhub.Session, error) {
	return h.reg.Pause(ctx, h.currentSessionID())
}

func (h *Handle) Resume(ctx context.Context) (streamhub.Session, error) {
	return h.reg.Resume(ctx, h.currentSessionID())
}

func (h *Handle) Transmit(ctx context.Context, req backend.TransmitRequest) error {
	return h.reg.Transmit(ctx, h.currentSessionID(), req)
}

func (h *Handle) currentSessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// Close leaves the session and discards the selection.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	id := h.sessionID
	h.sessionID = ""
	h.profileID = ""
	h.detached = false
	h.watching = false
	h.mu.Unlock()
	if id == "" {
		return nil
	}
	return h.reg.Leave(ctx, id, h.listenerID)
}
