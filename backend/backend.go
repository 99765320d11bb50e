package backend

import (
	"context"
	"time"
)

// Service is the remote session service's control plane. One method per
// backend command. Implementations MUST be safe for concurrent use; every
// call may block on a remote round trip and honors ctx cancellation.
type Service interface {
	// CreateSession creates a new session; the requesting listener becomes
	// its owner. Fails with CodeProfileInUse when another session already
	// holds the profile.
	CreateSession(ctx context.Context, req CreateRequest) (SessionState, error)
	// JoinSession registers listenerID against an existing session without
	// taking ownership.
	JoinSession(ctx context.Context, sessionID, listenerID string) (SessionState, error)

	GetState(ctx context.Context, sessionID string) (SessionState, error)
	GetCapabilities(ctx context.Context, sessionID string) (Capabilities, error)

	Start(ctx context.Context, sessionID string) (RunState, error)
	Stop(ctx context.Context, sessionID string) (RunState, error)
	Pause(ctx context.Context, sessionID string) (RunState, error)
	Resume(ctx context.Context, sessionID string) (RunState, error)
	SetSpeed(ctx context.Context, sessionID string, speed float64) error
	SetTimeRange(ctx context.Context, sessionID string, r TimeRange) error
	Seek(ctx context.Context, sessionID string, pos time.Duration) error
	// SwitchToBuffer flips the session onto replay of the named buffer.
	SwitchToBuffer(ctx context.Context, sessionID, bufferID string) (SessionState, error)
	Transmit(ctx context.Context, sessionID string, req TransmitRequest) error

	// RegisterListener is idempotent; re-registering an already-known
	// listener renews its liveness without changing the count.
	RegisterListener(ctx context.Context, sessionID, listenerID string) error
	// UnregisterListener removes the listener and returns how many remain
	// registered backend-side. The backend reaps the session at zero.
	UnregisterListener(ctx context.Context, sessionID, listenerID string) (remaining int, err error)
	ListListeners(ctx context.Context, sessionID string) ([]string, error)
	// SetListenerActive marks a listener present-but-inactive (or active
	// again); inactive listeners are excluded from batch allow-lists.
	SetListenerActive(ctx context.Context, sessionID, listenerID string, active bool) error

	// ReinitializeIfSafe atomically checks whether listenerID is the sole
	// listener and, if so, tears the backend session down so it can be
	// recreated. When other listeners exist nothing changes and their ids
	// are returned.
	ReinitializeIfSafe(ctx context.Context, sessionID, listenerID string) (ReinitCheck, error)
}

// EventHandler processes one push event. Returning an error terminates the
// subscription it was registered under.
type EventHandler func(ctx context.Context, ev Event) error

// EventSource delivers the backend's push events, namespaced per session
// id. Events for one session are delivered to each handler in backend
// emission order, never reordered or coalesced.
type EventSource interface {
	// SubscribeEvents registers handler for sessionID's events and returns
	// a cancel function that must be called exactly once to release the
	// subscription.
	SubscribeEvents(ctx context.Context, sessionID string, handler EventHandler) (cancel func(), err error)
}
