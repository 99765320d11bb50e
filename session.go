package streamhub

import (
	"time"

	"github.com/capturekit/streamhub-go/backend"
)

// LifecycleState is a session's local registration status, independent of
// the underlying stream's run state.
type LifecycleState string

const (
	LifecycleDisconnected LifecycleState = "disconnected"
	LifecycleConnecting   LifecycleState = "connecting"
	LifecycleConnected    LifecycleState = "connected"
	LifecycleError        LifecycleState = "error"
)

// Session is a point-in-time snapshot of one coordinated session. Snapshots
// are value copies; mutating one has no effect on the Registry.
type Session struct {
	ID          string
	ProfileID   string
	DisplayName string

	Lifecycle LifecycleState
	Run       backend.RunState

	// Capabilities is nil until the session first connects.
	Capabilities *backend.Capabilities

	// ErrorMessage holds the most recent stream or creation error, including
	// suppressed ones that were never surfaced through callbacks.
	ErrorMessage string

	// IsOwner in a snapshot returned from Open or Reinitialize is scoped to
	// the calling listener; in query snapshots it reports whether this
	// registry created the backend session.
	IsOwner       bool
	ListenerCount int

	Buffer            backend.BufferDescriptor
	CreatedAt         time.Time
	HasQueuedMessages bool

	// StoppedExplicitly distinguishes a user-requested stop from a stream
	// that ended on its own.
	StoppedExplicitly bool
}

// IsLive reports whether the underlying stream is producing or positioned
// to produce data.
func (s Session) IsLive() bool {
	return s.Run.Kind == backend.RunRunning || s.Run.Kind == backend.RunPaused
}

// Callbacks is one listener's set of event handlers. Any field may be nil.
// Handlers are invoked from the Registry's event dispatch and must not call
// back into the Registry synchronously.
type Callbacks struct {
	// OnBatch receives captured frame/byte batches. Delivery requires the
	// listener's id to be in the batch's allow-list; an empty allow-list is
	// a broadcast.
	OnBatch func(batch backend.Batch)
	// OnError receives stream errors that were not classified as expected
	// or transient.
	OnError func(message string)
	// OnTime receives playback-position updates for replay sessions.
	OnTime func(position time.Duration)
	// OnEnded fires when the stream ends, with the replay buffer it left
	// behind (if any).
	OnEnded func(reason string, buffer backend.BufferDescriptor)
	// OnComplete fires when a finite source is consumed to the end.
	OnComplete func()
	// OnStateChange receives every run-state transition in backend emission
	// order.
	OnStateChange func(previous, current backend.RunState)
	// OnListenerCount receives backend listener-count changes.
	OnListenerCount func(count int)
}

// sessionRecord is the Registry's mutable state for one session. All fields
// are guarded by Registry.mu.
type sessionRecord struct {
	snap Session

	// owner is the listener id whose open created the backend session;
	// empty when this registry joined an existing one.
	owner string

	// callbacks is the local listener set; an entry exists for every locally
	// registered listener even before it installs handlers. The heartbeat
	// renews exactly these ids.
	callbacks map[string]Callbacks

	// unsubscribe cancels the event subscription; nil until routing starts.
	unsubscribe func()
	subscribing bool

	hb *heartbeat
}

// viewFor is the snapshot as seen by one listener: IsOwner is true only for
// the listener whose open created the session. Query snapshots (GetSession
// and friends) keep the record-level value instead, which says whether this
// registry owns the backend resource.
func (rec *sessionRecord) viewFor(listenerID string) Session {
	snap := rec.snap
	snap.IsOwner = rec.owner != "" && rec.owner == listenerID
	return snap
}

func (rec *sessionRecord) listenerIDs() []string {
	ids := make([]string, 0, len(rec.callbacks))
	for id := range rec.callbacks {
		ids = append(ids, id)
	}
	return ids
}
