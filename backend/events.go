package backend

import "time"

// Event is one push event from the backend. The set of implementations is
// closed; dispatch with a type switch.
type Event interface {
	isEvent()
}

// BatchEvent carries one batch of captured frames or bytes together with
// the backend's current active-listener allow-list.
type BatchEvent struct {
	Batch Batch
}

// ErrorEvent reports a stream error. The session transitions to an error
// run state; whether the message is surfaced to consumers depends on the
// coordination layer's suppression classification.
type ErrorEvent struct {
	Message string
}

// TimeEvent reports the current playback position of a replay session.
type TimeEvent struct {
	Position time.Duration
}

// EndedEvent reports that the stream ended, optionally leaving a replay
// buffer behind.
type EndedEvent struct {
	Reason string
	Buffer BufferDescriptor
}

// CompleteEvent reports that a finite source (file or database replay) was
// consumed to the end.
type CompleteEvent struct{}

// StateChangeEvent reports a run-state transition. Previous and Current are
// wire-encoded; Current may carry the "error:<message>" form.
type StateChangeEvent struct {
	Previous string
	Current  string
}

// ListenerCountEvent reports the backend's listener count for the session.
type ListenerCountEvent struct {
	Count int
}

func (BatchEvent) isEvent()         {}
func (ErrorEvent) isEvent()         {}
func (TimeEvent) isEvent()          {}
func (EndedEvent) isEvent()         {}
func (CompleteEvent) isEvent()      {}
func (StateChangeEvent) isEvent()   {}
func (ListenerCountEvent) isEvent() {}
