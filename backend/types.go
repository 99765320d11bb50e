package backend

import (
	"strings"
	"time"
)

// RunStateKind enumerates the run states of an underlying stream.
type RunStateKind string

const (
	RunStopped  RunStateKind = "stopped"
	RunStarting RunStateKind = "starting"
	RunRunning  RunStateKind = "running"
	RunPaused   RunStateKind = "paused"
	RunError    RunStateKind = "error"
)

// RunState is the stream's run state. Message is populated only when
// Kind == RunError.
type RunState struct {
	Kind    RunStateKind
	Message string
}

func (s RunState) IsError() bool { return s.Kind == RunError }

// Wire returns the wire encoding of the state. Error states encode as
// "error:<message>" to match the backend's state-change payloads.
func (s RunState) Wire() string {
	if s.Kind == RunError && s.Message != "" {
		return "error:" + s.Message
	}
	return string(s.Kind)
}

// ParseRunState decodes a wire state value, including the "error:<message>"
// form emitted by state-change events.
func ParseRunState(v string) RunState {
	if msg, ok := strings.CutPrefix(v, "error:"); ok {
		return RunState{Kind: RunError, Message: msg}
	}
	switch RunStateKind(v) {
	case RunStopped, RunStarting, RunRunning, RunPaused:
		return RunState{Kind: RunStateKind(v)}
	case RunError:
		return RunState{Kind: RunError}
	}
	return RunState{Kind: RunStopped}
}

// Capabilities describes what a session's source supports. Reported by the
// backend once a session is connected.
type Capabilities struct {
	CanTransmit bool `json:"can_transmit"`
	IsRealtime  bool `json:"is_realtime"`
	CanSeek     bool `json:"can_seek"`
	CanReplay   bool `json:"can_replay"`
}

// BufferKind identifies what a replay buffer holds.
type BufferKind string

const (
	BufferFrames BufferKind = "frames"
	BufferBytes  BufferKind = "bytes"
	BufferNone   BufferKind = "none"
)

// BufferDescriptor describes a replay buffer left behind by a stream,
// reported on stream-ended events and queryable via GetState.
type BufferDescriptor struct {
	Available bool       `json:"available"`
	ID        string     `json:"id"`
	Kind      BufferKind `json:"kind"`
	Count     int        `json:"count"`
}

// Frame is a single captured item. TimeMicros is the capture timestamp in
// microseconds since the session epoch.
type Frame struct {
	Bus        int    `json:"bus"`
	ID         uint32 `json:"id"`
	TimeMicros int64  `json:"time_us"`
	Data       []byte `json:"data"`
}

// Batch is one push delivery of captured items. ActiveListeners is the
// backend's allow-list of listener ids that should process the batch; an
// empty list means broadcast.
type Batch struct {
	Frames          []Frame  `json:"frames,omitempty"`
	Bytes           []byte   `json:"bytes,omitempty"`
	ActiveListeners []string `json:"active_listeners,omitempty"`
}

// SessionState is the backend's confirmed view of one session.
type SessionState struct {
	SessionID         string
	ProfileID         string
	DisplayName       string
	Run               RunState
	ListenerCount     int
	Buffer            BufferDescriptor
	HasQueuedMessages bool
}

// BusMapping remaps one physical source bus into the logical bus space of a
// multi-source session.
type BusMapping struct {
	ProfileID  string `json:"profile_id"`
	SourceBus  int    `json:"source_bus"`
	LogicalBus int    `json:"logical_bus"`
}

// FramingConfig configures byte-stream framing for one framing-capable
// constituent profile of a multi-source session.
type FramingConfig struct {
	ProfileID string `json:"profile_id"`
	Mode      string `json:"mode"`
	Delimiter byte   `json:"delimiter,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

// CreateRequest carries everything needed to create (or re-create) a
// session. ListenerID becomes the owner. For multi-source sessions,
// SessionID is the synthesized aggregate id and ConstituentProfiles lists
// every merged profile.
type CreateRequest struct {
	SessionID           string
	ProfileID           string
	DisplayName         string
	ListenerID          string
	BusMappings         []BusMapping
	Framing             []FramingConfig
	ConstituentProfiles []string
}

// TransmitRequest is an outbound frame for transmit-capable sessions.
type TransmitRequest struct {
	Bus  int    `json:"bus"`
	ID   uint32 `json:"id"`
	Data []byte `json:"data"`
}

// ReinitCheck is the result of an atomic reinitialize-if-safe check. When
// Safe is false, OtherListeners holds the listener ids that blocked it.
type ReinitCheck struct {
	Safe           bool
	OtherListeners []string
}

// TimeRange bounds replay playback.
type TimeRange struct {
	From time.Time
	To   time.Time
}
