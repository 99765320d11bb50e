package redisbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/capturekit/streamhub-go/backend"
)

// rpcRequest is one control call on the wire.
type rpcRequest struct {
	ID        string          `json:"id"`
	Op        string          `json:"op"`
	SessionID string          `json:"session,omitempty"`
	Listener  string          `json:"listener,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// rpcResponse is the reply pushed onto the correlation-scoped reply list.
type rpcResponse struct {
	ID     string          `json:"id"`
	Error  *backend.Error  `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Per-op argument payloads. Ops whose arguments fit in the envelope's
// session/listener fields carry no args at all.
type (
	speedArgs     struct{ Speed float64 }
	timeRangeArgs struct{ From, To time.Time }
	seekArgs      struct{ Pos time.Duration }
	bufferArgs    struct{ BufferID string }
	activeArgs    struct{ Active bool }
	remainingBody struct{ Remaining int }
)

// eventEnvelope wraps a push event in a session's event stream.
type eventEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	evBatch         = "batch"
	evError         = "error"
	evTime          = "time"
	evEnded         = "ended"
	evComplete      = "complete"
	evStateChange   = "state_change"
	evListenerCount = "listener_count"
)

type (
	errorBody struct {
		Message string `json:"message"`
	}
	timeBody struct {
		Position time.Duration `json:"position"`
	}
	endedBody struct {
		Reason string                   `json:"reason"`
		Buffer backend.BufferDescriptor `json:"buffer"`
	}
	stateChangeBody struct {
		Previous string `json:"previous"`
		Current  string `json:"current"`
	}
	listenerCountBody struct {
		Count int `json:"count"`
	}
)

// encodeEvent flattens an event into its wire envelope.
func encodeEvent(ev backend.Event) (eventEnvelope, error) {
	var (
		kind string
		body any
	)
	switch ev := ev.(type) {
	case backend.BatchEvent:
		kind, body = evBatch, ev.Batch
	case backend.ErrorEvent:
		kind, body = evError, errorBody{Message: ev.Message}
	case backend.TimeEvent:
		kind, body = evTime, timeBody{Position: ev.Position}
	case backend.EndedEvent:
		kind, body = evEnded, endedBody{Reason: ev.Reason, Buffer: ev.Buffer}
	case backend.CompleteEvent:
		kind = evComplete
	case backend.StateChangeEvent:
		kind, body = evStateChange, stateChangeBody{Previous: ev.Previous, Current: ev.Current}
	case backend.ListenerCountEvent:
		kind, body = evListenerCount, listenerCountBody{Count: ev.Count}
	default:
		return eventEnvelope{}, fmt.Errorf("unknown event type %T", ev)
	}
	env := eventEnvelope{Kind: kind}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return eventEnvelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}

// decodeEvent is the inverse of encodeEvent.
func decodeEvent(env eventEnvelope) (backend.Event, error) {
	switch env.Kind {
	case evBatch:
		var b backend.Batch
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, err
		}
		return backend.BatchEvent{Batch: b}, nil
	case evError:
		var b errorBody
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, err
		}
		return backend.ErrorEvent{Message: b.Message}, nil
	case evTime:
		var b timeBody
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, err
		}
		return backend.TimeEvent{Position: b.Position}, nil
	case evEnded:
		var b endedBody
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, err
		}
		return backend.EndedEvent{Reason: b.Reason, Buffer: b.Buffer}, nil
	case evComplete:
		return backend.CompleteEvent{}, nil
	case evStateChange:
		var b stateChangeBody
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, err
		}
		return backend.StateChangeEvent{Previous: b.Previous, Current: b.Current}, nil
	case evListenerCount:
		var b listenerCountBody
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, err
		}
		return backend.ListenerCountEvent{Count: b.Count}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", env.Kind)
}
