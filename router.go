package streamhub

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/capturekit/streamhub-go/backend"
)

// Event routing: one subscription per session id, fan-out to the local
// callback set. Events are applied to the record and delivered in backend
// emission order; nothing is reordered or coalesced.

// ensureRoutingLocked guarantees the session has (or is acquiring) exactly
// one event subscription and a running heartbeat. Must be called with the
// mutex held; the returned function, when non-nil, performs the actual
// subscribe and must run after the mutex is released.
func (r *Registry) ensureRoutingLocked(rec *sessionRecord, id string) func() {
	if rec.hb == nil {
		rec.hb = r.startHeartbeat(id)
	}
	if rec.unsubscribe != nil || rec.subscribing {
		return nil
	}
	rec.subscribing = true
	return func() {
		cancel, err := r.events.SubscribeEvents(r.baseCtx, id, func(ctx context.Context, ev backend.Event) error {
			r.dispatch(id, ev)
			return nil
		})
		r.mu.Lock()
		cur, ok := r.sessions[id]
		if err != nil {
			if ok && cur == rec {
				rec.subscribing = false
			}
			r.mu.Unlock()
			r.log.Warn("event subscription failed",
				slog.String("session_id", id), slog.String("error", err.Error()))
			return
		}
		if ok && cur == rec && rec.subscribing {
			rec.unsubscribe = cancel
			r.mu.Unlock()
			return
		}
		// Torn down while subscribing; release immediately.
		r.mu.Unlock()
		cancel()
	}
}

// dispatch folds one push event into the session record and fans it out.
// Callbacks run outside the mutex and must not call back into the Registry
// synchronously.
func (r *Registry) dispatch(id string, ev backend.Event) {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	switch ev := ev.(type) {
	case backend.BatchEvent:
		// Delivery requires the listener's id in the allow-list; an empty
		// list is the broadcast fallback for partial payloads.
		targets := make([]func(backend.Batch), 0, len(rec.callbacks))
		for lid, cb := range rec.callbacks {
			if cb.OnBatch == nil {
				continue
			}
			if len(ev.Batch.ActiveListeners) == 0 || slices.Contains(ev.Batch.ActiveListeners, lid) {
				targets = append(targets, cb.OnBatch)
			}
		}
		r.mu.Unlock()
		for _, fn := range targets {
			fn(ev.Batch)
		}

	case backend.ErrorEvent:
		rec.snap.Run = backend.RunState{Kind: backend.RunError, Message: ev.Message}
		rec.snap.ErrorMessage = ev.Message
		suppressed := r.isSuppressed(ev.Message)
		var targets []func(string)
		if !suppressed {
			for _, cb := range rec.callbacks {
				if cb.OnError != nil {
					targets = append(targets, cb.OnError)
				}
			}
		}
		r.mu.Unlock()
		if suppressed {
			r.log.Debug("suppressed stream error",
				slog.String("session_id", id), slog.String("message", ev.Message))
			return
		}
		for _, fn := range targets {
			fn(ev.Message)
		}

	case backend.TimeEvent:
		var targets []func(position time.Duration)
		for _, cb := range rec.callbacks {
			if cb.OnTime != nil {
				targets = append(targets, cb.OnTime)
			}
		}
		r.mu.Unlock()
		for _, fn := range targets {
			fn(ev.Position)
		}

	case backend.EndedEvent:
		rec.snap.Run = backend.RunState{Kind: backend.RunStopped}
		rec.snap.Buffer = ev.Buffer
		var targets []func(string, backend.BufferDescriptor)
		for _, cb := range rec.callbacks {
			if cb.OnEnded != nil {
				targets = append(targets, cb.OnEnded)
			}
		}
		r.mu.Unlock()
		for _, fn := range targets {
			fn(ev.Reason, ev.Buffer)
		}

	case backend.CompleteEvent:
		var targets []func()
		for _, cb := range rec.callbacks {
			if cb.OnComplete != nil {
				targets = append(targets, cb.OnComplete)
			}
		}
		r.mu.Unlock()
		for _, fn := range targets {
			fn()
		}

	case backend.StateChangeEvent:
		prev := backend.ParseRunState(ev.Previous)
		cur := backend.ParseRunState(ev.Current)
		rec.snap.Run = cur
		if cur.IsError() {
			rec.snap.ErrorMessage = cur.Message
		}
		var targets []func(previous, current backend.RunState)
		for _, cb := range rec.callbacks {
			if cb.OnStateChange != nil {
				targets = append(targets, cb.OnStateChange)
			}
		}
		r.mu.Unlock()
		for _, fn := range targets {
			fn(prev, cur)
		}

	case backend.ListenerCountEvent:
		rec.snap.ListenerCount = ev.Count
		var targets []func(int)
		for _, cb := range rec.callbacks {
			if cb.OnListenerCount != nil {
				targets = append(targets, cb.OnListenerCount)
			}
		}
		r.mu.Unlock()
		for _, fn := range targets {
			fn(ev.Count)
		}

	default:
		r.mu.Unlock()
	}
}
