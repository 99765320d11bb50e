package streamhub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/capturekit/streamhub-go/backend"
	"github.com/capturekit/streamhub-go/internal/logctx"
)

// Control wrappers are idempotent: each forwards to the backend only when
// the local record says the call can change anything, and folds the
// backend's confirmed resulting state back into the record.

// Start begins streaming. A session already running or starting is left
// alone without a round trip. The record enters "starting" optimistically
// before the call so consumers never see a stopped flash during round-trip
// latency.
func (r *Registry) Start(ctx context.Context, id string) (Session, error) {
	ctx = logctx.WithOperation(ctx, "start")
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	if rec.snap.Run.Kind == backend.RunRunning || rec.snap.Run.Kind == backend.RunStarting {
		snap := rec.snap
		r.mu.Unlock()
		return snap, nil
	}
	prev := rec.snap.Run
	rec.snap.Run = backend.RunState{Kind: backend.RunStarting}
	rec.snap.StoppedExplicitly = false
	r.mu.Unlock()

	run, err := r.svc.Start(ctx, id)
	r.mu.Lock()
	rec, ok = r.sessions[id]
	if ok {
		if err != nil {
			rec.snap.Run = prev
		} else {
			rec.snap.Run = run
		}
	}
	var snap Session
	if ok {
		snap = rec.snap
	}
	r.mu.Unlock()
	if err != nil {
		return snap, fmt.Errorf("start session: %w", err)
	}
	return snap, nil
}

// Stop halts streaming. A "not found" failure means the backend already
// tore the session down and is treated as success.
func (r *Registry) Stop(ctx context.Context, id string) (Session, error) {
	ctx = logctx.WithOperation(ctx, "stop")
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	r.mu.Unlock()

	run, err := r.svc.Stop(ctx, id)
	if err != nil {
		if !backend.IsNotFound(err) {
			return Session{}, fmt.Errorf("stop session: %w", err)
		}
		run = backend.RunState{Kind: backend.RunStopped}
	}

	r.mu.Lock()
	var snap Session
	if rec, ok := r.sessions[id]; ok {
		rec.snap.Run = run
		rec.snap.StoppedExplicitly = true
		snap = rec.snap
	}
	r.mu.Unlock()
	return snap, nil
}

// Pause suspends a running stream; a no-op for anything not running.
func (r *Registry) Pause(ctx context.Context, id string) (Session, error) {
	return r.foldRun(logctx.WithOperation(ctx, "pause"), id, backend.RunRunning, r.svc.Pause)
}

// Resume continues a paused stream; a no-op for anything not paused.
func (r *Registry) Resume(ctx context.Context, id string) (Session, error) {
	return r.foldRun(logctx.WithOperation(ctx, "resume"), id, backend.RunPaused, r.svc.Resume)
}

func (r *Registry) foldRun(ctx context.Context, id string, want backend.RunStateKind, call func(context.Context, string) (backend.RunState, error)) (Session, error) {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	if rec.snap.Run.Kind != want {
		snap := rec.snap
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	run, err := call(ctx, id)
	if err != nil {
		return Session{}, err
	}
	r.mu.Lock()
	var snap Session
	if rec, ok := r.sessions[id]; ok {
		rec.snap.Run = run
		snap = rec.snap
	}
	r.mu.Unlock()
	return snap, nil
}

// SetSpeed adjusts replay speed.
func (r *Registry) SetSpeed(ctx context.Context, id string, speed float64) error {
	if err := r.require(id); err != nil {
		return err
	}
	return r.svc.SetSpeed(logctx.WithOperation(ctx, "set_speed"), id, speed)
}

// SetTimeRange bounds replay playback.
func (r *Registry) SetTimeRange(ctx context.Context, id string, tr backend.TimeRange) error {
	if err := r.require(id); err != nil {
		return err
	}
	return r.svc.SetTimeRange(logctx.WithOperation(ctx, "set_time_range"), id, tr)
}

// Seek repositions replay playback.
func (r *Registry) Seek(ctx context.Context, id string, pos time.Duration) error {
	if err := r.require(id); err != nil {
		return err
	}
	return r.svc.Seek(logctx.WithOperation(ctx, "seek"), id, pos)
}

// SwitchToBuffer flips the session onto replay of the named buffer and
// folds the confirmed state into the record.
func (r *Registry) SwitchToBuffer(ctx context.Context, id, bufferID string) (Session, error) {
	if err := r.require(id); err != nil {
		return Session{}, err
	}
	state, err := r.svc.SwitchToBuffer(logctx.WithOperation(ctx, "switch_to_buffer"), id, bufferID)
	if err != nil {
		return Session{}, fmt.Errorf("switch to buffer: %w", err)
	}
	r.mu.Lock()
	var snap Session
	if rec, ok := r.sessions[id]; ok {
		rec.snap.Run = state.Run
		rec.snap.Buffer = state.Buffer
		snap = rec.snap
	}
	r.mu.Unlock()
	return snap, nil
}

// Transmit sends an outbound frame. The capability check happens locally,
// before any round trip.
func (r *Registry) Transmit(ctx context.Context, id string, req backend.TransmitRequest) error {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	if rec.snap.Capabilities == nil || !rec.snap.Capabilities.CanTransmit {
		r.mu.Unlock()
		return ErrTransmitUnsupported
	}
	r.mu.Unlock()

	if err := r.svc.Transmit(logctx.WithOperation(ctx, "transmit"), id, req); err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	r.log.DebugContext(ctx, "frame transmitted", slog.String("session_id", id))
	return nil
}

func (r *Registry) require(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	return nil
}
