package streamhub

import (
	"log/slog"
	"sync"
	"time"
)

// heartbeat is one session's liveness keeper: a single repeating timer that
// re-registers every locally known listener id each tick. The period is
// materially shorter than the backend's eviction timeout, so losing one
// tick never ends the session on its own.
type heartbeat struct {
	stopCh chan struct{}
	once   sync.Once
}

func (hb *heartbeat) stop() {
	hb.once.Do(func() { close(hb.stopCh) })
}

// startHeartbeat spawns the keeper goroutine for id. Called with the mutex
// held; the goroutine itself takes the mutex only to snapshot listener ids.
func (r *Registry) startHeartbeat(id string) *heartbeat {
	hb := &heartbeat{stopCh: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(r.hbInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hb.stopCh:
				return
			case <-r.baseCtx.Done():
				return
			case <-ticker.C:
				r.renewListeners(id)
			}
		}
	}()
	return hb
}

// renewListeners re-sends liveness for every currently registered local
// listener. Transient failures are swallowed and retried next tick.
func (r *Registry) renewListeners(id string) {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	ids := rec.listenerIDs()
	r.mu.Unlock()

	for _, lid := range ids {
		if err := r.svc.RegisterListener(r.baseCtx, id, lid); err != nil {
			r.log.Debug("heartbeat renewal failed",
				slog.String("session_id", id),
				slog.String("listener_id", lid),
				slog.String("error", err.Error()))
		}
	}
}
