// Package backendtest provides a scripted in-memory implementation of the
// backend contracts for tests, plus a reusable conformance suite that any
// Service implementation can be run against.
package backendtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capturekit/streamhub-go/backend"
)

// Fake implements backend.Service and backend.EventSource in memory. All
// methods are safe for concurrent use. Failures can be scripted per
// operation with FailNext, and every call is counted for assertions.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	subs     map[string][]*fakeSub
	calls    map[string]int
	failures map[string][]error

	// EvictAfterMisses is unused by the fake itself; tests read it to align
	// heartbeat expectations with a pretend eviction policy.
	EvictAfterMisses int
}

type fakeSession struct {
	state     backend.SessionState
	caps      backend.Capabilities
	owner     string
	listeners map[string]bool // id -> active
	req       backend.CreateRequest
}

type fakeSub struct {
	handler backend.EventHandler
	ctx     context.Context
}

// New returns an empty fake backend.
func New() *Fake {
	return &Fake{
		sessions: make(map[string]*fakeSession),
		subs:     make(map[string][]*fakeSub),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// FailNext scripts the next call to op (e.g. "CreateSession") to return err.
// Multiple scripted failures for one op are consumed in order.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// SetCapabilities overrides the capabilities reported for sessionID.
func (f *Fake) SetCapabilities(sessionID string, caps backend.Capabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.caps = caps
	}
}

// Seed installs a pre-existing backend session (e.g. created by another
// process) that a registry under test can join.
func (f *Fake) Seed(state backend.SessionState, owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{
		state:     state,
		owner:     owner,
		listeners: make(map[string]bool),
	}
	if owner != "" {
		s.listeners[owner] = true
	}
	s.state.ListenerCount = len(s.listeners)
	f.sessions[state.SessionID] = s
}

// Listeners returns the sorted listener ids registered for sessionID.
func (f *Fake) Listeners(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil
	}
	return sortedKeys(s.listeners)
}

// SessionCount returns the number of live backend sessions.
func (f *Fake) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// LastCreateRequest returns the CreateRequest that produced sessionID.
func (f *Fake) LastCreateRequest(sessionID string) (backend.CreateRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.CreateRequest{}, false
	}
	return s.req, true
}

func (f *Fake) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		err := q[0]
		f.failures[op] = q[1:]
		return err
	}
	return nil
}

// --- Service ---

func (f *Fake) CreateSession(ctx context.Context, req backend.CreateRequest) (backend.SessionState, error) {
	if err := f.begin("CreateSession"); err != nil {
		return backend.SessionState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.state.ProfileID == req.ProfileID && s.state.SessionID != req.SessionID {
			return backend.SessionState{}, backend.NewError(backend.CodeProfileInUse, "profile "+req.ProfileID+" already in use")
		}
	}
	id := req.SessionID
	if id == "" {
		id = req.ProfileID
	}
	s := &fakeSession{
		state: backend.SessionState{
			SessionID:   id,
			ProfileID:   req.ProfileID,
			DisplayName: req.DisplayName,
			Run:         backend.RunState{Kind: backend.RunStopped},
		},
		owner:     req.ListenerID,
		listeners: map[string]bool{req.ListenerID: true},
		req:       req,
	}
	s.state.ListenerCount = 1
	f.sessions[id] = s
	return s.state, nil
}

func (f *Fake) JoinSession(ctx context.Context, sessionID, listenerID string) (backend.SessionState, error) {
	if err := f.begin("JoinSession"); err != nil {
		return backend.SessionState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.SessionState{}, backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	s.listeners[listenerID] = true
	s.state.ListenerCount = len(s.listeners)
	return s.state, nil
}

func (f *Fake) GetState(ctx context.Context, sessionID string) (backend.SessionState, error) {
	if err := f.begin("GetState"); err != nil {
		return backend.SessionState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.SessionState{}, backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	return s.state, nil
}

func (f *Fake) GetCapabilities(ctx context.Context, sessionID string) (backend.Capabilities, error) {
	if err := f.begin("GetCapabilities"); err != nil {
		return backend.Capabilities{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.Capabilities{}, backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	return s.caps, nil
}

func (f *Fake) setRun(op, sessionID string, kind backend.RunStateKind) (backend.RunState, error) {
	if err := f.begin(op); err != nil {
		return backend.RunState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.RunState{}, backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	s.state.Run = backend.RunState{Kind: kind}
	return s.state.Run, nil
}

func (f *Fake) Start(ctx context.Context, sessionID string) (backend.RunState, error) {
	return f.setRun("Start", sessionID, backend.RunRunning)
}

func (f *Fake) Stop(ctx context.Context, sessionID string) (backend.RunState, error) {
	return f.setRun("Stop", sessionID, backend.RunStopped)
}

func (f *Fake) Pause(ctx context.Context, sessionID string) (backend.RunState, error) {
	return f.setRun("Pause", sessionID, backend.RunPaused)
}

func (f *Fake) Resume(ctx context.Context, sessionID string) (backend.RunState, error) {
	return f.setRun("Resume", sessionID, backend.RunRunning)
}

func (f *Fake) SetSpeed(ctx context.Context, sessionID string, speed float64) error {
	if err := f.begin("SetSpeed"); err != nil {
		return err
	}
	return f.require(sessionID)
}

func (f *Fake) SetTimeRange(ctx context.Context, sessionID string, r backend.TimeRange) error {
	if err := f.begin("SetTimeRange"); err != nil {
		return err
	}
	return f.require(sessionID)
}

func (f *Fake) Seek(ctx context.Context, sessionID string, pos time.Duration) error {
	if err := f.begin("Seek"); err != nil {
		return err
	}
	return f.require(sessionID)
}

func (f *Fake) SwitchToBuffer(ctx context.Context, sessionID, bufferID string) (backend.SessionState, error) {
	if err := f.begin("SwitchToBuffer"); err != nil {
		return backend.SessionState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.SessionState{}, backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	s.state.Run = backend.RunState{Kind: backend.RunStopped}
	s.state.Buffer = backend.BufferDescriptor{Available: true, ID: bufferID, Kind: backend.BufferFrames}
	return s.state, nil
}

func (f *Fake) Transmit(ctx context.Context, sessionID string, req backend.TransmitRequest) error {
	if err := f.begin("Transmit"); err != nil {
		return err
	}
	return f.require(sessionID)
}

func (f *Fake) RegisterListener(ctx context.Context, sessionID, listenerID string) error {
	if err := f.begin("RegisterListener"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	if _, known := s.listeners[listenerID]; !known {
		s.listeners[listenerID] = true
	}
	s.state.ListenerCount = len(s.listeners)
	return nil
}

func (f *Fake) UnregisterListener(ctx context.Context, sessionID, listenerID string) (int, error) {
	if err := f.begin("UnregisterListener"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return 0, backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	delete(s.listeners, listenerID)
	s.state.ListenerCount = len(s.listeners)
	remaining := len(s.listeners)
	if remaining == 0 {
		delete(f.sessions, sessionID)
	}
	return remaining, nil
}

func (f *Fake) ListListeners(ctx context.Context, sessionID string) ([]string, error) {
	if err := f.begin("ListListeners"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	return sortedKeys(s.listeners), nil
}

func (f *Fake) SetListenerActive(ctx context.Context, sessionID, listenerID string, active bool) error {
	if err := f.begin("SetListenerActive"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	if _, known := s.listeners[listenerID]; known {
		s.listeners[listenerID] = active
	}
	return nil
}

func (f *Fake) ReinitializeIfSafe(ctx context.Context, sessionID, listenerID string) (backend.ReinitCheck, error) {
	if err := f.begin("ReinitializeIfSafe"); err != nil {
		return backend.ReinitCheck{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		// Nothing to tear down; safe to recreate.
		return backend.ReinitCheck{Safe: true}, nil
	}
	var others []string
	for id := range s.listeners {
		if id != listenerID {
			others = append(others, id)
		}
	}
	if len(others) > 0 {
		sort.Strings(others)
		return backend.ReinitCheck{OtherListeners: others}, nil
	}
	delete(f.sessions, sessionID)
	return backend.ReinitCheck{Safe: true}, nil
}

func (f *Fake) require(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return backend.NewError(backend.CodeNotFound, "session "+sessionID+" not found")
	}
	return nil
}

// --- EventSource ---

func (f *Fake) SubscribeEvents(ctx context.Context, sessionID string, handler backend.EventHandler) (func(), error) {
	if err := f.begin("SubscribeEvents"); err != nil {
		return nil, err
	}
	sub := &fakeSub{handler: handler, ctx: ctx}
	f.mu.Lock()
	f.subs[sessionID] = append(f.subs[sessionID], sub)
	f.mu.Unlock()
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.subs[sessionID]
		for i, cur := range subs {
			if cur == sub {
				f.subs[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return cancel, nil
}

// Push delivers ev synchronously and in order to every subscriber of
// sessionID. A handler error drops that subscriber, matching the
// EventSource contract.
func (f *Fake) Push(sessionID string, ev backend.Event) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs[sessionID]...)
	f.mu.Unlock()
	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		if err := sub.handler(sub.ctx, ev); err != nil {
			f.mu.Lock()
			cur := f.subs[sessionID]
			for i, c := range cur {
				if c == sub {
					f.subs[sessionID] = append(cur[:i], cur[i+1:]...)
					break
				}
			}
			f.mu.Unlock()
		}
	}
}

// SubscriberCount returns the number of live event subscriptions for
// sessionID.
func (f *Fake) SubscriberCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[sessionID])
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compile-time interface checks
var (
	_ backend.Service     = (*Fake)(nil)
	_ backend.EventSource = (*Fake)(nil)
)
