package redisbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/capturekit/streamhub-go/backend"
	"github.com/capturekit/streamhub-go/backend/backendtest"
)

const testRedisAddr = "localhost:6379"

func requireRedis(t *testing.T) {
	t.Helper()
	cl := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	defer cl.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cl.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", testRedisAddr, err)
	}
}

// startBridge wires a Bridge to a Server backed by fake over a key prefix
// unique to this test, so parallel packages sharing the Redis instance
// cannot interfere.
func startBridge(t *testing.T, fake *backendtest.Fake) (*Bridge, *Server) {
	t.Helper()
	cfg := Config{
		RedisAddr:   testRedisAddr,
		KeyPrefix:   "streamhub-test:" + uuid.NewString() + ":",
		CallTimeout: 5 * time.Second,
	}
	srv, err := NewServer(cfg, fake, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})

	br, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { br.Close() })
	return br, srv
}

func TestBridge_ServiceConformance(t *testing.T) {
	requireRedis(t)
	backendtest.RunServiceTests(t, func(t *testing.T) (backend.Service, func()) {
		br, _ := startBridge(t, backendtest.New())
		return br, func() {}
	})
}

func TestBridge_ErrorCodesSurviveTheWire(t *testing.T) {
	requireRedis(t)
	br, _ := startBridge(t, backendtest.New())
	ctx := context.Background()

	_, err := br.GetState(ctx, "missing")
	if !backend.IsNotFound(err) {
		t.Fatalf("expected structured not-found over the wire, got %v", err)
	}

	if _, err := br.CreateSession(ctx, backend.CreateRequest{SessionID: "s1", ProfileID: "p1", ListenerID: "a"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	_, err = br.CreateSession(ctx, backend.CreateRequest{SessionID: "s2", ProfileID: "p1", ListenerID: "b"})
	if !backend.IsProfileInUse(err) {
		t.Fatalf("expected structured profile-in-use over the wire, got %v", err)
	}
}

func TestBridge_EventRoundTrip(t *testing.T) {
	requireRedis(t)
	br, srv := startBridge(t, backendtest.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan backend.Event, 16)
	unsub, err := br.SubscribeEvents(ctx, "s1", func(_ context.Context, ev backend.Event) error {
		events <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	defer unsub()

	// XREAD from "$" needs the reader in place before the first publish.
	time.Sleep(200 * time.Millisecond)

	published := []backend.Event{
		backend.StateChangeEvent{Previous: "stopped", Current: "running"},
		backend.BatchEvent{Batch: backend.Batch{
			Frames:          []backend.Frame{{Bus: 1, ID: 0x1A2, TimeMicros: 42, Data: []byte{0xDE, 0xAD}}},
			ActiveListeners: []string{"a"},
		}},
		backend.ErrorEvent{Message: "link lost"},
		backend.EndedEvent{Reason: "stopped", Buffer: backend.BufferDescriptor{Available: true, ID: "buf-1", Kind: backend.BufferFrames, Count: 10}},
	}
	for _, ev := range published {
		if err := srv.PublishEvent(ctx, "s1", ev); err != nil {
			t.Fatalf("PublishEvent(%T): %v", ev, err)
		}
	}

	for i, want := range published {
		select {
		case got := <-events:
			checkEventEqual(t, i, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("event %d (%T) never delivered", i, want)
		}
	}

	if err := srv.CleanupSession(ctx, "s1"); err != nil {
		t.Fatalf("CleanupSession: %v", err)
	}
}

func checkEventEqual(t *testing.T, i int, want, got backend.Event) {
	t.Helper()
	switch want := want.(type) {
	case backend.StateChangeEvent:
		gotEv, ok := got.(backend.StateChangeEvent)
		if !ok || gotEv != want {
			t.Fatalf("event %d = %#v, want %#v", i, got, want)
		}
	case backend.BatchEvent:
		gotEv, ok := got.(backend.BatchEvent)
		if !ok {
			t.Fatalf("event %d = %#v, want batch", i, got)
		}
		if len(gotEv.Batch.Frames) != 1 || gotEv.Batch.Frames[0].ID != want.Batch.Frames[0].ID {
			t.Fatalf("event %d frames = %#v", i, gotEv.Batch.Frames)
		}
		if len(gotEv.Batch.ActiveListeners) != 1 || gotEv.Batch.ActiveListeners[0] != "a" {
			t.Fatalf("event %d allow-list = %v", i, gotEv.Batch.ActiveListeners)
		}
	case backend.ErrorEvent:
		gotEv, ok := got.(backend.ErrorEvent)
		if !ok || gotEv != want {
			t.Fatalf("event %d = %#v, want %#v", i, got, want)
		}
	case backend.EndedEvent:
		gotEv, ok := got.(backend.EndedEvent)
		if !ok || gotEv != want {
			t.Fatalf("event %d = %#v, want %#v", i, got, want)
		}
	default:
		t.Fatalf("unhandled expectation %T", want)
	}
}

func TestBridge_CallTimeoutIsUnavailable(t *testing.T) {
	requireRedis(t)
	// No server behind this prefix, so the call must time out.
	cfg := Config{
		RedisAddr:   testRedisAddr,
		KeyPrefix:   "streamhub-test:" + uuid.NewString() + ":",
		CallTimeout: 300 * time.Millisecond,
	}
	br, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer br.Close()

	_, err = br.GetState(context.Background(), "s1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var be *backend.Error
	if !errors.As(err, &be) || be.Code != backend.CodeUnavailable {
		t.Fatalf("timeout error = %v, want unavailable classification", err)
	}
}
