package backendtest

import (
	"context"
	"errors"
	"testing"

	"github.com/capturekit/streamhub-go/backend"
)

func TestFake_ServiceConformance(t *testing.T) {
	RunServiceTests(t, func(t *testing.T) (backend.Service, func()) {
		return New(), func() {}
	})
}

func TestFake_FailNextConsumesInOrder(t *testing.T) {
	f := New()
	first := backend.NewError(backend.CodeUnavailable, "backend down")
	second := errors.New("still down")
	f.FailNext("GetState", first)
	f.FailNext("GetState", second)

	if _, err := f.GetState(context.Background(), "x"); !errors.Is(err, first) {
		t.Fatalf("first scripted failure = %v", err)
	}
	if _, err := f.GetState(context.Background(), "x"); !errors.Is(err, second) {
		t.Fatalf("second scripted failure = %v", err)
	}
	// Scripted failures exhausted; the real behavior resumes.
	if _, err := f.GetState(context.Background(), "x"); !backend.IsNotFound(err) {
		t.Fatalf("expected natural not-found, got %v", err)
	}
	if n := f.Calls("GetState"); n != 3 {
		t.Fatalf("GetState counted %d calls, want 3", n)
	}
}

func TestFake_PushDeliversInOrderAndDropsErroringSubscriber(t *testing.T) {
	f := New()
	ctx := context.Background()

	var got []string
	cancel, err := f.SubscribeEvents(ctx, "s1", func(_ context.Context, ev backend.Event) error {
		se := ev.(backend.StateChangeEvent)
		got = append(got, se.Current)
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	defer cancel()

	failing, err := f.SubscribeEvents(ctx, "s1", func(context.Context, backend.Event) error {
		return errors.New("handler broken")
	})
	if err != nil {
		t.Fatalf("SubscribeEvents (failing): %v", err)
	}
	defer failing()

	f.Push("s1", backend.StateChangeEvent{Previous: "stopped", Current: "running"})
	f.Push("s1", backend.StateChangeEvent{Previous: "running", Current: "paused"})

	if len(got) != 2 || got[0] != "running" || got[1] != "paused" {
		t.Fatalf("delivered = %v, want [running paused]", got)
	}
	// The erroring subscriber was dropped on the first push.
	if n := f.SubscriberCount("s1"); n != 1 {
		t.Fatalf("subscribers = %d, want 1 after drop", n)
	}
}

func TestFake_CancelStopsDelivery(t *testing.T) {
	f := New()
	var got int
	cancel, err := f.SubscribeEvents(context.Background(), "s1", func(context.Context, backend.Event) error {
		got++
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	f.Push("s1", backend.CompleteEvent{})
	cancel()
	f.Push("s1", backend.CompleteEvent{})
	if got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
}
