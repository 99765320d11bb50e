package streamhub

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHeartbeat_RenewsRegisteredListeners(t *testing.T) {
	ctx := context.Background()
	reg, fake := newTestRegistry(t) // 5ms heartbeat

	sess, err := reg.Open(ctx, "p1", "One", "a", OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// The create path itself issues no RegisterListener; every one observed
	// afterwards is a heartbeat renewal.
	waitFor(t, time.Second, func() bool { return fake.Calls("RegisterListener") >= 2 })

	if got := fake.Listeners(sess.ID); len(got) != 1 || got[0] != "a" {
		t.Fatalf("backend listeners = %v, want [a]", got)
	}
}

func TestHeartbeat_RenewsEveryLocalListener(t *testing.T) {
	ctx := context.Background()
	reg, fake := newTestRegistry(t)

	sess, err := reg.Open(ctx, "p1", "One", "a", OpenOptions{})
	if err != nil {
		t.Fatalf("Open(a): %v", err)
	}
	if _, err := reg.Open(ctx, "p1", "One", "b", OpenOptions{}); err != nil {
		t.Fatalf("Open(b): %v", err)
	}

	waitFor(t, time.Second, func() bool {
		got := fake.Listeners(sess.ID)
		return len(got) == 2 && fake.Calls("RegisterListener") >= 4
	})
}

func TestHeartbeat_StopsAfterLastLeave(t *testing.T) {
	ctx := context.Background()
	reg, fake := newTestRegistry(t)

	sess, err := reg.Open(ctx, "p1", "One", "a", OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, time.Second, func() bool { return fake.Calls("RegisterListener") >= 1 })

	if err := reg.Leave(ctx, sess.ID, "a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// Renewals must stop once the last local listener is gone; allow one
	// in-flight tick to drain before sampling.
	time.Sleep(20 * time.Millisecond)
	before := fake.Calls("RegisterListener")
	time.Sleep(30 * time.Millisecond)
	if after := fake.Calls("RegisterListener"); after != before {
		t.Fatalf("heartbeat still renewing after last leave: %d -> %d", before, after)
	}
}

func TestHeartbeat_StopsAfterLastCallbackCleared(t *testing.T) {
	ctx := context.Background()
	reg, fake := newTestRegistry(t)

	sess, err := reg.Open(ctx, "p1", "One", "a", OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.RegisterCallbacks(sess.ID, "a", Callbacks{}); err != nil {
		t.Fatalf("RegisterCallbacks: %v", err)
	}
	waitFor(t, time.Second, func() bool { return fake.Calls("RegisterListener") >= 1 })

	if err := reg.ClearCallbacks(ctx, sess.ID, "a"); err != nil {
		t.Fatalf("ClearCallbacks: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	before := fake.Calls("RegisterListener")
	time.Sleep(30 * time.Millisecond)
	if after := fake.Calls("RegisterListener"); after != before {
		t.Fatalf("heartbeat still renewing after last callback cleared: %d -> %d", before, after)
	}
	if _, ok := reg.GetSession(sess.ID); ok {
		t.Fatal("sole listener cleared its callbacks; the record should be gone")
	}
}

func TestHeartbeat_SurvivesTransientRenewalFailure(t *testing.T) {
	ctx := context.Background()
	reg, fake := newTestRegistry(t)

	sess, err := reg.Open(ctx, "p1", "One", "a", OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fake.FailNext("RegisterListener", context.DeadlineExceeded)

	// The failed tick is swallowed and the next one lands.
	waitFor(t, time.Second, func() bool { return fake.Calls("RegisterListener") >= 3 })
	if got, ok := reg.GetSession(sess.ID); !ok || got.Lifecycle != LifecycleConnected {
		t.Fatal("transient renewal failure must not change the session")
	}
}
