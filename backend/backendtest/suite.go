package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/capturekit/streamhub-go/backend"
)

// ServiceFactory creates a fresh backend.Service for one conformance test,
// together with a cleanup function.
type ServiceFactory func(t *testing.T) (backend.Service, func())

// RunServiceTests runs the Service conformance suite against the provided
// factory. Both the in-memory Fake and transport implementations bridged to
// a Fake are expected to pass.
func RunServiceTests(t *testing.T, factory ServiceFactory) {
	t.Run("Create_AssignsOwnerWithSingleListener", func(t *testing.T) { testCreateSingleListener(t, factory) })
	t.Run("Create_DuplicateProfileReportsInUse", func(t *testing.T) { testCreateDuplicateProfile(t, factory) })
	t.Run("Join_IncrementsListenerCount", func(t *testing.T) { testJoinIncrements(t, factory) })
	t.Run("Register_IsIdempotent", func(t *testing.T) { testRegisterIdempotent(t, factory) })
	t.Run("Unregister_ReturnsRemainingAndReapsAtZero", func(t *testing.T) { testUnregisterReaps(t, factory) })
	t.Run("GetState_MissingSessionIsNotFound", func(t *testing.T) { testGetStateNotFound(t, factory) })
	t.Run("StartStop_FoldRunState", func(t *testing.T) { testStartStop(t, factory) })
	t.Run("Reinitialize_BlockedThenSafe", func(t *testing.T) { testReinitialize(t, factory) })
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustCreate(t *testing.T, ctx context.Context, svc backend.Service, sessionID, profileID, listenerID string) backend.SessionState {
	t.Helper()
	st, err := svc.CreateSession(ctx, backend.CreateRequest{
		SessionID:   sessionID,
		ProfileID:   profileID,
		DisplayName: "Suite " + sessionID,
		ListenerID:  listenerID,
	})
	if err != nil {
		t.Fatalf("CreateSession(%s): %v", sessionID, err)
	}
	return st
}

func testCreateSingleListener(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	st := mustCreate(t, ctx, svc, "s1", "p1", "owner")
	if st.SessionID != "s1" {
		t.Fatalf("session id = %q, want s1", st.SessionID)
	}
	if st.ListenerCount != 1 {
		t.Fatalf("listener count = %d, want 1", st.ListenerCount)
	}
	ids, err := svc.ListListeners(ctx, "s1")
	if err != nil {
		t.Fatalf("ListListeners: %v", err)
	}
	if len(ids) != 1 || ids[0] != "owner" {
		t.Fatalf("listeners = %v, want [owner]", ids)
	}
}

func testCreateDuplicateProfile(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	mustCreate(t, ctx, svc, "s1", "p1", "a")
	_, err := svc.CreateSession(ctx, backend.CreateRequest{SessionID: "s2", ProfileID: "p1", ListenerID: "b"})
	if err == nil {
		t.Fatal("expected duplicate-profile create to fail")
	}
	if !backend.IsProfileInUse(err) {
		t.Fatalf("expected profile-in-use classification, got %v", err)
	}
}

func testJoinIncrements(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	mustCreate(t, ctx, svc, "s1", "p1", "a")
	st, err := svc.JoinSession(ctx, "s1", "b")
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if st.ListenerCount != 2 {
		t.Fatalf("listener count after join = %d, want 2", st.ListenerCount)
	}
}

func testRegisterIdempotent(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	mustCreate(t, ctx, svc, "s1", "p1", "a")
	for i := 0; i < 3; i++ {
		if err := svc.RegisterListener(ctx, "s1", "a"); err != nil {
			t.Fatalf("RegisterListener #%d: %v", i, err)
		}
	}
	st, err := svc.GetState(ctx, "s1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.ListenerCount != 1 {
		t.Fatalf("listener count after re-registration = %d, want 1", st.ListenerCount)
	}
}

func testUnregisterReaps(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	mustCreate(t, ctx, svc, "s1", "p1", "a")
	if _, err := svc.JoinSession(ctx, "s1", "b"); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	remaining, err := svc.UnregisterListener(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("UnregisterListener(a): %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining after first unregister = %d, want 1", remaining)
	}
	remaining, err = svc.UnregisterListener(ctx, "s1", "b")
	if err != nil {
		t.Fatalf("UnregisterListener(b): %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining after last unregister = %d, want 0", remaining)
	}
	if _, err := svc.GetState(ctx, "s1"); !backend.IsNotFound(err) {
		t.Fatalf("expected session reaped at zero listeners, got %v", err)
	}
}

func testGetStateNotFound(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	_, err := svc.GetState(ctx, "missing")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
	if !backend.IsNotFound(err) {
		t.Fatalf("expected not-found classification, got %v", err)
	}
}

func testStartStop(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	mustCreate(t, ctx, svc, "s1", "p1", "a")
	run, err := svc.Start(ctx, "s1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Kind != backend.RunRunning {
		t.Fatalf("run state after start = %s, want running", run.Kind)
	}
	run, err = svc.Stop(ctx, "s1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if run.Kind != backend.RunStopped {
		t.Fatalf("run state after stop = %s, want stopped", run.Kind)
	}
}

func testReinitialize(t *testing.T, factory ServiceFactory) {
	svc, cleanup := factory(t)
	defer cleanup()
	ctx := testCtx(t)

	mustCreate(t, ctx, svc, "s1", "p1", "a")
	if _, err := svc.JoinSession(ctx, "s1", "b"); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}

	check, err := svc.ReinitializeIfSafe(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("ReinitializeIfSafe (blocked): %v", err)
	}
	if check.Safe {
		t.Fatal("expected reinitialize to be blocked while b is registered")
	}
	if len(check.OtherListeners) != 1 || check.OtherListeners[0] != "b" {
		t.Fatalf("blocking listeners = %v, want [b]", check.OtherListeners)
	}

	if _, err := svc.UnregisterListener(ctx, "s1", "b"); err != nil {
		t.Fatalf("UnregisterListener(b): %v", err)
	}
	check, err = svc.ReinitializeIfSafe(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("ReinitializeIfSafe (safe): %v", err)
	}
	if !check.Safe {
		t.Fatalf("expected reinitialize to be safe, blockers %v", check.OtherListeners)
	}
	if _, err := svc.GetState(ctx, "s1"); !backend.IsNotFound(err) {
		t.Fatalf("expected session torn down after safe reinitialize, got %v", err)
	}
}
