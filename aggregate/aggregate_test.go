package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	streamhub "github.com/capturekit/streamhub-go"
	"github.com/capturekit/streamhub-go/backend"
	"github.com/capturekit/streamhub-go/backend/backendtest"
	"github.com/capturekit/streamhub-go/profile"
)

func newRegistry(t *testing.T) (*streamhub.Registry, *backendtest.Fake) {
	t.Helper()
	fake := backendtest.New()
	reg := streamhub.New(fake, fake, streamhub.WithHeartbeatInterval(time.Minute))
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg, fake
}

func canSource(id string, sourceBus, logicalBus int) Source {
	return Source{
		Profile:    profile.Profile{ID: id, DisplayName: "CAN " + id, InterfaceID: "can0"},
		SourceBus:  sourceBus,
		LogicalBus: logicalBus,
	}
}

func TestSynthesizeID_DistinctPerCall(t *testing.T) {
	sources := []Source{canSource("p1", 0, 0)}
	a := SynthesizeID(sources)
	b := SynthesizeID(sources)
	if a == b {
		t.Fatalf("two syntheses of the same source set collided: %q", a)
	}
	if !strings.HasPrefix(a, "can-") || !strings.HasPrefix(b, "can-") {
		t.Fatalf("ids %q, %q missing protocol hint prefix", a, b)
	}
}

func TestSynthesizeID_HintPriority(t *testing.T) {
	cases := []struct {
		name   string
		src    Source
		prefix string
	}{
		{
			name:   "explicit protocol wins",
			src:    Source{Profile: profile.Profile{ID: "p", Protocol: "J1939", InterfaceID: "tty0"}},
			prefix: "j1939-",
		},
		{
			name:   "interface pattern",
			src:    Source{Profile: profile.Profile{ID: "p", InterfaceID: "ttyUSB0"}},
			prefix: "serial-",
		},
		{
			name:   "vcan interface",
			src:    Source{Profile: profile.Profile{ID: "p", InterfaceID: "vcan1"}},
			prefix: "can-",
		},
		{
			name:   "udp interface",
			src:    Source{Profile: profile.Profile{ID: "p", InterfaceID: "udp:9000"}},
			prefix: "socket-",
		},
		{
			name:   "display name heuristic",
			src:    Source{Profile: profile.Profile{ID: "p", DisplayName: "Bench UART adapter"}},
			prefix: "serial-",
		},
		{
			name:   "generic fallback",
			src:    Source{Profile: profile.Profile{ID: "p", DisplayName: "Mystery box"}},
			prefix: "stream-",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := SynthesizeID([]Source{tc.src})
			if !strings.HasPrefix(id, tc.prefix) {
				t.Fatalf("id = %q, want prefix %q", id, tc.prefix)
			}
		})
	}
}

func TestOpen_PassesMappingsAndFraming(t *testing.T) {
	ctx := context.Background()
	reg, fake := newRegistry(t)

	framing := &backend.FramingConfig{Mode: "delimiter", Delimiter: '\n'}
	sources := []Source{
		canSource("can-a", 0, 0),
		canSource("can-b", 0, 1),
		{
			Profile:    profile.Profile{ID: "ser-a", DisplayName: "Serial A", InterfaceID: "ttyUSB0", SupportsFraming: true},
			SourceBus:  0,
			LogicalBus: 2,
			Framing:    framing,
		},
	}

	sess, err := Open(ctx, reg, "Test rig", "viewer1", sources)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	req, ok := fake.LastCreateRequest(sess.ID)
	if !ok {
		t.Fatalf("no create request recorded for %s", sess.ID)
	}
	if req.SessionID != sess.ID || req.ProfileID != "can-a" {
		t.Fatalf("create request ids = %q/%q", req.SessionID, req.ProfileID)
	}
	if len(req.ConstituentProfiles) != 3 {
		t.Fatalf("constituents = %v, want 3 entries", req.ConstituentProfiles)
	}
	if len(req.BusMappings) != 3 {
		t.Fatalf("bus mappings = %v, want 3 entries", req.BusMappings)
	}
	if req.BusMappings[1] != (backend.BusMapping{ProfileID: "can-b", SourceBus: 0, LogicalBus: 1}) {
		t.Fatalf("mapping for can-b = %+v", req.BusMappings[1])
	}
	if len(req.Framing) != 1 {
		t.Fatalf("framing = %v, want 1 entry for the framing-capable source", req.Framing)
	}
	if req.Framing[0].ProfileID != "ser-a" || req.Framing[0].Mode != "delimiter" {
		t.Fatalf("framing entry = %+v", req.Framing[0])
	}
}

func TestOpen_FramingIgnoredForIncapableProfile(t *testing.T) {
	ctx := context.Background()
	reg, fake := newRegistry(t)

	src := canSource("can-a", 0, 0)
	src.Framing = &backend.FramingConfig{Mode: "delimiter", Delimiter: '\n'}

	sess, err := Open(ctx, reg, "Rig", "v1", []Source{src})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	req, _ := fake.LastCreateRequest(sess.ID)
	if len(req.Framing) != 0 {
		t.Fatalf("framing for non-framing profile = %v, want none", req.Framing)
	}
}

func TestOpen_ConcurrentAggregatesCoexist(t *testing.T) {
	ctx := context.Background()
	reg, fake := newRegistry(t)

	first, err := Open(ctx, reg, "Run 1", "v1", []Source{canSource("p1", 0, 0)})
	if err != nil {
		t.Fatalf("Open #1: %v", err)
	}
	second, err := Open(ctx, reg, "Run 2", "v1", []Source{canSource("p2", 0, 0)})
	if err != nil {
		t.Fatalf("Open #2: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("aggregates over distinct profiles reused id %q", first.ID)
	}
	if fake.SessionCount() != 2 {
		t.Fatalf("backend sessions = %d, want 2", fake.SessionCount())
	}
}

func TestOpen_EmptySources(t *testing.T) {
	reg, _ := newRegistry(t)
	if _, err := Open(context.Background(), reg, "x", "v1", nil); !errors.Is(err, ErrNoSources) {
		t.Fatalf("err = %v, want ErrNoSources", err)
	}
	if _, err := Join(context.Background(), reg, "sid", "x", "v1", nil); !errors.Is(err, ErrNoSources) {
		t.Fatalf("Join err = %v, want ErrNoSources", err)
	}
}

func TestJoin_AttachesToExistingAggregate(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	sources := []Source{canSource("p1", 0, 0), canSource("p2", 0, 1)}
	sess, err := Open(ctx, reg, "Rig", "owner", sources)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	joined, err := Join(ctx, reg, sess.ID, "Rig", "late", []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if joined.ID != sess.ID {
		t.Fatalf("joined id = %q, want %q", joined.ID, sess.ID)
	}
	if joined.IsOwner {
		t.Fatal("late joiner must not own the aggregate")
	}
	if joined.ListenerCount != 2 {
		t.Fatalf("listener count = %d, want 2", joined.ListenerCount)
	}
}
