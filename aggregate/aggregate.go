// Package aggregate builds one logical session out of several physical
// source profiles: a synthesized collision-resistant session id, per-profile
// bus remapping, and independent framing configuration for framing-capable
// constituents.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	streamhub "github.com/capturekit/streamhub-go"
	"github.com/capturekit/streamhub-go/backend"
	"github.com/capturekit/streamhub-go/profile"
)

// ErrNoSources is returned when an aggregate is opened with an empty source
// list.
var ErrNoSources = errors.New("aggregate requires at least one source")

// Source is one constituent of a multi-source session.
type Source struct {
	Profile profile.Profile
	// SourceBus/LogicalBus remap the constituent's bus into the aggregate's
	// logical bus space.
	SourceBus  int
	LogicalBus int
	// Framing applies only to framing-capable profiles; nil otherwise.
	Framing *backend.FramingConfig
}

// SynthesizeID mints a session id for the source set. The descriptive part
// is derived from protocol hints in priority order (explicit protocol tag,
// then interface-id pattern, then display-name heuristic, then a generic
// fallback) and a short random suffix makes the id unique per create, so
// unrelated capture runs sharing device profiles cannot cross-talk.
func SynthesizeID(sources []Source) string {
	return fmt.Sprintf("%s-%s", hint(sources), uuid.NewString()[:8])
}

func hint(sources []Source) string {
	for _, src := range sources {
		if p := strings.ToLower(strings.TrimSpace(src.Profile.Protocol)); p != "" {
			return sanitize(p)
		}
	}
	for _, src := range sources {
		if h := interfaceHint(src.Profile.InterfaceID); h != "" {
			return h
		}
	}
	for _, src := range sources {
		if h := nameHint(src.Profile.DisplayName); h != "" {
			return h
		}
	}
	return "stream"
}

func interfaceHint(ifaceID string) string {
	id := strings.ToLower(ifaceID)
	switch {
	case strings.HasPrefix(id, "can") || strings.HasPrefix(id, "vcan"):
		return "can"
	case strings.HasPrefix(id, "tty") || strings.HasPrefix(id, "com") || strings.HasPrefix(id, "/dev/tty"):
		return "serial"
	case strings.HasPrefix(id, "udp") || strings.HasPrefix(id, "tcp"):
		return "socket"
	}
	return ""
}

func nameHint(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "can"):
		return "can"
	case strings.Contains(n, "serial") || strings.Contains(n, "uart"):
		return "serial"
	case strings.Contains(n, "ethernet") || strings.Contains(n, "network"):
		return "socket"
	}
	return ""
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r == ' ' || r == '_' || r == '.':
			return '-'
		}
		return -1
	}, s)
}

// Open creates a multi-source session over reg, merging the given sources
// under a freshly synthesized id. The id is never reused: a second Open
// with identical sources yields a distinct session.
func Open(ctx context.Context, reg *streamhub.Registry, displayName, listenerID string, sources []Source) (streamhub.Session, error) {
	if len(sources) == 0 {
		return streamhub.Session{}, ErrNoSources
	}
	id := SynthesizeID(sources)

	mappings := make([]backend.BusMapping, 0, len(sources))
	var framing []backend.FramingConfig
	constituents := make([]string, 0, len(sources))
	for _, src := range sources {
		constituents = append(constituents, src.Profile.ID)
		mappings = append(mappings, backend.BusMapping{
			ProfileID:  src.Profile.ID,
			SourceBus:  src.SourceBus,
			LogicalBus: src.LogicalBus,
		})
		if src.Framing != nil && src.Profile.SupportsFraming {
			fc := *src.Framing
			fc.ProfileID = src.Profile.ID
			framing = append(framing, fc)
		}
	}

	return reg.Open(ctx, sources[0].Profile.ID, displayName, listenerID, streamhub.OpenOptions{
		SessionID:           id,
		BusMappings:         mappings,
		Framing:             framing,
		ConstituentProfiles: constituents,
	})
}

// Join attaches a late-arriving consumer to an existing aggregate by id.
// The constituent profile ids identify the aggregate's members; no bus
// mappings are recreated because the backend session already holds them.
func Join(ctx context.Context, reg *streamhub.Registry, sessionID, displayName, listenerID string, profileIDs []string) (streamhub.Session, error) {
	if len(profileIDs) == 0 {
		return streamhub.Session{}, ErrNoSources
	}
	return reg.Open(ctx, profileIDs[0], displayName, listenerID, streamhub.OpenOptions{
		SessionID:           sessionID,
		ConstituentProfiles: append([]string(nil), profileIDs...),
	})
}
