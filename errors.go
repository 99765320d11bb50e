package streamhub

import (
	"errors"
	"strings"
)

var (
	// ErrRegistryClosed is returned by operations on a closed Registry.
	ErrRegistryClosed = errors.New("session registry closed")
	// ErrSessionNotFound is returned when the named session has no local
	// record.
	ErrSessionNotFound = errors.New("session not found in registry")
	// ErrTransmitUnsupported is returned by Transmit before any round trip
	// when the session's capabilities do not include transmission.
	ErrTransmitUnsupported = errors.New("session does not support transmit")
)

// isSuppressed classifies an error message as expected/transient. Matches
// are substring-based over the configured fragment set.
func (r *Registry) isSuppressed(message string) bool {
	msg := strings.ToLower(message)
	for _, frag := range r.suppressed {
		if frag != "" && strings.Contains(msg, strings.ToLower(frag)) {
			return true
		}
	}
	return false
}
