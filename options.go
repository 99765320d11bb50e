package streamhub

import (
	"log/slog"
	"time"

	"github.com/capturekit/streamhub-go/backend"
)

// Option configures a Registry.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	evictionTTL time.Duration
	hbInterval  time.Duration
	suppressed  []string
}

// defaultSuppressed are error-message fragments classified as expected or
// transient: recorded into the session but never surfaced through OnError.
var defaultSuppressed = []string{
	"no profile configured",
	"not found",
}

func (c *config) applyDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.evictionTTL == 0 {
		c.evictionTTL = 30 * time.Second
	}
	if c.hbInterval == 0 {
		// Materially shorter than the backend eviction timeout so a single
		// lost tick cannot end the session.
		c.hbInterval = c.evictionTTL / 2
	}
	c.suppressed = append(append([]string(nil), defaultSuppressed...), c.suppressed...)
}

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithEvictionTTL declares the backend's listener eviction timeout. The
// heartbeat interval defaults to half of it.
func WithEvictionTTL(ttl time.Duration) Option {
	return func(c *config) { c.evictionTTL = ttl }
}

// WithHeartbeatInterval overrides the heartbeat period.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) { c.hbInterval = interval }
}

// WithSuppressedErrors adds error-message fragments to the expected/transient
// set on top of the defaults.
func WithSuppressedErrors(fragments ...string) Option {
	return func(c *config) { c.suppressed = append(c.suppressed, fragments...) }
}

// OpenOptions tunes one Open call. The zero value opens a plain
// single-profile session whose id is the profile id.
type OpenOptions struct {
	// SessionID overrides the session id; multi-source aggregates use this
	// to inject their synthesized id.
	SessionID string

	// BusMappings, Framing and ConstituentProfiles pass through to the
	// backend CreateRequest for multi-source sessions.
	BusMappings         []backend.BusMapping
	Framing             []backend.FramingConfig
	ConstituentProfiles []string
}
