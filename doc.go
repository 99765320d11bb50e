// Package streamhub coordinates shared access to long-lived streaming data
// sessions (live hardware feeds, database replay, file playback) across
// independent consumers in one process. It is the stateful core of the
// surrounding application: everything else renders what this package
// reports.
//
// Layers & Roles
//
//	Registry        -> session lifecycle state machine, listener refcounting,
//	                   atomic reinitialize, idempotent control wrappers
//	Router          -> per-session push-event fan-out filtered by the
//	                   backend's active-listener allow-list (router.go)
//	Heartbeat       -> one liveness ticker per live session (heartbeat.go)
//	backend.Service -> opaque remote session service (see package backend)
//
// The Registry is an explicit object owned by the application root; create
// one at startup with New, hand references to consumers, and tear it down
// with Close. Consumers usually work through the consumer package, which
// layers per-view ergonomics (detach/rejoin, watch counting) on top.
//
// # Ownership
//
// The listener whose Open call created a session is its owner. Only the
// owner's Remove destroys backend state; everyone else merely decrements
// the backend's listener count on Leave. A session whose last local
// listener leaves is torn down locally regardless of ownership.
//
// # Concurrency
//
// All Registry state is guarded by one mutex that is never held across a
// backend round trip. The open path publishes a "connecting" placeholder
// before its first remote call and reconciles after, adopting the record of
// any concurrent caller that finished first.
package streamhub
