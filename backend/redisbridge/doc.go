// Package redisbridge reaches a remote session service over Redis. Control
// calls travel as JSON envelopes through a shared request list with
// correlation-scoped reply lists (request/reply rendezvous); push events
// arrive on one Redis Stream per session id.
//
// Bridge implements backend.Service and backend.EventSource for the
// consuming side. Server adapts any backend.Service into the serving side,
// which is also how the conformance tests exercise the transport end to
// end against the in-memory fake.
//
// Configuration can be loaded from the environment via envdecode
// (NewFromEnv); see Config for the variable names.
package redisbridge
