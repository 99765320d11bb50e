// Package backend defines the contract between the session coordination
// layer and the remote session service that owns the actual stream I/O. It
// deliberately stays dependency-free: every transport (in-process fake,
// Redis bridge, or an embedding application's own RPC layer) implements the
// same two interfaces.
//
// Layers & Roles
//
//	Service     -> request/response control plane (create/join/start/stop/...)
//	EventSource -> per-session push events (batches, state changes, errors)
//
// The coordination layer never decodes payloads or touches hardware; it only
// folds the confirmed results of Service calls and the EventSource push
// stream into its local session records.
//
// # Errors
//
// Control-call failures carry a structured code (Error.Code). Callers should
// classify with IsNotFound and IsProfileInUse rather than matching message
// text; both helpers retain a message-sniffing fallback for backends that
// predate the codes.
package backend
