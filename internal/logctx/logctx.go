// Package logctx carries session, listener, and operation identifiers in
// the context so a wrapping slog.Handler can attach them to every record
// emitted beneath a coordination call.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends grouped attributes for any
// coordination identifiers found in the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionKey{}).(*sessionData); ok {
		attrs := []any{slog.String("id", sd.SessionID)}
		if sd.ProfileID != "" {
			attrs = append(attrs, slog.String("profile_id", sd.ProfileID))
		}
		r.AddAttrs(slog.Group("sess", attrs...))
	}
	if lid, ok := ctx.Value(listenerKey{}).(string); ok {
		r.AddAttrs(slog.String("listener_id", lid))
	}
	if op, ok := ctx.Value(operationKey{}).(string); ok {
		r.AddAttrs(slog.String("op", op))
	}
	return h.Handler.Handle(ctx, r)
}

type sessionKey struct{}

type sessionData struct {
	SessionID string
	ProfileID string
}

// WithSession attaches session identifiers. An empty profileID preserves
// any profile id already present for the same session.
func WithSession(ctx context.Context, sessionID, profileID string) context.Context {
	if profileID == "" {
		if prev, ok := ctx.Value(sessionKey{}).(*sessionData); ok && prev.SessionID == sessionID {
			return ctx
		}
	}
	return context.WithValue(ctx, sessionKey{}, &sessionData{SessionID: sessionID, ProfileID: profileID})
}

type listenerKey struct{}

// WithListener attaches the listener id.
func WithListener(ctx context.Context, listenerID string) context.Context {
	return context.WithValue(ctx, listenerKey{}, listenerID)
}

type operationKey struct{}

// WithOperation attaches the control-operation name.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}
