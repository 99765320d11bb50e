package backend

import (
	"errors"
	"strings"
)

// ErrorCode classifies a control-call failure.
type ErrorCode string

const (
	// CodeNotFound: the session (or buffer) no longer exists. Idempotent
	// teardown paths treat this as already satisfied.
	CodeNotFound ErrorCode = "not_found"
	// CodeProfileInUse: another session already holds the source profile.
	// Creation paths fall back to joining.
	CodeProfileInUse ErrorCode = "profile_in_use"
	// CodeUnavailable: transient transport or backend failure.
	CodeUnavailable ErrorCode = "unavailable"
	// CodeGeneric: anything else.
	CodeGeneric ErrorCode = "generic"
)

// Error is a structured control-call failure.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// NewError builds a structured error. An empty code maps to CodeGeneric.
func NewError(code ErrorCode, message string) *Error {
	if code == "" {
		code = CodeGeneric
	}
	return &Error{Code: code, Message: message}
}

// IsNotFound reports whether err represents a missing session. Structured
// codes are checked first; the message sniff keeps compatibility with
// backends that predate them.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code == CodeNotFound
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// IsProfileInUse reports whether err represents a profile conflict on
// creation, with the same structured-first, sniff-fallback policy as
// IsNotFound.
func IsProfileInUse(err error) bool {
	if err == nil {
		return false
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code == CodeProfileInUse
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "in use") || strings.Contains(msg, "already opened")
}
