package backend

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"structured", NewError(CodeNotFound, "session s1 not found"), true},
		{"structured wrapped", fmt.Errorf("get state: %w", NewError(CodeNotFound, "gone")), true},
		{"structured other code", NewError(CodeUnavailable, "not found upstream"), false},
		{"message sniff", errors.New("session Not Found"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := IsNotFound(tc.err); got != tc.want {
			t.Errorf("%s: IsNotFound(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}

func TestIsProfileInUse(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"structured", NewError(CodeProfileInUse, "profile p1 already in use"), true},
		{"structured wrapped", fmt.Errorf("create: %w", NewError(CodeProfileInUse, "conflict")), true},
		{"structured other code", NewError(CodeGeneric, "profile in use maybe"), false},
		{"sniff in use", errors.New("profile p1 is in use"), true},
		{"sniff already opened", errors.New("interface already opened by another session"), true},
		{"unrelated", errors.New("timeout"), false},
	}
	for _, tc := range cases {
		if got := IsProfileInUse(tc.err); got != tc.want {
			t.Errorf("%s: IsProfileInUse(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}

func TestErrorMessageFallsBackToCode(t *testing.T) {
	if got := NewError(CodeUnavailable, "").Error(); got != "unavailable" {
		t.Fatalf("empty-message error = %q, want code string", got)
	}
	if got := NewError("", "boom").Code; got != CodeGeneric {
		t.Fatalf("empty code mapped to %q, want generic", got)
	}
}
