// Package interaction holds the shared vocabulary of the live interaction
// engine: error kinds and the identity contract the engine trusts.
package interaction

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine failure. The set is closed; transports map
// kinds to their own status codes.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindNotYourTurn       ErrorKind = "NOT_YOUR_TURN"
	KindInvalidAction     ErrorKind = "INVALID_ACTION"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindNotConnected      ErrorKind = "NOT_CONNECTED"
	KindStale             ErrorKind = "STALE"
)

// Error is a typed engine failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError builds a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind; ok is false for untyped errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
