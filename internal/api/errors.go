package api

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the server rejects the bearer
// credential (401). It is fatal to the current view: the caller is
// expected to discard the cached session and return to login.
var ErrUnauthorized = errors.New("session is missing, expired, or rejected")

// Error is an application-level failure: the server answered with a
// well-formed envelope carrying success=false. The message is the
// server's text, surfaced verbatim.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

// ServerMessage returns the server-provided message.
func (e *Error) ServerMessage() string {
	return e.Message
}

// TransportError is a network, timeout, or server-side (5xx) failure
// where no application envelope was obtained.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("api: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
