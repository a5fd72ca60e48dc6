package riptideclient

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrNotConnected is returned when a call is attempted before Connect
	// succeeds or after the connection has been permanently closed.
	ErrNotConnected = errors.New("riptideclient: not connected")

	// ErrCallTimeout is returned when a Call's context is done before a
	// response arrives.
	ErrCallTimeout = errors.New("riptideclient: call timed out")

	// ErrClosed is returned by in-flight calls when Close is invoked.
	ErrClosed = errors.New("riptideclient: client closed")
)

// RemoteError is returned when the server responds to a Call with an
// RPC-level error code rather than a result.
type RemoteError struct {
	// Method is the RPC method that was called.
	Method string
	// Code is the server's machine-readable error code, e.g.
	// "ACCESS_DENIED" or "RATE_LIMITED".
	Code string
}

// Error returns a human-readable description of the remote error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("riptideclient: method %q failed: %s", e.Method, e.Code)
}

// Is reports whether target is one of the sentinel codes this package
// exposes for well-known server error codes, so callers can write
// errors.Is(err, riptideclient.ErrAccessDenied) instead of string-matching
// Code.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrAccessDenied:
		return e.Code == string(errAccessDenied)
	case ErrRateLimited:
		return e.Code == string(errRateLimited)
	case ErrMethodNotFound:
		return e.Code == string(errMethodNotFound)
	case ErrInvalidArguments:
		return e.Code == string(errInvalidArguments)
	}
	return false
}

// Sentinel errors matching the server's riptide.ErrorCode values, for use
// with errors.Is against a *RemoteError.
var (
	ErrAccessDenied     = errors.New("riptideclient: access denied")
	ErrRateLimited      = errors.New("riptideclient: rate limited")
	ErrMethodNotFound   = errors.New("riptideclient: method not found")
	ErrInvalidArguments = errors.New("riptideclient: invalid arguments")
)
