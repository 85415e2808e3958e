package driver

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a command is issued while another one is still
// being collected on the same shell.
var ErrBusy = errors.New("driver: another command is in progress")

// Kind categorises driver failures.
type Kind int

const (
	// KindElevationTimeout means neither a password prompt nor a root
	// prompt appeared before the elevation deadline.
	KindElevationTimeout Kind = iota + 1
	// KindNoResponse means a command produced no bytes at all before its deadline.
	KindNoResponse
	// KindPasswordPromptNotFound means a sudo-prefixed command never asked for a password.
	KindPasswordPromptNotFound
	// KindCancelled means the caller's context ended mid-operation.
	KindCancelled
	// KindFaulted means the shell failed earlier and can no longer be used.
	KindFaulted
	// KindTransport means the underlying channel failed.
	KindTransport
	// KindTimeout means a command produced output but no closing prompt
	// before its deadline. Partial holds what arrived.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindElevationTimeout:
		return "elevation timed out"
	case KindNoResponse:
		return "no response"
	case KindPasswordPromptNotFound:
		return "sudo password prompt not found"
	case KindCancelled:
		return "cancelled"
	case KindFaulted:
		return "session faulted"
	case KindTransport:
		return "transport failure"
	case KindTimeout:
		return "timed out waiting for prompt"
	default:
		return "unknown"
	}
}

// Error is returned by driver operations. Partial holds whatever output was
// collected before the failure.
type Error struct {
	Kind    Kind
	Op      string
	Command string
	Partial []byte
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Command != "" {
		msg += fmt.Sprintf(" (command %q)", e.Command)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a driver *Error of kind k.
func IsKind(err error, k Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == k
}
