package session

import (
	"errors"
	"fmt"
)

// Domain errors for the session package.
var (
	// ErrUnknownSession is returned when no active Session matches the
	// device_id/request_id, including Sessions that have already closed.
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrInvalidSessionState is returned when a requested transition is not
	// legal for the Session's current state.
	ErrInvalidSessionState = errors.New("session: invalid session state")

	// ErrSessionActive is returned by Open when the device already has an
	// active Session of the same kind.
	ErrSessionActive = fmt.Errorf("%w: operation already active for device", ErrInvalidSessionState)

	// ErrInvalidTransition is returned when an event is not in the
	// transition table for the Session's current state.
	ErrInvalidTransition = fmt.Errorf("%w: transition not allowed", ErrInvalidSessionState)

	// ErrInvalidKind is returned when an operation kind is not recognised.
	ErrInvalidKind = errors.New("session: invalid operation kind")

	// ErrInvalidArgument is returned when Open or Close is called with
	// missing or out-of-range values.
	ErrInvalidArgument = errors.New("session: invalid argument")
)
