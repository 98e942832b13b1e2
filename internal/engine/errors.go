package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrPublish is returned when a command could not be handed to the
	// broker. The Session it belonged to has been closed as failed.
	ErrPublish = errors.New("engine: publish failed")

	// ErrStopped is returned by dispatcher calls made after Stop.
	ErrStopped = errors.New("engine: stopped")
)
