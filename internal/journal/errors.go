package journal

import "errors"

// Domain errors for the journal package.
var (
	// ErrNotFound is returned when no outcome exists for a request_id.
	ErrNotFound = errors.New("journal: outcome not found")
)
