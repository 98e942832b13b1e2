package credentials

import "errors"

// Domain errors for the credentials package.
var (
	// ErrNoCredentials is returned when no key is configured for a tag.
	ErrNoCredentials = errors.New("credentials: no key for tag")

	// ErrInvalidFile is returned when the credentials file cannot be parsed
	// or contains invalid entries.
	ErrInvalidFile = errors.New("credentials: invalid file")
)
