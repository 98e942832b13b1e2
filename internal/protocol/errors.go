package protocol

import (
	"errors"
	"fmt"
)

// Domain errors for the protocol package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDecode is returned when a message is not well-formed structured data.
	ErrDecode = errors.New("protocol: malformed message")

	// ErrSchema is returned when a required envelope field is missing.
	ErrSchema = errors.New("protocol: schema violation")
)

// DecodeError describes a message that could not be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
}

// Unwrap allows errors.Is to match both ErrDecode and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// SchemaError names the envelope field that failed validation.
type SchemaError struct {
	Field     string
	EventType EventType
	Reason    string
}

func (e *SchemaError) Error() string {
	if e.EventType != "" {
		return fmt.Sprintf("%s: %s %s (event_type %s)", ErrSchema, e.Field, e.Reason, e.EventType)
	}
	return fmt.Sprintf("%s: %s %s", ErrSchema, e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrSchema).
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}
