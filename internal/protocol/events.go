package protocol

import "strings"

// EventType selects the payload variant carried by an envelope.
type EventType string

// Commands published by the engine.
const (
	EventAuthStart      EventType = "auth_start"
	EventAuthVerify     EventType = "auth_verify"
	EventAuthCancel     EventType = "auth_cancel"
	EventRegisterStart  EventType = "register_start"
	EventRegisterCancel EventType = "register_cancel"
	EventReadStart      EventType = "read_start"
	EventReadCancel     EventType = "read_cancel"
	EventReset          EventType = "reset"
)

// Events published by devices.
const (
	EventAuthTagDetected EventType = "auth_tag_detected"
	EventAuthSuccess     EventType = "auth_success"
	EventAuthFailed      EventType = "auth_failed"
	EventAuthError       EventType = "auth_error"

	EventRegisterSuccess EventType = "register_success"
	EventRegisterFailed  EventType = "register_failed"
	EventRegisterError   EventType = "register_error"

	EventReadSuccess EventType = "read_success"
	EventReadFailed  EventType = "read_failed"
	EventReadError   EventType = "read_error"

	// EventError is the generic device error, not tied to an operation prefix.
	EventError EventType = "error"

	EventModeChange   EventType = "mode_change"
	EventStatusChange EventType = "status_change"
	EventHeartbeat    EventType = "heartbeat"
)

// errorSuffix is the naming convention for operation error events.
const errorSuffix = "_error"

// IsBroadcast reports whether the event is a device-wide broadcast that is
// never correlated with a request.
func (t EventType) IsBroadcast() bool {
	switch t {
	case EventModeChange, EventStatusChange, EventHeartbeat:
		return true
	}
	return false
}

// IsCommand reports whether the event type is one the engine publishes.
// The engine subscribes to the whole device namespace, so it sees its own
// commands echoed back by the broker.
func (t EventType) IsCommand() bool {
	switch t {
	case EventAuthStart, EventAuthVerify, EventAuthCancel,
		EventRegisterStart, EventRegisterCancel,
		EventReadStart, EventReadCancel, EventReset:
		return true
	}
	return false
}

// IsCancel reports whether the event is an operation cancellation.
func (t EventType) IsCancel() bool {
	switch t {
	case EventAuthCancel, EventRegisterCancel, EventReadCancel:
		return true
	}
	return false
}

// IsError reports whether the event follows the error naming convention,
// including error types for operations this engine does not know yet.
func (t EventType) IsError() bool {
	return t == EventError || strings.HasSuffix(string(t), errorSuffix)
}

// Known reports whether the event type has a typed payload.
func (t EventType) Known() bool {
	_, ok := payloadFactories[t]
	return ok
}

// Operation returns the operation prefix of the event type ("auth" for
// "auth_tag_detected"), or "" for events without one.
func (t EventType) Operation() string {
	s := string(t)
	if t.IsBroadcast() || t == EventError || t == EventReset {
		return ""
	}
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return ""
}

// RequiresRequestID reports whether envelopes of this type must carry a
// request_id. Broadcasts, the generic error event and unknown types do not.
func (t EventType) RequiresRequestID() bool {
	if !t.Known() || t.IsBroadcast() || t == EventError {
		return false
	}
	return true
}

// CancelEvent returns the cancel command for an operation name.
func CancelEvent(operation string) EventType {
	return EventType(operation + "_cancel")
}
