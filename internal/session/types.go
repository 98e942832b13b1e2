package session

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Kind is the operation a Session tracks.
type Kind string

// Operation kinds.
const (
	KindAuth     Kind = "auth"
	KindRegister Kind = "register"
	KindRead     Kind = "read"
)

// Kinds lists every operation kind.
var Kinds = []Kind{KindAuth, KindRegister, KindRead}

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// ParseKind converts a topic or API segment into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// State is a Session's position in its operation state machine.
type State string

// Session states.
const (
	StatePending     State = "pending"
	StateTagDetected State = "tag_detected"
	StateVerifying   State = "verifying"
	StateSuccess     State = "success"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
	StateAborted     State = "aborted"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled, StateAborted:
		return true
	}
	return false
}

// Reason qualifies how a Session reached its current state.
type Reason string

// Terminal reasons.
const (
	ReasonNone                   Reason = ""
	ReasonDeviceRejected         Reason = "device_rejected"
	ReasonDeviceError            Reason = "device_error"
	ReasonDeviceCancelled        Reason = "device_cancelled"
	ReasonTimeout                Reason = "timeout"
	ReasonPublishError           Reason = "publish_error"
	ReasonCancelled              Reason = "cancelled"
	ReasonReset                  Reason = "reset"
	ReasonSuperseded             Reason = "superseded"
	ReasonCredentialsUnavailable Reason = "credentials_unavailable"
)

// Context is the operation-specific data accumulated by a Session.
type Context struct {
	// TagUID is the tag being registered, or the tag detected during auth.
	TagUID string

	// Blocks are the block numbers requested by a read.
	Blocks []int

	// Result is the payload of the terminal event, if any.
	Result map[string]any

	// ErrorCode and Error carry the device error that failed the Session.
	ErrorCode string
	Error     string
}

// Session is one in-flight operation on one device.
type Session struct {
	RequestID string
	DeviceID  string
	Kind      Kind
	State     State
	Reason    Reason
	CreatedAt time.Time
	UpdatedAt time.Time
	Deadline  time.Time
	ClosedAt  time.Time
	Context   Context
}

// Expired reports whether the deadline has passed at now.
func (s Session) Expired(now time.Time) bool {
	return !s.Deadline.IsZero() && !now.Before(s.Deadline)
}

// Duration returns how long the Session ran, or has run so far at now.
func (s Session) Duration(now time.Time) time.Duration {
	if !s.ClosedAt.IsZero() {
		return s.ClosedAt.Sub(s.CreatedAt)
	}
	return now.Sub(s.CreatedAt)
}

// clone returns a deep copy safe to hand to callers.
func (s Session) clone() Session {
	out := s
	out.Context.Blocks = slices.Clone(s.Context.Blocks)
	out.Context.Result = maps.Clone(s.Context.Result)
	return out
}
