package engine

import (
	"context"
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// Outcome is a Session that reached a terminal state.
type Outcome struct {
	Session session.Session

	// EventType is the device event that closed the Session, or "" when the
	// engine closed it (cancel, timeout, reset, publish failure).
	EventType protocol.EventType

	// Payload is the closing event's payload, if any.
	Payload map[string]any
}

// DiagnosticKind classifies input the engine could not use.
type DiagnosticKind string

// Diagnostic kinds.
const (
	DiagnosticDecode      DiagnosticKind = "decode"
	DiagnosticSchema      DiagnosticKind = "schema"
	DiagnosticUnknown     DiagnosticKind = "unknown_event"
	DiagnosticUnsolicited DiagnosticKind = "unsolicited"
	DiagnosticDuplicate   DiagnosticKind = "duplicate"
	DiagnosticRejected    DiagnosticKind = "rejected"
	DiagnosticPublish     DiagnosticKind = "publish_failed"
)

// Diagnostic describes one undecodable, unsolicited or rejected message, or a
// command that could not be published.
type Diagnostic struct {
	Kind       DiagnosticKind
	Topic      string
	DeviceID   string
	RequestID  string
	EventType  protocol.EventType
	ErrorCode  string
	Message    string
	Raw        []byte
	ReceivedAt time.Time
}

// SessionObserver is notified when a Session is opened.
type SessionObserver interface {
	SessionOpened(s session.Session)
}

// OutcomeObserver is notified once for every Session that closes.
type OutcomeObserver interface {
	OperationClosed(o Outcome)
}

// DeviceObserver is notified of mode, status and heartbeat broadcasts.
type DeviceObserver interface {
	DeviceChanged(view device.View, eventType protocol.EventType)
}

// DiagnosticObserver is notified of input the engine dropped.
type DiagnosticObserver interface {
	Diagnostic(d Diagnostic)
}

// Credentials is the key material for answering auth_tag_detected.
type Credentials struct {
	Key      string
	UserData map[string]any
}

// CredentialProvider supplies tag keys and user context for auth_verify.
// The engine never generates keys itself.
type CredentialProvider interface {
	Credentials(ctx context.Context, deviceID, tagUID string) (Credentials, error)
}
