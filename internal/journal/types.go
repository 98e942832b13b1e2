package journal

import (
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/engine"
)

// Record is the journaled form of a terminal Session.
type Record struct {
	RequestID    string         `json:"request_id"`
	DeviceID     string         `json:"device_id"`
	Operation    string         `json:"operation"`
	State        string         `json:"state"`
	Reason       string         `json:"reason,omitempty"`
	EventType    string         `json:"event_type,omitempty"`
	TagUID       string         `json:"tag_uid,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ClosedAt     time.Time      `json:"closed_at"`
	DurationMs   int64          `json:"duration_ms"`
}

// DiagnosticRecord is the journaled form of an engine diagnostic.
type DiagnosticRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Topic      string    `json:"topic,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	EventType  string    `json:"event_type,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Filter controls which outcomes List returns.
type Filter struct {
	DeviceID  string    // optional
	Operation string    // optional: auth, register, read
	State     string    // optional: success, failed, cancelled, aborted
	Since     time.Time // optional: closed at or after
	Limit     int       // default 50, max 200
	Offset    int
}

// DiagnosticFilter controls which diagnostics ListDiagnostics returns.
type DiagnosticFilter struct {
	DeviceID string
	Kind     string
	Limit    int
	Offset   int
}

// ListResult is one page of outcomes, most recently closed first.
type ListResult struct {
	Outcomes []Record `json:"outcomes"`
	Total    int      `json:"total"`
	Limit    int      `json:"limit"`
	Offset   int      `json:"offset"`
}

// DiagnosticListResult is one page of diagnostics, newest first.
type DiagnosticListResult struct {
	Diagnostics []DiagnosticRecord `json:"diagnostics"`
	Total       int                `json:"total"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// FromOutcome converts an engine outcome into a Record.
func FromOutcome(o engine.Outcome) Record {
	s := o.Session
	payload := o.Payload
	if payload == nil {
		payload = s.Context.Result
	}
	return Record{
		RequestID:    s.RequestID,
		DeviceID:     s.DeviceID,
		Operation:    string(s.Kind),
		State:        string(s.State),
		Reason:       string(s.Reason),
		EventType:    string(o.EventType),
		TagUID:       s.Context.TagUID,
		ErrorCode:    s.Context.ErrorCode,
		ErrorMessage: s.Context.Error,
		Payload:      payload,
		CreatedAt:    s.CreatedAt.UTC(),
		ClosedAt:     s.ClosedAt.UTC(),
		DurationMs:   s.Duration(s.ClosedAt).Milliseconds(),
	}
}

// FromDiagnostic converts an engine diagnostic into a DiagnosticRecord.
// The ID is assigned when the record is stored.
func FromDiagnostic(d engine.Diagnostic) DiagnosticRecord {
	return DiagnosticRecord{
		Kind:       string(d.Kind),
		Topic:      d.Topic,
		DeviceID:   d.DeviceID,
		RequestID:  d.RequestID,
		EventType:  string(d.EventType),
		ErrorCode:  d.ErrorCode,
		Message:    d.Message,
		Raw:        string(d.Raw),
		ReceivedAt: d.ReceivedAt.UTC(),
	}
}
