package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the envelope schema version written by this engine.
const Version = "1.0"

// TimestampLayout is the wire format for envelope timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the decoded form of a LibreTap message.
type Envelope struct {
	Version   string
	Timestamp time.Time
	DeviceID  string
	EventType EventType
	RequestID string
	Payload   Payload
}

// wireEnvelope mirrors the JSON layout on the transport.
type wireEnvelope struct {
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	EventType EventType       `json:"event_type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope builds an outbound envelope stamped with the current UTC time.
func NewEnvelope(deviceID string, eventType EventType, requestID string, payload Payload) *Envelope {
	return &Envelope{
		Version:   Version,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		EventType: eventType,
		RequestID: requestID,
		Payload:   payload,
	}
}

// Encode builds and marshals an outbound envelope in one step.
//
// Example:
//
//	data, err := protocol.Encode("lock-1", protocol.EventAuthStart, rid,
//	    &protocol.AuthStartPayload{TimeoutSeconds: 30})
func Encode(deviceID string, eventType EventType, requestID string, payload Payload) ([]byte, error) {
	return Marshal(NewEnvelope(deviceID, eventType, requestID, payload))
}

// Marshal serialises an envelope to its wire form.
// A nil payload is written as an empty object.
func Marshal(env *Envelope) ([]byte, error) {
	if env.DeviceID == "" {
		return nil, &SchemaError{Field: "device_id", EventType: env.EventType, Reason: "is required"}
	}
	if env.EventType == "" {
		return nil, &SchemaError{Field: "event_type", Reason: "is required"}
	}

	payload := []byte("{}")
	if env.Payload != nil {
		var err error
		payload, err = json.Marshal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", env.EventType, err)
		}
	}

	version := env.Version
	if version == "" {
		version = Version
	}

	wire := wireEnvelope{
		Version:   version,
		Timestamp: env.Timestamp.UTC().Format(TimestampLayout),
		DeviceID:  env.DeviceID,
		EventType: env.EventType,
		RequestID: env.RequestID,
		Payload:   payload,
	}
	if env.EventType.IsBroadcast() {
		wire.RequestID = ""
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates an inbound message.
//
// Returns:
//   - *Envelope: the decoded envelope with a typed payload
//   - error: wraps ErrDecode for malformed data, ErrSchema for missing fields
func Decode(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Err: errors.New("message is not a JSON object")}
	}

	var wire wireEnvelope
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, &DecodeError{Err: err}
	}

	if wire.DeviceID == "" {
		return nil, &SchemaError{Field: "device_id", EventType: wire.EventType, Reason: "is required"}
	}
	if wire.EventType == "" {
		return nil, &SchemaError{Field: "event_type", Reason: "is required"}
	}
	if wire.EventType.RequiresRequestID() && wire.RequestID == "" {
		return nil, &SchemaError{Field: "request_id", EventType: wire.EventType, Reason: "is required"}
	}

	env := &Envelope{
		Version:   wire.Version,
		DeviceID:  wire.DeviceID,
		EventType: wire.EventType,
		RequestID: wire.RequestID,
	}

	if wire.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
		if err != nil {
			return nil, &SchemaError{Field: "timestamp", EventType: wire.EventType, Reason: "is not ISO-8601"}
		}
		env.Timestamp = ts.UTC()
	}

	payload, err := decodePayload(wire.EventType, wire.Payload)
	if err != nil {
		return nil, err
	}
	env.Payload = payload

	return env, nil
}

// decodePayload unmarshals the raw payload into the variant for eventType.
// A missing or null payload yields the zero value of the variant.
func decodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	p := newPayload(eventType)

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	if raw[0] != '{' {
		return nil, &DecodeError{Err: fmt.Errorf("%s payload is not an object", eventType)}
	}

	if _, ok := p.(RawPayload); ok {
		m := RawPayload{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("%s payload: %w", eventType, err)}
		}
		return m, nil
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%s payload: %w", eventType, err)}
	}
	return p, nil
}

// DecodeLastWill parses the bare status object a device registers as its
// MQTT Last Will, e.g. {"status":"offline"}. It carries no envelope fields,
// so the device identity must come from the topic.
func DecodeLastWill(deviceID string, data []byte) (*Envelope, error) {
	var status StatusPayload
	if err := json.Unmarshal(bytes.TrimSpace(data), &status); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if status.Status == "" {
		return nil, &SchemaError{Field: "status", EventType: EventStatusChange, Reason: "is required"}
	}
	return &Envelope{
		Version:   Version,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		EventType: EventStatusChange,
		Payload:   &status,
	}, nil
}
