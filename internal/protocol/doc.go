// Package protocol implements the LibreTap MQTT envelope codec.
//
// Every message exchanged between the session engine and a reader device is
// wrapped in a versioned JSON envelope:
//
//	{
//	  "version": "1.0",
//	  "timestamp": "2026-10-18T09:30:00.000Z",
//	  "device_id": "reader-001",
//	  "event_type": "auth_tag_detected",
//	  "request_id": "0b8c5c1e-8a43-4f55-9a65-2a8f0c5f1d7e",
//	  "payload": {"tag_uid": "04A1B2C3"}
//	}
//
// The payload shape depends on event_type. Known event types decode into
// the typed structs in payloads.go; unknown event types decode into a
// RawPayload so that newer firmware never breaks an older engine.
//
// # Errors
//
// Decode distinguishes two failure classes:
//   - ErrDecode: the bytes are not a JSON object (or a payload is not an object)
//   - ErrSchema: a required envelope field is missing or malformed
//
// Both are wrapped in typed errors (DecodeError, SchemaError) and can be
// matched with errors.Is.
//
// # Usage
//
//	data, err := protocol.Encode("reader-001", protocol.EventAuthStart, rid,
//	    &protocol.AuthStartPayload{TimeoutSeconds: 30})
//
//	env, err := protocol.Decode(msg)
//	switch p := env.Payload.(type) {
//	case *protocol.TagDetectedPayload:
//	    ...
//	}
package protocol
