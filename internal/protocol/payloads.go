package protocol

import "encoding/json"

// Payload is the closed set of envelope payload variants.
// The unexported marker keeps the union exhaustive within this package.
type Payload interface {
	payload()
}

// AuthStartPayload starts an authentication on a reader.
type AuthStartPayload struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// VerifyPayload carries the key material and user context for a detected tag.
type VerifyPayload struct {
	TagUID   string         `json:"tag_uid"`
	Key      string         `json:"key"`
	UserData map[string]any `json:"user_data,omitempty"`
}

// RegisterStartPayload asks a reader to write a key to a tag.
type RegisterStartPayload struct {
	TagUID         string `json:"tag_uid"`
	Key            string `json:"key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ReadStartPayload asks a reader to read data blocks from the next tag.
type ReadStartPayload struct {
	TimeoutSeconds int   `json:"timeout_seconds"`
	ReadBlocks     []int `json:"read_blocks"`
}

// EmptyPayload is used by cancel and reset commands.
type EmptyPayload struct{}

// TagDetectedPayload reports a tag presented during authentication.
type TagDetectedPayload struct {
	TagUID  string `json:"tag_uid"`
	Message string `json:"message,omitempty"`
}

// AuthResultPayload is carried by auth_success and auth_failed.
type AuthResultPayload struct {
	TagUID        string         `json:"tag_uid"`
	Authenticated bool           `json:"authenticated"`
	Message       string         `json:"message,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	UserData      map[string]any `json:"user_data,omitempty"`
}

// RegisterResultPayload is carried by register_success and register_failed.
type RegisterResultPayload struct {
	TagUID  string `json:"tag_uid"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// BlockData is one block returned by a tag read.
type BlockData struct {
	Block int    `json:"block"`
	Data  string `json:"data"`
}

// ReadResultPayload is carried by read_success and read_failed.
type ReadResultPayload struct {
	TagUID  string      `json:"tag_uid"`
	Blocks  []BlockData `json:"blocks,omitempty"`
	Message string      `json:"message,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// ErrorPayload is carried by every error event.
type ErrorPayload struct {
	ErrorCode     string `json:"error_code"`
	Error         string `json:"error"`
	RetryPossible bool   `json:"retry_possible,omitempty"`
	Component     string `json:"component,omitempty"`
}

// ModePayload is carried by mode_change broadcasts.
type ModePayload struct {
	Mode         string `json:"mode"`
	PreviousMode string `json:"previous_mode,omitempty"`
}

// StatusPayload is carried by status_change broadcasts and device LWT messages.
type StatusPayload struct {
	Status          string `json:"status"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`
}

// HeartbeatPayload is the periodic liveness report from a device.
type HeartbeatPayload struct {
	UptimeSeconds       int64   `json:"uptime_seconds"`
	MemoryUsagePercent  float64 `json:"memory_usage_percent"`
	OperationsCompleted int64   `json:"operations_completed"`
}

// RawPayload holds the payload of an event type this package does not know.
type RawPayload map[string]any

func (*AuthStartPayload) payload()      {}
func (*VerifyPayload) payload()         {}
func (*RegisterStartPayload) payload()  {}
func (*ReadStartPayload) payload()      {}
func (*EmptyPayload) payload()          {}
func (*TagDetectedPayload) payload()    {}
func (*AuthResultPayload) payload()     {}
func (*RegisterResultPayload) payload() {}
func (*ReadResultPayload) payload()     {}
func (*ErrorPayload) payload()          {}
func (*ModePayload) payload()           {}
func (*StatusPayload) payload()         {}
func (*HeartbeatPayload) payload()      {}
func (RawPayload) payload()             {}

// payloadFactories maps each known event type to its payload constructor.
var payloadFactories = map[EventType]func() Payload{
	EventAuthStart:      func() Payload { return &AuthStartPayload{} },
	EventAuthVerify:     func() Payload { return &VerifyPayload{} },
	EventAuthCancel:     func() Payload { return &EmptyPayload{} },
	EventRegisterStart:  func() Payload { return &RegisterStartPayload{} },
	EventRegisterCancel: func() Payload { return &EmptyPayload{} },
	EventReadStart:      func() Payload { return &ReadStartPayload{} },
	EventReadCancel:     func() Payload { return &EmptyPayload{} },
	EventReset:          func() Payload { return &EmptyPayload{} },

	EventAuthTagDetected: func() Payload { return &TagDetectedPayload{} },
	EventAuthSuccess:     func() Payload { return &AuthResultPayload{} },
	EventAuthFailed:      func() Payload { return &AuthResultPayload{} },
	EventAuthError:       func() Payload { return &ErrorPayload{} },

	EventRegisterSuccess: func() Payload { return &RegisterResultPayload{} },
	EventRegisterFailed:  func() Payload { return &RegisterResultPayload{} },
	EventRegisterError:   func() Payload { return &ErrorPayload{} },

	EventReadSuccess: func() Payload { return &ReadResultPayload{} },
	EventReadFailed:  func() Payload { return &ReadResultPayload{} },
	EventReadError:   func() Payload { return &ErrorPayload{} },

	EventError: func() Payload { return &ErrorPayload{} },

	EventModeChange:   func() Payload { return &ModePayload{} },
	EventStatusChange: func() Payload { return &StatusPayload{} },
	EventHeartbeat:    func() Payload { return &HeartbeatPayload{} },
}

// newPayload returns an empty payload for the event type. Error events of
// unknown operations still get an ErrorPayload so their code and message
// reach diagnostics.
func newPayload(t EventType) Payload {
	if f, ok := payloadFactories[t]; ok {
		return f()
	}
	if t.IsError() {
		return &ErrorPayload{}
	}
	return RawPayload{}
}

// PayloadMap flattens a payload into a generic map for observers and
// journals that store payloads without knowing their type.
func PayloadMap(p Payload) map[string]any {
	if p == nil {
		return nil
	}
	if raw, ok := p.(RawPayload); ok {
		return map[string]any(raw)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
