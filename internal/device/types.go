package device

import (
	"slices"
	"time"
)

// Reader connectivity as reported in status_change.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// View is the last known state of one reader.
type View struct {
	ID              string `json:"device_id"`
	Mode            string `json:"mode,omitempty"`
	PreviousMode    string `json:"previous_mode,omitempty"`
	Status          string `json:"status,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`

	// Heartbeat counters, as last reported by the device.
	UptimeSeconds       int64   `json:"uptime_seconds,omitempty"`
	MemoryUsagePercent  float64 `json:"memory_usage_percent,omitempty"`
	OperationsCompleted int64   `json:"operations_completed,omitempty"`

	LastSeen        time.Time  `json:"last_seen"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`

	// ActiveSessions lists request IDs of the device's open Sessions.
	// The Tracker never sets it; readers fill it from the session registry.
	ActiveSessions []string `json:"active_sessions,omitempty"`
}

// Online reports whether the last status_change said the device is online.
func (v View) Online() bool {
	return v.Status == StatusOnline
}

// clone returns a copy that shares no pointers with v.
func (v View) clone() View {
	out := v
	if v.LastHeartbeat != nil {
		t := *v.LastHeartbeat
		out.LastHeartbeat = &t
	}
	if v.StatusChangedAt != nil {
		t := *v.StatusChangedAt
		out.StatusChangedAt = &t
	}
	out.ActiveSessions = slices.Clone(v.ActiveSessions)
	return out
}
