package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementOperation       = "operation"
	MeasurementDeviceStatus    = "device_status"
	MeasurementDeviceHeartbeat = "device_heartbeat"
	MeasurementDiagnostic      = "diagnostic"
)

// Operation is one closed Session.
type Operation struct {
	DeviceID  string
	Operation string
	State     string
	Reason    string
	Duration  time.Duration
	ClosedAt  time.Time
}

// Heartbeat is one device heartbeat report.
type Heartbeat struct {
	DeviceID            string
	UptimeSeconds       int64
	MemoryUsagePercent  float64
	OperationsCompleted int64
	At                  time.Time
}

// WriteOperation records the outcome of one Session.
func (c *Client) WriteOperation(op Operation) {
	tags := map[string]string{
		"device_id": op.DeviceID,
		"operation": op.Operation,
		"state":     op.State,
	}
	if op.Reason != "" {
		tags["reason"] = op.Reason
	}

	c.WritePointWithTime(MeasurementOperation, tags, map[string]any{
		"duration_ms": op.Duration.Milliseconds(),
		"success":     op.State == "success",
	}, op.ClosedAt)
}

// WriteDeviceStatus records a reader status change.
func (c *Client) WriteDeviceStatus(deviceID, status string, online bool, at time.Time) {
	c.WritePointWithTime(MeasurementDeviceStatus,
		map[string]string{"device_id": deviceID, "status": status},
		map[string]any{"online": online},
		at,
	)
}

// WriteHeartbeat records a reader heartbeat.
func (c *Client) WriteHeartbeat(hb Heartbeat) {
	c.WritePointWithTime(MeasurementDeviceHeartbeat,
		map[string]string{"device_id": hb.DeviceID},
		map[string]any{
			"uptime_seconds":       hb.UptimeSeconds,
			"memory_usage_percent": hb.MemoryUsagePercent,
			"operations_completed": hb.OperationsCompleted,
		},
		hb.At,
	)
}

// WriteDiagnostic counts one dropped message or failed publish.
func (c *Client) WriteDiagnostic(deviceID, kind string, at time.Time) {
	tags := map[string]string{"kind": kind}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}
	c.WritePointWithTime(MeasurementDiagnostic, tags, map[string]any{"count": 1}, at)
}

// WritePointWithTime writes a custom point. A zero timestamp means now.
//
// Example:
//
//	client.WritePointWithTime("engine_stats",
//	    map[string]string{"client_id": "libretap-engine"},
//	    map[string]any{"sessions_active": 3}, time.Time{})
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
