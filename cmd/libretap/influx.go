package main

import (
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/engine"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/influxdb"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
)

// seriesWriter is the part of *influxdb.Client the observer writes to.
type seriesWriter interface {
	WriteOperation(op influxdb.Operation)
	WriteDeviceStatus(deviceID, status string, online bool, at time.Time)
	WriteHeartbeat(hb influxdb.Heartbeat)
	WriteDiagnostic(deviceID, kind string, at time.Time)
}

// influxObserver turns engine notifications into InfluxDB points.
// Writes are batched and non-blocking inside the client.
type influxObserver struct {
	client seriesWriter
}

// OperationClosed implements engine.OutcomeObserver.
func (o *influxObserver) OperationClosed(out engine.Outcome) {
	s := out.Session
	o.client.WriteOperation(influxdb.Operation{
		DeviceID:  s.DeviceID,
		Operation: string(s.Kind),
		State:     string(s.State),
		Reason:    string(s.Reason),
		Duration:  s.Duration(s.ClosedAt),
		ClosedAt:  s.ClosedAt,
	})
}

// DeviceChanged implements engine.DeviceObserver.
func (o *influxObserver) DeviceChanged(v device.View, eventType protocol.EventType) {
	switch eventType {
	case protocol.EventStatusChange:
		o.client.WriteDeviceStatus(v.ID, v.Status, v.Online(), v.LastSeen)
	case protocol.EventHeartbeat:
		o.client.WriteHeartbeat(influxdb.Heartbeat{
			DeviceID:            v.ID,
			UptimeSeconds:       v.UptimeSeconds,
			MemoryUsagePercent:  v.MemoryUsagePercent,
			OperationsCompleted: v.OperationsCompleted,
			At:                  v.LastSeen,
		})
	}
}

// Diagnostic implements engine.DiagnosticObserver.
func (o *influxObserver) Diagnostic(d engine.Diagnostic) {
	o.client.WriteDiagnostic(d.DeviceID, string(d.Kind), d.ReceivedAt)
}
