// Package influxdb writes LibreTap time series to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health checks.
//
// # Measurements
//
//   - operation: one point per closed Session (tags device_id, operation,
//     state, reason; fields duration_ms, success)
//   - device_status: status changes (tags device_id, status; field online)
//   - device_heartbeat: heartbeat counters (tag device_id; fields
//     uptime_seconds, memory_usage_percent, operations_completed)
//   - diagnostic: dropped input (tags device_id, kind; field count)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteOperation(influxdb.Operation{DeviceID: "lock-1", Operation: "auth", State: "success"})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Write errors are delivered
// asynchronously to the SetOnError callback.
package influxdb
