// Package api provides the HTTP command and monitoring API for the LibreTap engine.
//
// This package provides:
//   - Endpoints for each dispatcher operation (start, verify, cancel, reset)
//   - Read-only views of readers and open Sessions
//   - Paged listing of journaled outcomes and diagnostics
//   - Health and Prometheus metrics endpoints
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/devices
//	GET    /api/v1/devices/{id}
//	POST   /api/v1/devices/{id}/auth
//	POST   /api/v1/devices/{id}/auth/{request_id}/verify
//	POST   /api/v1/devices/{id}/register
//	POST   /api/v1/devices/{id}/read
//	DELETE /api/v1/devices/{id}/{operation}/{request_id}
//	POST   /api/v1/devices/{id}/reset
//	GET    /api/v1/sessions
//	GET    /api/v1/sessions/{request_id}
//	GET    /api/v1/outcomes
//	GET    /api/v1/outcomes/{request_id}
//	GET    /api/v1/diagnostics
//	GET    /metrics
//
// Start calls return 202 Accepted with the request_id: the operation runs on
// the reader and its result arrives later in the outcome journal.
//
// # Graceful Degradation
//
// The server runs without the journal; outcome and diagnostic listing then
// answer 503 while commands and live views keep working.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
