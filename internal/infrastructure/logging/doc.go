// Package logging provides structured logging for the LibreTap engine.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the engine.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("session opened", "device_id", "lock-1", "request_id", id)
//
// # Security
//
// Never log tag keys or broker passwords. Log a tag UID, never its key.
package logging
