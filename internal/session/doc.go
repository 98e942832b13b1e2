// Package session owns the in-flight operations of the LibreTap engine.
//
// A Session is one command issued to one reader, correlated by request_id
// with the events the reader publishes back. The Registry is the only place
// Session state is stored or mutated:
//
//	Open ──► Pending ──► ... ──► terminal (Success | Failed | Cancelled | Aborted)
//	                                  │
//	                                  └──► released from the registry, kept as a tombstone
//
// # Invariants
//
//   - request_id is unique for the lifetime of the registry
//   - at most one active Session per (device_id, kind)
//   - transitions for one Session are serialised by a per-Session mutex
//   - a Session is closed exactly once; later closes see ErrUnknownSession
//
// # Transition Tables
//
// machine.go holds the allowed event sequence for each operation kind.
// Events not in the table are rejected with ErrInvalidTransition and leave
// the Session untouched.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Returned Session values
// are copies; mutating them has no effect on the registry.
package session
