// Package device tracks the last known view of every reader seen on the bus.
//
// Readers announce themselves through broadcast events that carry no
// request_id: mode_change, status_change and heartbeat. The Tracker folds
// those events into one View per device_id so the HTTP API and observers can
// answer "is lock-1 online, and what mode is it in" without touching the
// session registry.
//
// Any correlated event also refreshes LastSeen, so a reader that only ever
// answers commands still shows up as alive.
//
// # Thread Safety
//
// All Tracker methods are safe for concurrent use. Views returned to callers
// are copies.
package device
