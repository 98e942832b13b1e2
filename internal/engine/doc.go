// Package engine correlates LibreTap commands with the events readers send
// back.
//
// The Engine owns three cooperating parts that share one session.Registry:
//
//   - Dispatcher (dispatcher.go): StartAuth, SendAuthVerify, StartRegister,
//     StartRead, Cancel and Reset open or close Sessions and publish the
//     matching command envelope.
//   - Router (router.go): HandleMessage is the devices/# subscription
//     handler. It decodes envelopes, feeds broadcasts to the device.Tracker,
//     looks up Sessions by (device_id, request_id) and applies transitions.
//   - Timeout manager (timeout.go): RunTimeouts sweeps expired Sessions,
//     closes them as failed with reason timeout and tells the reader to stop.
//
// # Message flow
//
//	StartAuth ──► devices/lock-1/auth/start ──► reader
//	reader ──► devices/lock-1/auth/tag_detected ──► HandleMessage
//	HandleMessage ──► (auto-verify) devices/lock-1/auth/verify ──► reader
//	reader ──► devices/lock-1/auth/success ──► HandleMessage ──► OutcomeObserver
//
// Every Session reaches exactly one terminal state, and every terminal state
// is reported to the outcome observers exactly once, whether it came from the
// reader, from a caller, from the timeout manager or from a failed publish.
//
// # Concurrency
//
// paho invokes HandleMessage from its own goroutines. Follow-up publishes
// triggered by an event (auto-verify, credential failures) run on goroutines
// tracked by the Engine so Stop can wait for them; the MQTT callback never
// waits on a publish token it caused itself.
package engine
