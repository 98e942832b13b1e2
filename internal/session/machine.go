package session

import "github.com/LibreTap/mqtt-protocol/internal/protocol"

// edge is the target of one allowed transition.
type edge struct {
	to     State
	reason Reason
}

// transitions is the per-kind transition table for correlated events.
// Cancel and error events are handled by rules in Next because they apply
// to every non-terminal state.
var transitions = map[Kind]map[State]map[protocol.EventType]edge{
	KindAuth: {
		StatePending: {
			protocol.EventAuthTagDetected: {to: StateTagDetected},
		},
		StateTagDetected: {
			// Issued by the engine, not the device.
			protocol.EventAuthVerify: {to: StateVerifying},
		},
		StateVerifying: {
			protocol.EventAuthSuccess: {to: StateSuccess},
			protocol.EventAuthFailed:  {to: StateFailed, reason: ReasonDeviceRejected},
		},
	},
	KindRegister: {
		StatePending: {
			protocol.EventRegisterSuccess: {to: StateSuccess},
			protocol.EventRegisterFailed:  {to: StateFailed, reason: ReasonDeviceRejected},
		},
	},
	KindRead: {
		StatePending: {
			protocol.EventReadSuccess: {to: StateSuccess},
			protocol.EventReadFailed:  {to: StateFailed, reason: ReasonDeviceRejected},
		},
	},
}

// Next returns the state a Session of kind in state from moves to on event.
// ok is false when the transition is not allowed.
func Next(kind Kind, from State, event protocol.EventType) (to State, reason Reason, ok bool) {
	if from.Terminal() {
		return from, ReasonNone, false
	}

	switch {
	case event == protocol.CancelEvent(string(kind)):
		return StateCancelled, ReasonDeviceCancelled, true
	case event == protocol.EventError || event == protocol.EventType(string(kind)+"_error"):
		return StateFailed, ReasonDeviceError, true
	}

	e, found := transitions[kind][from][event]
	if !found {
		return from, ReasonNone, false
	}
	return e.to, e.reason, true
}
