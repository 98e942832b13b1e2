package session

import (
	"testing"

	"github.com/LibreTap/mqtt-protocol/internal/protocol"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name       string
		kind       Kind
		from       State
		event      protocol.EventType
		wantState  State
		wantReason Reason
		wantOK     bool
	}{
		{"auth tag detected", KindAuth, StatePending, protocol.EventAuthTagDetected, StateTagDetected, ReasonNone, true},
		{"auth verify", KindAuth, StateTagDetected, protocol.EventAuthVerify, StateVerifying, ReasonNone, true},
		{"auth success", KindAuth, StateVerifying, protocol.EventAuthSuccess, StateSuccess, ReasonNone, true},
		{"auth failed", KindAuth, StateVerifying, protocol.EventAuthFailed, StateFailed, ReasonDeviceRejected, true},
		{"auth success before verify", KindAuth, StateTagDetected, protocol.EventAuthSuccess, StateTagDetected, ReasonNone, false},
		{"auth failed from pending", KindAuth, StatePending, protocol.EventAuthFailed, StatePending, ReasonNone, false},
		{"auth duplicate tag detected", KindAuth, StateTagDetected, protocol.EventAuthTagDetected, StateTagDetected, ReasonNone, false},
		{"auth cancel from verifying", KindAuth, StateVerifying, protocol.EventAuthCancel, StateCancelled, ReasonDeviceCancelled, true},
		{"auth error", KindAuth, StateTagDetected, protocol.EventAuthError, StateFailed, ReasonDeviceError, true},
		{"generic error", KindAuth, StatePending, protocol.EventError, StateFailed, ReasonDeviceError, true},
		{"register success", KindRegister, StatePending, protocol.EventRegisterSuccess, StateSuccess, ReasonNone, true},
		{"register failed", KindRegister, StatePending, protocol.EventRegisterFailed, StateFailed, ReasonDeviceRejected, true},
		{"register error", KindRegister, StatePending, protocol.EventRegisterError, StateFailed, ReasonDeviceError, true},
		{"register cancel", KindRegister, StatePending, protocol.EventRegisterCancel, StateCancelled, ReasonDeviceCancelled, true},
		{"register wrong kind cancel", KindRegister, StatePending, protocol.EventReadCancel, StatePending, ReasonNone, false},
		{"register wrong kind error", KindRegister, StatePending, protocol.EventReadError, StatePending, ReasonNone, false},
		{"read success", KindRead, StatePending, protocol.EventReadSuccess, StateSuccess, ReasonNone, true},
		{"read failed", KindRead, StatePending, protocol.EventReadFailed, StateFailed, ReasonDeviceRejected, true},
		{"read from auth event", KindRead, StatePending, protocol.EventAuthSuccess, StatePending, ReasonNone, false},
		{"terminal is final", KindRead, StateSuccess, protocol.EventReadFailed, StateSuccess, ReasonNone, false},
		{"terminal ignores cancel", KindAuth, StateCancelled, protocol.EventAuthCancel, StateCancelled, ReasonNone, false},
		{"terminal ignores error", KindRegister, StateFailed, protocol.EventError, StateFailed, ReasonNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason, ok := Next(tt.kind, tt.from, tt.event)
			if ok != tt.wantOK {
				t.Fatalf("Next() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.wantState {
				t.Errorf("Next() state = %q, want %q", got, tt.wantState)
			}
			if reason != tt.wantReason {
				t.Errorf("Next() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StatePending:     false,
		StateTagDetected: false,
		StateVerifying:   false,
		StateSuccess:     true,
		StateFailed:      true,
		StateCancelled:   true,
		StateAborted:     true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("write"); err == nil {
		t.Error("ParseKind(write) should fail")
	}
}
