package device

import (
	"errors"
	"testing"
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/protocol"
)

func newTestTracker(now time.Time) *Tracker {
	tr := NewTracker()
	tr.now = func() time.Time { return now }
	return tr
}

func TestObserveStatus(t *testing.T) {
	now := time.Date(2025, 11, 21, 10, 0, 0, 0, time.UTC)
	tr := newTestTracker(now)

	v := tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventStatusChange, "", &protocol.StatusPayload{
		Status:          StatusOnline,
		FirmwareVersion: "1.2.0",
		IPAddress:       "192.168.1.100",
	}))

	if !v.Online() {
		t.Errorf("Online() = false, want true")
	}
	if v.FirmwareVersion != "1.2.0" || v.IPAddress != "192.168.1.100" {
		t.Errorf("view = %+v", v)
	}
	if !v.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", v.LastSeen, now)
	}
	if v.StatusChangedAt == nil || !v.StatusChangedAt.Equal(now) {
		t.Errorf("StatusChangedAt = %v", v.StatusChangedAt)
	}

	// A bare LWT status keeps the firmware details.
	v = tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventStatusChange, "", &protocol.StatusPayload{Status: StatusOffline}))
	if v.Online() {
		t.Error("Online() = true after offline status")
	}
	if v.FirmwareVersion != "1.2.0" {
		t.Errorf("FirmwareVersion = %q, want retained", v.FirmwareVersion)
	}
}

func TestObserveMode(t *testing.T) {
	tr := NewTracker()

	tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventModeChange, "", &protocol.ModePayload{Mode: "idle"}))
	v := tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventModeChange, "", &protocol.ModePayload{Mode: "auth"}))

	if v.Mode != "auth" || v.PreviousMode != "idle" {
		t.Errorf("mode = %q previous = %q, want auth/idle", v.Mode, v.PreviousMode)
	}

	v = tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventModeChange, "", &protocol.ModePayload{Mode: "idle", PreviousMode: "register"}))
	if v.PreviousMode != "register" {
		t.Errorf("PreviousMode = %q, want device-reported register", v.PreviousMode)
	}
}

func TestObserveHeartbeat(t *testing.T) {
	tr := NewTracker()

	v := tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventHeartbeat, "", &protocol.HeartbeatPayload{
		UptimeSeconds:       3600,
		MemoryUsagePercent:  45.2,
		OperationsCompleted: 127,
	}))

	if v.LastHeartbeat == nil {
		t.Fatal("LastHeartbeat not set")
	}
	if v.UptimeSeconds != 3600 || v.OperationsCompleted != 127 {
		t.Errorf("view = %+v", v)
	}
	if !v.Online() {
		t.Error("heartbeat from unknown status should mark device online")
	}
}

func TestObserveCorrelatedEventOnlyTouchesLastSeen(t *testing.T) {
	tr := NewTracker()

	v := tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventAuthSuccess, "req-1", &protocol.AuthResultPayload{TagUID: "04A1B2C3"}))
	if v.Status != "" || v.Mode != "" {
		t.Errorf("correlated event changed view: %+v", v)
	}
	if v.LastSeen.IsZero() {
		t.Error("LastSeen not set")
	}
}

func TestGetAndList(t *testing.T) {
	tr := NewTracker()

	if _, err := tr.Get("lock-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
	}

	tr.Observe(protocol.NewEnvelope("lock-2", protocol.EventHeartbeat, "", &protocol.HeartbeatPayload{}))
	tr.Observe(protocol.NewEnvelope("lock-1", protocol.EventHeartbeat, "", &protocol.HeartbeatPayload{}))

	list := tr.List()
	if len(list) != 2 || list[0].ID != "lock-1" || list[1].ID != "lock-2" {
		t.Errorf("List() = %+v", list)
	}

	v, err := tr.Get("lock-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	*v.LastHeartbeat = time.Time{}

	again, _ := tr.Get("lock-2")
	if again.LastHeartbeat.IsZero() {
		t.Error("Get() returned a view sharing pointers with the tracker")
	}
}
