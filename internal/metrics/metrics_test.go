package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/engine"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// gaugeValue returns the value of the unlabelled gauge name from reg.
func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestOutcomeCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, nil, nil)

	created := time.Date(2025, 11, 21, 10, 0, 0, 0, time.UTC)
	s := session.Session{
		RequestID: "r-1",
		DeviceID:  "lock-1",
		Kind:      session.KindAuth,
		State:     session.StateSuccess,
		CreatedAt: created,
		ClosedAt:  created.Add(1500 * time.Millisecond),
	}

	c.SessionOpened(s)
	c.OperationClosed(engine.Outcome{Session: s, EventType: protocol.EventAuthSuccess})

	s.State, s.Reason = session.StateFailed, session.ReasonTimeout
	c.OperationClosed(engine.Outcome{Session: s})

	if got := testutil.ToFloat64(c.sessionsOpened.WithLabelValues("auth")); got != 1 {
		t.Errorf("sessions_opened_total{auth} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("auth", "success", "none")); got != 1 {
		t.Errorf("sessions_closed_total{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("auth", "failed", "timeout")); got != 1 {
		t.Errorf("sessions_closed_total{failed,timeout} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestDiagnosticAndDeviceCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, nil, nil)

	c.Diagnostic(engine.Diagnostic{Kind: engine.DiagnosticDuplicate})
	c.Diagnostic(engine.Diagnostic{Kind: engine.DiagnosticDuplicate})
	c.Diagnostic(engine.Diagnostic{Kind: engine.DiagnosticDecode})
	c.DeviceChanged(device.View{ID: "lock-1"}, protocol.EventHeartbeat)

	if got := testutil.ToFloat64(c.diagnostics.WithLabelValues("duplicate")); got != 2 {
		t.Errorf("diagnostics_total{duplicate} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.diagnostics.WithLabelValues("decode")); got != 1 {
		t.Errorf("diagnostics_total{decode} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.deviceEvents.WithLabelValues("heartbeat")); got != 1 {
		t.Errorf("device_broadcasts_total{heartbeat} = %v, want 1", got)
	}
}

func TestGaugesReadLiveState(t *testing.T) {
	reg := prometheus.NewRegistry()
	registry := session.NewRegistry()
	tracker := device.NewTracker()
	New(reg, registry, tracker)

	if got := gaugeValue(t, reg, "libretap_sessions_active"); got != 0 {
		t.Errorf("sessions_active = %v, want 0", got)
	}

	if _, err := registry.Open("lock-1", session.KindRead, time.Minute, session.Context{}); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Open("lock-2", session.KindAuth, time.Minute, session.Context{}); err != nil {
		t.Fatal(err)
	}
	tracker.Observe(&protocol.Envelope{
		DeviceID:  "lock-1",
		EventType: protocol.EventStatusChange,
		Payload:   &protocol.StatusPayload{Status: device.StatusOnline},
	})
	tracker.Observe(&protocol.Envelope{
		DeviceID:  "lock-2",
		EventType: protocol.EventStatusChange,
		Payload:   &protocol.StatusPayload{Status: device.StatusOffline},
	})

	if got := gaugeValue(t, reg, "libretap_sessions_active"); got != 2 {
		t.Errorf("sessions_active = %v, want 2", got)
	}
	if got := gaugeValue(t, reg, "libretap_devices_online"); got != 1 {
		t.Errorf("devices_online = %v, want 1", got)
	}
	if got := gaugeValue(t, reg, "libretap_devices_known"); got != 2 {
		t.Errorf("devices_known = %v, want 2", got)
	}
}

func TestCollectorImplementsObservers(t *testing.T) {
	var c any = &Collector{}
	if _, ok := c.(engine.SessionObserver); !ok {
		t.Error("Collector is not a SessionObserver")
	}
	if _, ok := c.(engine.OutcomeObserver); !ok {
		t.Error("Collector is not an OutcomeObserver")
	}
	if _, ok := c.(engine.DeviceObserver); !ok {
		t.Error("Collector is not a DeviceObserver")
	}
	if _, ok := c.(engine.DiagnosticObserver); !ok {
		t.Error("Collector is not a DiagnosticObserver")
	}
}
