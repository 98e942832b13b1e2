package device

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/protocol"
)

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Tracker keeps one View per device_id.
//
// All public methods are thread-safe.
type Tracker struct {
	mu     sync.RWMutex
	views  map[string]*View
	now    func() time.Time
	logger Logger
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		views:  make(map[string]*View),
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// Observe folds env into the device's View and returns the updated copy.
//
// Broadcast payloads update mode, status or heartbeat fields. Every other
// event only refreshes LastSeen. Seen time is the local receive time, not the
// device timestamp, because reader clocks are not trusted.
func (t *Tracker) Observe(env *protocol.Envelope) View {
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.views[env.DeviceID]
	if !ok {
		v = &View{ID: env.DeviceID}
		t.views[env.DeviceID] = v
		t.logger.Info("device discovered", "device_id", env.DeviceID)
	}
	v.LastSeen = now

	switch p := env.Payload.(type) {
	case *protocol.ModePayload:
		prev := p.PreviousMode
		if prev == "" {
			prev = v.Mode
		}
		v.PreviousMode = prev
		v.Mode = p.Mode
		t.logger.Debug("device mode changed", "device_id", env.DeviceID, "mode", p.Mode, "previous_mode", prev)

	case *protocol.StatusPayload:
		if v.Status != p.Status {
			changed := now
			v.StatusChangedAt = &changed
			t.logger.Info("device status changed", "device_id", env.DeviceID, "status", p.Status)
		}
		v.Status = p.Status
		if p.FirmwareVersion != "" {
			v.FirmwareVersion = p.FirmwareVersion
		}
		if p.IPAddress != "" {
			v.IPAddress = p.IPAddress
		}

	case *protocol.HeartbeatPayload:
		hb := now
		v.LastHeartbeat = &hb
		v.UptimeSeconds = p.UptimeSeconds
		v.MemoryUsagePercent = p.MemoryUsagePercent
		v.OperationsCompleted = p.OperationsCompleted
		// A heartbeat implies the device is up even if its online status was lost.
		if v.Status == "" {
			v.Status = StatusOnline
		}
	}

	return v.clone()
}

// Get returns the View for id.
// Returns ErrDeviceNotFound if nothing has been seen from the device.
func (t *Tracker) Get(id string) (View, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.views[id]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return v.clone(), nil
}

// List returns every View ordered by device ID.
func (t *Tracker) List() []View {
	t.mu.RLock()
	out := make([]View, 0, len(t.views))
	for _, v := range t.views {
		out = append(out, v.clone())
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b View) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of known devices.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.views)
}
