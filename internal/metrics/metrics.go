// Package metrics exposes engine activity as Prometheus metrics.
//
// Collector implements every engine observer interface; register it with
// the engine and serve the registry on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/engine"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

const namespace = "libretap"

// Collector records engine activity.
type Collector struct {
	sessionsOpened *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	diagnostics    *prometheus.CounterVec
	deviceEvents   *prometheus.CounterVec
}

// New registers the engine metrics on reg. The active-session and
// online-device gauges are read from registry and devices at scrape time.
func New(reg prometheus.Registerer, registry *session.Registry, devices *device.Tracker) *Collector {
	f := promauto.With(reg)

	c := &Collector{
		sessionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of Sessions opened by operation",
		}, []string{"operation"}),

		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of Sessions closed by operation, terminal state and reason",
		}, []string{"operation", "state", "reason"}),

		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from Session open to close",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation", "state"}),

		diagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Total number of dropped messages and failed publishes by kind",
		}, []string{"kind"}),

		deviceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_broadcasts_total",
			Help:      "Total number of mode, status and heartbeat broadcasts received",
		}, []string{"event_type"}),
	}

	if registry != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of Sessions currently awaiting a terminal event",
		}, func() float64 { return float64(registry.Len()) })
	}

	if devices != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_online",
			Help:      "Number of readers whose last reported status is online",
		}, func() float64 {
			online := 0
			for _, v := range devices.List() {
				if v.Online() {
					online++
				}
			}
			return float64(online)
		})
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_known",
			Help:      "Number of readers seen since startup",
		}, func() float64 { return float64(devices.Len()) })
	}

	return c
}

// SessionOpened implements engine.SessionObserver.
func (c *Collector) SessionOpened(s session.Session) {
	c.sessionsOpened.WithLabelValues(label(string(s.Kind))).Inc()
}

// OperationClosed implements engine.OutcomeObserver.
func (c *Collector) OperationClosed(o engine.Outcome) {
	s := o.Session
	op := label(string(s.Kind))
	c.outcomes.WithLabelValues(op, label(string(s.State)), label(string(s.Reason))).Inc()
	c.duration.WithLabelValues(op, label(string(s.State))).Observe(s.Duration(s.ClosedAt).Seconds())
}

// Diagnostic implements engine.DiagnosticObserver.
func (c *Collector) Diagnostic(d engine.Diagnostic) {
	c.diagnostics.WithLabelValues(label(string(d.Kind))).Inc()
}

// DeviceChanged implements engine.DeviceObserver.
func (c *Collector) DeviceChanged(_ device.View, eventType protocol.EventType) {
	c.deviceEvents.WithLabelValues(label(string(eventType))).Inc()
}

// label keeps empty label values readable in dashboards.
func label(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
