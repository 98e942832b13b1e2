package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/config"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/mqtt"
	"github.com/LibreTap/mqtt-protocol/internal/protocol"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// Defaults applied by New when Options leaves a field zero.
const (
	defaultQoS           = 1
	defaultTimeout       = 30 * time.Second
	defaultSweepInterval = 500 * time.Millisecond
)

// Transport is the MQTT surface the engine needs.
// *mqtt.Client satisfies it; tests use an in-memory mock.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an Engine.
type Options struct {
	// QoS is used for every command publish.
	QoS byte

	// DefaultTimeout applies when a start call passes a zero timeout.
	DefaultTimeout time.Duration

	// SweepInterval is the timeout manager's tick.
	SweepInterval time.Duration

	// StartPolicy is config.StartPolicyReject or config.StartPolicySupersede.
	StartPolicy string

	// AutoVerify answers auth_tag_detected with auth_verify using Credentials.
	AutoVerify bool

	// Credentials supplies keys for auto-verify. Auto-verify is off when nil.
	Credentials CredentialProvider
}

// OptionsFromConfig builds Options from the engine and MQTT config sections.
func OptionsFromConfig(cfg *config.Config, creds CredentialProvider) Options {
	return Options{
		QoS:            byte(cfg.MQTT.QoS),
		DefaultTimeout: cfg.GetDefaultTimeout(),
		SweepInterval:  cfg.GetSweepInterval(),
		StartPolicy:    cfg.Engine.StartPolicy,
		AutoVerify:     cfg.Engine.AutoVerify,
		Credentials:    creds,
	}
}

// Engine is the LibreTap request/response correlation engine.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - HandleMessage may be called from many paho goroutines at once.
type Engine struct {
	transport Transport
	registry  *session.Registry
	devices   *device.Tracker
	opts      Options
	topics    mqtt.Topics

	logger   Logger
	loggerMu sync.RWMutex

	obsMu       sync.RWMutex
	sessionObs  []SessionObserver
	outcomeObs  []OutcomeObserver
	deviceObs   []DeviceObserver
	diagnostics []DiagnosticObserver

	// Follow-up work started from the router.
	asyncCtx    context.Context
	asyncCancel context.CancelFunc
	asyncMu     sync.Mutex
	stopped     bool
	wg          sync.WaitGroup
}

// New creates an Engine. Zero Options fields take package defaults.
func New(transport Transport, registry *session.Registry, devices *device.Tracker, opts Options) *Engine {
	if opts.QoS == 0 {
		opts.QoS = defaultQoS
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.StartPolicy == "" {
		opts.StartPolicy = config.StartPolicyReject
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		transport:   transport,
		registry:    registry,
		devices:     devices,
		opts:        opts,
		logger:      noopLogger{},
		asyncCtx:    ctx,
		asyncCancel: cancel,
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	defer e.loggerMu.Unlock()
	e.logger = logger
}

func (e *Engine) log() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// AddSessionObserver registers o for Session openings.
func (e *Engine) AddSessionObserver(o SessionObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.sessionObs = append(e.sessionObs, o)
}

// AddOutcomeObserver registers o for terminal outcomes.
func (e *Engine) AddOutcomeObserver(o OutcomeObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.outcomeObs = append(e.outcomeObs, o)
}

// AddDeviceObserver registers o for device broadcasts.
func (e *Engine) AddDeviceObserver(o DeviceObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.deviceObs = append(e.deviceObs, o)
}

// AddDiagnosticObserver registers o for dropped input.
func (e *Engine) AddDiagnosticObserver(o DiagnosticObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.diagnostics = append(e.diagnostics, o)
}

// Registry returns the engine's Session registry.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// Devices returns the engine's device tracker.
func (e *Engine) Devices() *device.Tracker {
	return e.devices
}

// Start subscribes the router to every reader topic.
// Subscriptions are restored by the transport after a reconnect.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	topic := e.topics.AllDevices()
	if err := e.transport.Subscribe(topic, e.opts.QoS, e.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	e.log().Info("engine started",
		"topic", topic,
		"start_policy", e.opts.StartPolicy,
		"auto_verify", e.autoVerifyEnabled(),
	)
	return nil
}

// Stop cancels follow-up work and waits for it to finish. Open Sessions are
// left as they are; they are not persisted.
func (e *Engine) Stop() {
	e.asyncMu.Lock()
	if e.stopped {
		e.asyncMu.Unlock()
		return
	}
	e.stopped = true
	e.asyncMu.Unlock()

	e.asyncCancel()
	e.wg.Wait()

	e.log().Info("engine stopped", "open_sessions", e.registry.Len())
}

// isStopped reports whether Stop has been called.
func (e *Engine) isStopped() bool {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	return e.stopped
}

// goAsync runs fn on a tracked goroutine. It is a no-op after Stop.
func (e *Engine) goAsync(fn func(ctx context.Context)) {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	if e.stopped {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.asyncCtx)
	}()
}

func (e *Engine) autoVerifyEnabled() bool {
	return e.opts.AutoVerify && e.opts.Credentials != nil
}

// publish encodes and sends one command envelope.
// A transport failure is reported to diagnostics and returned wrapped in ErrPublish.
func (e *Engine) publish(topic, deviceID string, eventType protocol.EventType, requestID string, payload protocol.Payload) error {
	data, err := protocol.Encode(deviceID, eventType, requestID, payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", eventType, err)
	}

	if err := e.transport.Publish(topic, data, e.opts.QoS, false); err != nil {
		e.log().Error("command publish failed",
			"topic", topic,
			"event_type", eventType,
			"request_id", requestID,
			"error", err,
		)
		e.diagnose(Diagnostic{
			Kind:      DiagnosticPublish,
			Topic:     topic,
			DeviceID:  deviceID,
			RequestID: requestID,
			EventType: eventType,
			Message:   err.Error(),
		})
		return fmt.Errorf("%w: %s to %s: %w", ErrPublish, eventType, topic, err)
	}

	e.log().Debug("command published", "topic", topic, "event_type", eventType, "request_id", requestID)
	return nil
}

// closeSession closes the Session and reports the outcome if this call won.
// Returns false when the Session was already closed.
func (e *Engine) closeSession(requestID string, state session.State, reason session.Reason) (session.Session, bool) {
	closed, err := e.registry.Close(requestID, state, reason)
	if err != nil {
		return session.Session{}, false
	}
	e.emitOutcome(Outcome{Session: closed})
	return closed, true
}

func (e *Engine) emitOpened(s session.Session) {
	e.log().Info("session opened",
		"device_id", s.DeviceID,
		"operation", s.Kind,
		"request_id", s.RequestID,
		"deadline", s.Deadline,
	)

	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, o := range e.sessionObs {
		o.SessionOpened(s)
	}
}

func (e *Engine) emitOutcome(o Outcome) {
	s := o.Session
	e.log().Info("session closed",
		"device_id", s.DeviceID,
		"operation", s.Kind,
		"request_id", s.RequestID,
		"state", s.State,
		"reason", s.Reason,
		"duration_ms", s.Duration(s.ClosedAt).Milliseconds(),
	)

	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, obs := range e.outcomeObs {
		obs.OperationClosed(o)
	}
}

func (e *Engine) emitDevice(view device.View, eventType protocol.EventType) {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, o := range e.deviceObs {
		o.DeviceChanged(view, eventType)
	}
}

func (e *Engine) diagnose(d Diagnostic) {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = e.registry.Now().UTC()
	}

	// A replayed terminal event has already been applied.
	logf, msg := e.log().Warn, "message dropped"
	if d.Kind == DiagnosticDuplicate {
		logf, msg = e.log().Debug, "duplicate event ignored"
	}
	logf(msg,
		"kind", d.Kind,
		"topic", d.Topic,
		"device_id", d.DeviceID,
		"request_id", d.RequestID,
		"event_type", d.EventType,
		"detail", d.Message,
	)

	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, o := range e.diagnostics {
		o.Diagnostic(d)
	}
}
