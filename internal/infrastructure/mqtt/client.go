package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/config"
)

// Client is the engine's single broker connection.
//
// Commands go out through Publish, device events come in through the
// devices/# subscription. Paho reconnects on its own; after every reconnect
// the client subscribes again to what it tracked and republishes its online
// presence. Session state is never touched here: open Sessions keep their
// original deadlines across an outage, and the client only reports how many
// were open when the link dropped and came back.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	subs   subscriptionSet

	connected  atomic.Bool
	reconnects atomic.Int64

	mu           sync.RWMutex
	lostAt       time.Time
	logger       Logger
	openSessions func() int
}

// Logger is the subset of logging.Logger the client writes to.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives one inbound message. topic has wildcards expanded.
//
// A returned error is logged; it never affects acknowledgement. Paho calls
// handlers from its router goroutine in arrival order, so a handler that
// blocks delays every later message.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and waits for the first CONNACK.
//
// The last will marks the engine offline on libretap/service/{client_id}/status
// if the process dies without calling Close.
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed if the broker does not accept the connection
//     within the connect timeout
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{cfg: cfg}
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) { c.onReconnecting() })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

// SetLogger routes connection and handler events to logger.
// Without a logger they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// SetOpenSessions installs a counter reported with connection loss and
// restore, typically session.Registry.Len.
func (c *Client) SetOpenSessions(count func() int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openSessions = count
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) sessionCount() int {
	c.mu.RLock()
	count := c.openSessions
	c.mu.RUnlock()
	if count == nil {
		return 0
	}
	return count()
}

// onConnected runs on the initial connect and after every reconnect.
func (c *Client) onConnected() {
	c.connected.Store(true)

	c.mu.Lock()
	lostAt := c.lostAt
	c.lostAt = time.Time{}
	c.mu.Unlock()

	if !lostAt.IsZero() {
		restored, err := c.restoreSubscriptions()
		if logger := c.log(); logger != nil {
			if err != nil {
				logger.Error("MQTT subscriptions not restored",
					"error", err,
					"restored", restored,
					"tracked", c.subs.len(),
				)
			}
			logger.Info("MQTT connection restored",
				"downtime", time.Since(lostAt).Round(time.Millisecond).String(),
				"attempts", c.reconnects.Swap(0),
				"subscriptions", restored,
				"open_sessions", c.sessionCount(),
			)
		}
	}

	c.publishPresence([]byte(buildOnlinePayload(c.cfg.Broker.ClientID)))
}

// onConnectionLost records the outage. Paho starts reconnecting on its own.
func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)

	c.mu.Lock()
	c.lostAt = time.Now()
	c.mu.Unlock()

	if logger := c.log(); logger != nil {
		logger.Warn("MQTT connection lost, open sessions keep their deadlines",
			"error", err,
			"open_sessions", c.sessionCount(),
		)
	}
}

func (c *Client) onReconnecting() {
	attempt := c.reconnects.Add(1)
	if logger := c.log(); logger != nil {
		logger.Info("MQTT reconnecting",
			"attempt", attempt,
			"open_sessions", c.sessionCount(),
		)
	}
}

// publishPresence writes payload to the engine's retained status topic.
func (c *Client) publishPresence(payload []byte) {
	topic := Topics{}.ServiceStatus(c.cfg.Broker.ClientID)
	err := await(c.client.Publish(topic, byte(c.cfg.QoS), true, payload), ErrPublishFailed, topic)
	if err != nil {
		if logger := c.log(); logger != nil {
			logger.Warn("MQTT presence not published", "error", err)
		}
	}
}

// Close publishes the graceful offline presence and disconnects.
// It is safe to call on a client that never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishPresence([]byte(buildOfflinePayload(c.cfg.Broker.ClientID)))
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// wrapHandler adapts a MessageHandler to paho and logs its errors and panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.log(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.log(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
