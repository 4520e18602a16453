package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/playout-core/internal/infrastructure/config"
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	// ErrSubscribeFailed covers both subscribe and unsubscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS      = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic    = errors.New("mqtt: empty topic")
	errTimeout         = errors.New("timed out")
)

// Client is the daemon's connection to the studio broker. It publishes the
// retained playout snapshots and keeps the gateway callback subscription
// alive across reconnects.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	// subscriptions is replayed after every reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool
	stats     clientStats

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

type clientStats struct {
	connects      atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
}

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one received message. paho calls it on its own
// goroutine, so it must not block for long. A returned error is logged; the
// message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first connection. The client
// then reconnects on its own, replays subscriptions and republishes its
// online status each time.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)
	if err := c.wait(c.client.Connect()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg.Broker), err)
	}
	// The connect handler runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
	}
	opts := buildClientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "broker", brokerURL(cfg.Broker))
		}
	})
	c.client = pahomqtt.NewClient(opts)
	return c
}

// wait blocks on a paho token for at most opTimeout.
func (c *Client) wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w after %v", errTimeout, opTimeout)
	}
	return token.Error()
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.stats.connects.Add(1)
	c.restoreSubscriptions()
	c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(c.cfg.Broker.ClientID, "online", ""))

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close publishes a graceful offline status, which replaces the crash will
// gateways would otherwise see, and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", reasonShutdown))
		token.WaitTimeout(opTimeout)
	}
	c.client.Disconnect(disconnectQuiesceMillis)
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

// HealthDetails reports message counters for the /health endpoint.
func (c *Client) HealthDetails(context.Context) map[string]any {
	return map[string]any{
		"connects":       c.stats.connects.Load(),
		"subscriptions":  c.Subscriptions(),
		"published":      c.stats.published.Load(),
		"publish_errors": c.stats.publishErrors.Load(),
		"received":       c.stats.received.Load(),
		"handler_errors": c.stats.handlerErrors.Load(),
	}
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect installs a callback run on the first connect and every
// reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect installs a callback run when the link drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets where handler errors and recovered panics are reported.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler counts the message and keeps a failing or panicking handler
// from taking down paho's delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.stats.received.Add(1)
		defer func() {
			if r := recover(); r != nil {
				c.stats.handlerErrors.Add(1)
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.stats.handlerErrors.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
