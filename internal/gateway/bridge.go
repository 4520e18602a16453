package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/playout-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// callbackTimeout bounds the engine work done for one callback.
const callbackTimeout = 10 * time.Second

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	Client   MQTTClient
	Topics   mqtt.Topics
	StudioID string
	Handler  PlaybackHandler
	QoS      byte
	Logger   Logger

	// Now returns Unix milliseconds; defaults to the wall clock.
	Now func() int64
}

// NotifyMessage is published when a part that asked for it goes on air.
type NotifyMessage struct {
	RundownID      string `json:"rundown_id"`
	PartInstanceID string `json:"part_instance_id"`
	PartID         string `json:"part_id"`
	Title          string `json:"title"`
	Timestamp      int64  `json:"timestamp"`
}

// Bridge publishes playout state to MQTT and feeds gateway callbacks back
// into the engine.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client   MQTTClient
	topics   mqtt.Topics
	studioID string
	handler  PlaybackHandler
	qos      byte
	logger   Logger
	now      func() int64

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	received  uint64
	failed    uint64
	published uint64
}

var (
	_ playout.Publisher = (*Bridge)(nil)
	_ playout.Notifier  = (*Bridge)(nil)
)

// NewBridge creates a bridge. Client and StudioID are required; Handler is
// required only for Start.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("gateway: mqtt client is required")
	}
	if opts.StudioID == "" {
		return nil, errors.New("gateway: studio id is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Bridge{
		client:   opts.Client,
		topics:   opts.Topics,
		studioID: opts.StudioID,
		handler:  opts.Handler,
		qos:      opts.QoS,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// SetHandler installs the callback handler. The engine is usually built
// with the bridge as its notifier, so the handler arrives afterwards. It
// must be called before Start.
func (b *Bridge) SetHandler(h PlaybackHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Start subscribes to the studio's callback topic.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.handler == nil {
		b.mu.Unlock()
		return errors.New("gateway: playback handler is required")
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started = true
	b.mu.Unlock()

	topic := b.topics.StudioCallbacks(b.studioID)
	if err := b.client.Subscribe(topic, b.qos, b.handleMessage); err != nil {
		b.Stop()
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	b.logger.Info("gateway bridge started", "studio_id", b.studioID, "topic", topic)
	return nil
}

// Stop unsubscribes and cancels callbacks still in flight.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	if err := b.client.Unsubscribe(b.topics.StudioCallbacks(b.studioID)); err != nil {
		b.logger.Warn("unsubscribing gateway callbacks failed", "error", err)
	}
}

// PublishSnapshot implements playout.Publisher.
func (b *Bridge) PublishSnapshot(_ context.Context, snap playout.Snapshot) error {
	studio := snap.StudioID
	if studio == "" {
		studio = b.studioID
	}
	if err := b.client.PublishJSON(b.topics.StudioPlayout(studio), snap, true); err != nil {
		return fmt.Errorf("publishing snapshot %d of %s: %w", snap.Generation, snap.RundownID, err)
	}
	b.mu.Lock()
	b.published++
	b.mu.Unlock()
	return nil
}

// NotifyCurrentPart implements playout.Notifier.
func (b *Bridge) NotifyCurrentPart(_ context.Context, rd rundown.Rundown, pi rundown.PartInstance) error {
	studio := rd.StudioID
	if studio == "" {
		studio = b.studioID
	}
	msg := NotifyMessage{
		RundownID:      rd.ID,
		PartInstanceID: pi.ID,
		PartID:         pi.Part.ID,
		Title:          pi.Part.Title,
		Timestamp:      b.now(),
	}
	if err := b.client.PublishJSON(b.topics.StudioNotify(studio), msg, false); err != nil {
		return fmt.Errorf("notifying current part %s: %w", pi.ID, err)
	}
	return nil
}

// handleMessage is the mqtt.MessageHandler for the callback topic. Errors
// are logged here; the returned error is only reported by the client.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	b.mu.Lock()
	b.received++
	parent, h := b.ctx, b.handler
	b.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	if studio, ok := b.topics.StudioFromTopic(topic); ok && studio != b.studioID {
		b.logger.Debug("ignoring callback for another studio", "topic", topic)
		return nil
	}

	cb, err := ParseCallback(payload)
	if err != nil {
		b.fail()
		b.logger.Warn("dropping gateway callback", "topic", topic, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(parent, callbackTimeout)
	defer cancel()
	if err := Dispatch(ctx, h, cb, b.now()); err != nil {
		b.fail()
		b.logger.Error("gateway callback failed",
			"type", cb.Type,
			"rundown_id", cb.RundownID,
			"part_instance_id", cb.PartInstanceID,
			"piece_instance_id", cb.PieceInstanceID,
			"error", err)
		return err
	}
	b.logger.Debug("gateway callback handled", "type", cb.Type, "rundown_id", cb.RundownID)
	return nil
}

func (b *Bridge) fail() {
	b.mu.Lock()
	b.failed++
	b.mu.Unlock()
}

// Metrics are counters for health reporting.
type Metrics struct {
	CallbacksReceived  uint64 `json:"callbacks_received"`
	CallbacksFailed    uint64 `json:"callbacks_failed"`
	SnapshotsPublished uint64 `json:"snapshots_published"`
}

// GetMetrics returns the current counters.
func (b *Bridge) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{CallbacksReceived: b.received, CallbacksFailed: b.failed, SnapshotsPublished: b.published}
}
