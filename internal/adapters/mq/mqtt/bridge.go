// Package mqtt bridges the solver to an MQTT broker.
//
// Inbound topics:
//
//	<prefix>/in/enable             payload 0 or 1, toggles device transmission
//	<prefix>/in/contact/<receiver> payload a float, one contact reading
//
// Outbound topics:
//
//	<prefix>/out/tps               observed ticks per second
//	<prefix>/out/overrun           JSON {elapsed_ms, budget_ms}
//	<prefix>/out/point/<group id>  JSON {x, y, z} of a solved position
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/okian/patpat/internal/config"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/pkg/logger"
)

const (
	connectTimeout = 10 * time.Second
	qosAtMostOnce  = 0
)

// Enqueuer accepts contact readings.
type Enqueuer interface {
	Enqueue(ctx context.Context, r model.Reading) error
}

// Enabler toggles device transmission.
type Enabler interface {
	SetEnabled(enabled bool)
}

// Bridge subscribes to the control and contact topics and publishes telemetry.
type Bridge struct {
	client  paho.Client
	prefix  string
	log     logger.Logger
	enqueue Enqueuer
	enabler Enabler
	now     func() time.Time

	// owned is set when the bridge built the client and subscribes from its
	// connect handler.
	owned bool
}

// New creates a bridge for cfg. It returns ErrNoBroker when no broker is set
// and no client was supplied.
func New(cfg config.MQTTConfig, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Get().Named("mqtt")
	}
	if b.client != nil {
		return b, nil
	}
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}

	o := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("patpat-" + uuid.NewString()).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c paho.Client) { b.subscribe(c) }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			b.log.Warn(context.Background(), "mqtt connection lost", logger.Error(err))
		})
	b.client = paho.NewClient(o)
	b.owned = true
	return b, nil
}

// Client returns the underlying client, for devices that publish through it.
func (b *Bridge) Client() paho.Client { return b.client }

// Connect connects to the broker. Subscriptions are (re)made on every connect.
func (b *Bridge) Connect(ctx context.Context) error {
	tok := b.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	if !b.owned {
		b.subscribe(b.client)
	}
	b.log.Info(ctx, "mqtt connected", logger.String("prefix", b.prefix))
	return nil
}

// Disconnect closes the connection, waiting at most 250ms for pending work.
func (b *Bridge) Disconnect() {
	b.client.Disconnect(250)
}

// EnableTopic returns the topic toggling device transmission.
func (b *Bridge) EnableTopic() string { return b.prefix + "/in/enable" }

// ContactTopic returns the wildcard topic of contact readings.
func (b *Bridge) ContactTopic() string { return b.prefix + "/in/contact/+" }

func (b *Bridge) subscribe(c paho.Client) {
	ctx := context.Background()
	subs := map[string]paho.MessageHandler{
		b.EnableTopic():  b.HandleEnable,
		b.ContactTopic(): b.HandleContact,
	}
	for topic, h := range subs {
		tok := c.Subscribe(topic, qosAtMostOnce, h)
		if !tok.WaitTimeout(connectTimeout) {
			b.log.Error(ctx, "mqtt subscribe timed out", logger.String("topic", topic))
			continue
		}
		if err := tok.Error(); err != nil {
			b.log.Error(ctx, "mqtt subscribe failed", logger.String("topic", topic), logger.Error(err))
			continue
		}
		b.log.Debug(ctx, "mqtt subscribed", logger.String("topic", topic))
	}
}

// HandleEnable applies a message of the enable topic.
func (b *Bridge) HandleEnable(_ paho.Client, msg paho.Message) {
	ctx := context.Background()
	if b.enabler == nil {
		return
	}
	switch strings.TrimSpace(string(msg.Payload())) {
	case "1", "true":
		b.enabler.SetEnabled(true)
	case "0", "false":
		b.enabler.SetEnabled(false)
	default:
		b.log.Warn(ctx, "ignoring enable message",
			logger.Error(fmt.Errorf("%w: %q", ErrInvalidPayload, msg.Payload())))
	}
}

// HandleContact turns a contact message into a reading timestamped on receipt.
func (b *Bridge) HandleContact(_ paho.Client, msg paho.Message) {
	ctx := context.Background()
	if b.enqueue == nil {
		return
	}
	receiver := msg.Topic()[strings.LastIndexByte(msg.Topic(), '/')+1:]
	value, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
	r := model.Reading{ReceiverID: receiver, Value: value, TS: b.now()}
	if err == nil {
		err = r.Validate()
	}
	if err != nil {
		b.log.Debug(ctx, "ignoring contact message",
			logger.String("topic", msg.Topic()), logger.Error(fmt.Errorf("%w: %w", ErrInvalidPayload, err)))
		return
	}
	if err := b.enqueue.Enqueue(ctx, r); err != nil {
		b.log.Debug(ctx, "contact reading rejected", logger.String("receiver", receiver), logger.Error(err))
	}
}

// TickOverrun publishes an overrun event.
func (b *Bridge) TickOverrun(elapsed, budget time.Duration) {
	b.publishJSON(b.prefix+"/out/overrun", overrunPayload{
		ElapsedMS: float64(elapsed) / float64(time.Millisecond),
		BudgetMS:  float64(budget) / float64(time.Millisecond),
	})
}

// TPSReported publishes the observed tick rate.
func (b *Bridge) TPSReported(observed, _ int) {
	b.publish(b.prefix+"/out/tps", strconv.Itoa(observed))
}

// PublishPoint publishes a solved position.
func (b *Bridge) PublishPoint(p model.SolvedPoint) {
	b.publishJSON(fmt.Sprintf("%s/out/point/%d", b.prefix, p.GroupID), pointPayload{
		X: p.Point.X, Y: p.Point.Y, Z: p.Point.Z,
	})
}

type overrunPayload struct {
	ElapsedMS float64 `json:"elapsed_ms"`
	BudgetMS  float64 `json:"budget_ms"`
}

type pointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (b *Bridge) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error(context.Background(), "encode mqtt payload", logger.String("topic", topic), logger.Error(err))
		return
	}
	b.publish(topic, payload)
}

// publish does not wait for delivery; it runs on the tick goroutine.
func (b *Bridge) publish(topic string, payload any) {
	if !b.client.IsConnectionOpen() {
		return
	}
	b.client.Publish(topic, qosAtMostOnce, false, payload)
}
