package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/mediator/internal/dispatch/ids"
	"github.com/drblury/mediator/transport"
)

const (
	// DefaultStreamName is used when JetStreamConfig.StreamName is empty.
	DefaultStreamName = "MEDIATOR"

	// DefaultMaxDeliver is the default max delivery attempts per message.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// headerMessageUUID carries the watermill message UUID across the broker.
	headerMessageUUID = "mediator_message_uuid"
)

// JetStreamConfig holds JetStream-specific configuration.
type JetStreamConfig struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream to publish into and consume from.
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "limits" (default), "interest", or "workqueue".
	RetentionPolicy string
}

func (c JetStreamConfig) withDefaults() JetStreamConfig {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// JetStreamTransport implements message.Publisher and message.Subscriber on
// a JetStream stream with durable pull consumers.
type JetStreamTransport struct {
	conn   *nc.Conn
	js     nc.JetStreamContext
	config JetStreamConfig
	logger watermill.LoggerAdapter

	subMu sync.Mutex
	subs  map[string]*nc.Subscription

	closeOnce sync.Once
	closing   chan struct{}
}

// NewJetStream connects to the server and ensures the configured stream
// exists.
func NewJetStream(cfg JetStreamConfig, logger watermill.LoggerAdapter) (*JetStreamTransport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	conn, err := nc.Connect(cfg.URL, ConnectionOptions...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	t := &JetStreamTransport{
		conn:    conn,
		js:      js,
		config:  cfg,
		logger:  logger,
		subs:    make(map[string]*nc.Subscription),
		closing: make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func (t *JetStreamTransport) ensureStream() error {
	streamCfg := &nc.StreamConfig{
		Name:     t.config.StreamName,
		Subjects: []string{t.config.StreamName + ".>"},
		MaxAge:   7 * 24 * time.Hour,
		Replicas: t.config.Replicas,
	}

	switch t.config.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nc.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nc.WorkQueuePolicy
	default:
		streamCfg.Retention = nc.LimitsPolicy
	}

	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			t.logger.Info("JetStream stream already exists", watermill.LogFields{
				"stream": t.config.StreamName,
			})
		}
	}
	return nil
}

// Publish publishes messages to the stream subject derived from topic.
func (t *JetStreamTransport) Publish(topic string, messages ...*message.Message) error {
	select {
	case <-t.closing:
		return fmt.Errorf("jetstream transport is closed")
	default:
	}

	subject := t.subject(topic)
	for _, msg := range messages {
		headers := nc.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(headerMessageUUID, msg.UUID)

		if _, err := t.js.PublishMsg(&nc.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}); err != nil {
			return fmt.Errorf("publish to JetStream subject %q: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates a durable pull consumer for topic and returns its
// message channel. The channel closes when ctx is cancelled or the
// transport closes.
func (t *JetStreamTransport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-t.closing:
		return nil, fmt.Errorf("jetstream transport is closed")
	default:
	}

	subject := t.subject(topic)
	consumer := t.consumerName(topic)

	consumerCfg := &nc.ConsumerConfig{
		Durable:       consumer,
		FilterSubject: subject,
		AckPolicy:     nc.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nc.DeliverAllPolicy,
	}
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("create JetStream consumer %q: %w", consumer, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumer)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe to %q: %w", subject, err)
	}

	t.subMu.Lock()
	t.subs[topic] = sub
	t.subMu.Unlock()

	output := make(chan *message.Message)
	go t.fetchLoop(ctx, topic, sub, output)
	return output, nil
}

func (t *JetStreamTransport) fetchLoop(ctx context.Context, topic string, sub *nc.Subscription, output chan<- *message.Message) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closing:
			return
		default:
		}

		batch, err := sub.Fetch(10, nc.MaxWait(time.Second))
		if err != nil {
			if err == nc.ErrTimeout {
				continue
			}
			t.logger.Error("Fetching JetStream messages failed", err, watermill.LogFields{
				"topic": topic,
			})
			continue
		}

		for _, natsMsg := range batch {
			if !t.handOff(ctx, natsMsg, output) {
				return
			}
		}
	}
}

// handOff converts one broker message and blocks until it is acked, nacked,
// or the consumer stops. Returns false when the loop should exit.
func (t *JetStreamTransport) handOff(ctx context.Context, natsMsg *nc.Msg, output chan<- *message.Message) bool {
	wmMsg := t.toWatermill(natsMsg)

	select {
	case output <- wmMsg:
	case <-ctx.Done():
		return false
	case <-t.closing:
		return false
	}

	select {
	case <-wmMsg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logger.Error("Acking JetStream message failed", err, nil)
		}
	case <-wmMsg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			t.logger.Error("Nacking JetStream message failed", err, nil)
		}
	case <-ctx.Done():
		return false
	case <-t.closing:
		return false
	}
	return true
}

func (t *JetStreamTransport) toWatermill(natsMsg *nc.Msg) *message.Message {
	uuid := natsMsg.Header.Get(headerMessageUUID)
	if uuid == "" {
		uuid = ids.NewDispatchID()
	}

	wmMsg := message.NewMessage(uuid, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == headerMessageUUID || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}
	return wmMsg
}

func (t *JetStreamTransport) subject(topic string) string {
	return t.config.StreamName + "." + topic
}

func (t *JetStreamTransport) consumerName(topic string) string {
	return "mediator_" + topic
}

// Close unsubscribes all consumers and closes the connection.
func (t *JetStreamTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)

		t.subMu.Lock()
		for _, sub := range t.subs {
			_ = sub.Unsubscribe()
		}
		t.subs = make(map[string]*nc.Subscription)
		t.subMu.Unlock()

		t.conn.Close()
	})
	return nil
}

// GetCapabilities reports JetStream delivery guarantees.
func (t *JetStreamTransport) GetCapabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
