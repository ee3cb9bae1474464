package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/mediator/internal/dispatch/ids"
	"github.com/drblury/mediator/internal/dispatch/metadata"
)

// Dispatcher is the slice of the mediator API the bridge needs. Satisfied by
// the root package Dispatcher.
type Dispatcher interface {
	Send(ctx context.Context, msg any) (any, error)
	Publish(ctx context.Context, msg any) error
}

// DeliveryMode selects how an inbound message enters the dispatcher.
type DeliveryMode int

const (
	// DeliverPublish fans the decoded message out to notification handlers.
	DeliverPublish DeliveryMode = iota
	// DeliverSend routes the decoded message to its single request handler.
	DeliverSend
)

// Binding maps one subscription topic onto a message type and delivery mode.
type Binding struct {
	// Topic is the broker topic/queue to subscribe to.
	Topic string
	// NewMessage constructs an empty pointer value the payload is decoded
	// into; the pointer is what gets dispatched.
	NewMessage func() any
	// Mode selects Send or Publish delivery. Defaults to Publish.
	Mode DeliveryMode
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Transport  Transport
	Dispatcher Dispatcher
	// Codec decodes inbound payloads and encodes outbound ones. Nil uses
	// JSONCodec.
	Codec Codec
	// Logger receives consume-loop logging. Nil discards.
	Logger   watermill.LoggerAdapter
	Bindings []Binding
}

// Bridge consumes broker messages and dispatches them, and publishes
// outbound messages with dispatch metadata attached. One bridge serves one
// transport.
type Bridge struct {
	transport  Transport
	dispatcher Dispatcher
	codec      Codec
	logger     watermill.LoggerAdapter
	bindings   []Binding

	wg sync.WaitGroup
}

// NewBridge validates the options and builds a Bridge.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("bridge requires a dispatcher")
	}
	if len(opts.Bindings) > 0 && opts.Transport.Subscriber == nil {
		return nil, errors.New("bridge with bindings requires a subscriber")
	}
	for _, binding := range opts.Bindings {
		if binding.Topic == "" {
			return nil, errors.New("bridge binding requires a topic")
		}
		if binding.NewMessage == nil {
			return nil, fmt.Errorf("bridge binding for topic %q requires a message constructor", binding.Topic)
		}
	}

	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Bridge{
		transport:  opts.Transport,
		dispatcher: opts.Dispatcher,
		codec:      codec,
		logger:     logger,
		bindings:   opts.Bindings,
	}, nil
}

// Run subscribes every binding and consumes until ctx is cancelled. It
// returns after the consume loops drained.
func (b *Bridge) Run(ctx context.Context) error {
	for _, binding := range b.bindings {
		msgs, err := b.transport.Subscriber.Subscribe(ctx, binding.Topic)
		if err != nil {
			return fmt.Errorf("subscribe to %q: %w", binding.Topic, err)
		}
		b.wg.Add(1)
		go b.consume(ctx, binding, msgs)
	}

	<-ctx.Done()
	b.wg.Wait()
	return nil
}

func (b *Bridge) consume(ctx context.Context, binding Binding, msgs <-chan *message.Message) {
	defer b.wg.Done()
	for msg := range msgs {
		if err := b.deliver(ctx, binding, msg); err != nil {
			b.logger.Error("Message dispatch failed", err, watermill.LogFields{
				"topic":        binding.Topic,
				"message_uuid": msg.UUID,
			})
			msg.Nack()
			continue
		}
		msg.Ack()
	}
}

// deliver decodes one broker message and routes it into the dispatcher with
// the broker metadata attached to the context.
func (b *Bridge) deliver(ctx context.Context, binding Binding, msg *message.Message) error {
	target := binding.NewMessage()
	if err := b.codec.Unmarshal(msg.Payload, target); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	md := metadata.FromWatermill(msg.Metadata)
	md = md.With(metadata.KeySourceTopic, binding.Topic)
	ctx = metadata.NewContext(ctx, md)

	if binding.Mode == DeliverSend {
		_, err := b.dispatcher.Send(ctx, target)
		return err
	}
	return b.dispatcher.Publish(ctx, target)
}

// PublishMessage encodes payload and publishes it to topic, carrying the
// dispatch metadata from ctx as broker headers.
func (b *Bridge) PublishMessage(ctx context.Context, topic string, payload any) error {
	if b.transport.Publisher == nil {
		return errors.New("bridge has no publisher")
	}
	data, err := b.codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	msg := message.NewMessage(ids.NewDispatchID(), data)
	md, _ := metadata.FromContext(ctx)
	md = md.With(metadata.KeyMessageType, fmt.Sprintf("%T", payload))
	msg.Metadata = metadata.ToWatermill(md)
	msg.SetContext(ctx)

	return b.transport.Publisher.Publish(topic, msg)
}

// Close closes the underlying publisher and subscriber.
func (b *Bridge) Close() error {
	var errs []error
	if b.transport.Subscriber != nil {
		if err := b.transport.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.transport.Publisher != nil {
		if err := b.transport.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
