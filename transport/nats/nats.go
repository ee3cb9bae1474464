// Package nats provides NATS transports for the mediator bridge: plain
// core NATS and, when enabled in the configuration, JetStream with durable
// consumers and explicit acknowledgement.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/mediator/transport"
)

// TransportName is the name used to register the core NATS transport.
const TransportName = "nats"

// JetStreamTransportName is the name used to register the JetStream
// transport directly. The plain name also builds JetStream when
// GetNATSJetStreamEnabled reports true.
const JetStreamTransportName = "nats-jetstream"

// ConnectionOptions are applied to every NATS connection this package
// opens. Override to tune reconnect behaviour or add credentials.
var ConnectionOptions = []nc.Option{
	nc.RetryOnFailedConnect(true),
	nc.MaxReconnects(-1),
}

// PublisherFactory allows overriding the core publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the core subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

// JetStreamFactory allows overriding the JetStream transport creation for
// testing.
var JetStreamFactory = func(cfg JetStreamConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	t, err := NewJetStream(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return t, t, nil
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
	transport.RegisterWithCapabilities(JetStreamTransportName, BuildJetStream, transport.NATSJetStreamCapabilities)
}

// Build creates a NATS transport. JetStream is used when the configuration
// enables it, core NATS otherwise.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if cfg.GetNATSJetStreamEnabled() {
		return BuildJetStream(ctx, cfg, logger)
	}

	url := cfg.GetNATSURL()
	marshaler := &wmnats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: ConnectionOptions,
			Marshaler:   marshaler,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:         url,
			NatsOptions: ConnectionOptions,
			Unmarshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// BuildJetStream creates a JetStream transport regardless of the toggle.
func BuildJetStream(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub, err := JetStreamFactory(JetStreamConfig{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of the core NATS transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
