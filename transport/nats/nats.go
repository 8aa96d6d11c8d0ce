// Package nats provides NATS transports for asyncflow queues: "nats" uses
// core NATS subjects and "nats-jetstream" persists queues in JetStream.
// Runners subscribe through a queue group so each message reaches one of them.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/asyncflow/transport"
)

const (
	// TransportName is the name used to register the core NATS transport.
	TransportName = "nats"

	// JetStreamTransportName is the name used to register the JetStream transport.
	JetStreamTransportName = "nats-jetstream"

	// QueueGroupPrefix names the queue group and durable consumer shared by runners.
	QueueGroupPrefix = "asyncflow"
)

const (
	maxReconnects  = 10
	reconnectWait  = 2 * time.Second
	ackWaitTimeout = 30 * time.Second
)

var errNoURL = errors.New("nats: URL is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
	transport.RegisterWithCapabilities(JetStreamTransportName, BuildJetStream, transport.NATSJetStreamCapabilities)
}

// Build creates a core NATS transport. Messages published while no runner
// is subscribed are lost.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return build(cfg, logger, nats.JetStreamConfig{Disabled: true})
}

// BuildJetStream creates a JetStream transport. Streams are provisioned on
// first use and named after the queue with separators replaced, since stream
// names may not contain dots.
func BuildJetStream(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	tr, err := build(cfg, logger, nats.JetStreamConfig{
		AutoProvision: true,
		TrackMsgId:    true,
		DurablePrefix: QueueGroupPrefix,
	})
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.MapTopics(tr, transport.AlphanumericTopics), nil
}

func build(cfg transport.Config, logger watermill.LoggerAdapter, js nats.JetStreamConfig) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errNoURL
	}

	options := connectOptions(cfg.GetNATSClientName())
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   js,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: QueueGroupPrefix,
			SubscribersCount: 1,
			AckWaitTimeout:   ackWaitTimeout,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
			JetStream:        js,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func connectOptions(clientName string) []natsgo.Option {
	options := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(reconnectWait),
	}
	if clientName != "" {
		options = append(options, natsgo.Name(clientName))
	}
	return options
}

// Capabilities returns the capabilities of the core NATS transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
