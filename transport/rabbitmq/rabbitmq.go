// Package rabbitmq provides a RabbitMQ/AMQP transport for asyncflow queues.
// Queues are durable work queues: publishing goes straight to the queue named
// after the asyncflow queue and runners compete for its messages.
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/asyncflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

var errNoURL = errors.New("rabbitmq: URL is required")

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport sharing one connection between
// publisher and subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errNoURL
	}

	amqpConfig := QueueConfig(url)

	conn, err := ConnectionFactory(amqpConfig.Connection, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		closeConn(conn)
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		closeConn(conn)
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// QueueConfig returns the AMQP config used for asyncflow queues: durable
// queues, persistent deliveries and reconnects with the library defaults.
func QueueConfig(url string) amqp.Config {
	c := amqp.NewDurableQueueConfig(url)
	c.Connection.Reconnect = amqp.DefaultReconnectConfig()
	return c
}

func closeConn(conn *amqp.ConnectionWrapper) {
	if conn != nil {
		_ = conn.Close()
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
