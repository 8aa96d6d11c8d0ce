// Package http provides an HTTP transport: publishing POSTs each message to
// PublisherURL+queue and the subscriber serves the same paths on
// ServerAddress. Nothing is buffered, so a publish fails while the receiving
// runner is down.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/asyncflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

var errNoEndpoint = errors.New("http: server address or publisher URL is required")

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport. A process that only publishes may
// leave the server address empty and the subscriber then rejects Subscribe.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if serverAddr == "" && publisherURL == "" {
		return transport.Transport{}, errNoEndpoint
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(QueueURL(publisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	if serverAddr == "" {
		return transport.Transport{Publisher: publisher, Subscriber: publishOnly{}}, nil
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	if s, ok := subscriber.(*http.Subscriber); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				logger.Error("Failed to start HTTP subscriber server", err, watermill.LogFields{"addr": serverAddr})
			}
		}()
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// QueueURL joins the publisher base URL and a queue name with exactly one slash.
func QueueURL(base, queue string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(queue, "/")
}

var errPublishOnly = errors.New("http: no server address configured, cannot subscribe")

type publishOnly struct{}

func (publishOnly) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, errPublishOnly
}

func (publishOnly) Close() error { return nil }

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
