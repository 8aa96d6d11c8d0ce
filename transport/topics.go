package transport

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// TopicMapper rewrites queue names into names the backend accepts.
type TopicMapper func(topic string) string

// AlphanumericTopics replaces every character outside [A-Za-z0-9_-] with an
// underscore, so "messages.failed" becomes "messages_failed". SNS, SQS and
// JetStream stream names need this.
func AlphanumericTopics(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, topic)
}

// MapTopics wraps both halves of t so every topic goes through mapper.
func MapTopics(t Transport, mapper TopicMapper) Transport {
	if mapper == nil {
		return t
	}
	return Transport{
		Publisher:  mappedPublisher{next: t.Publisher, mapper: mapper},
		Subscriber: mappedSubscriber{next: t.Subscriber, mapper: mapper},
	}
}

type mappedPublisher struct {
	next   message.Publisher
	mapper TopicMapper
}

func (p mappedPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.next.Publish(p.mapper(topic), messages...)
}

func (p mappedPublisher) Close() error { return p.next.Close() }

type mappedSubscriber struct {
	next   message.Subscriber
	mapper TopicMapper
}

func (s mappedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.next.Subscribe(ctx, s.mapper(topic))
}

func (s mappedSubscriber) Close() error { return s.next.Close() }
