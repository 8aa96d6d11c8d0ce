// Package pubsub adapts any Watermill publisher and subscriber pair to the
// queue.Driver contract.
package pubsub

import (
	"context"
	sterrors "errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	idspkg "github.com/drblury/asyncflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
	"github.com/drblury/asyncflow/queue"
)

// MetadataQueue is the metadata key carrying the logical queue name.
const MetadataQueue = "asyncflow_queue"

// Config customises the driver.
type Config struct {
	// IdleTimeout ends Consume when no message arrives for this long. Zero
	// means consume until cancelled.
	IdleTimeout time.Duration
	Logger      loggingpkg.ServiceLogger
}

// Driver publishes payloads as Watermill messages on the topic named after
// the queue. Messages are acked once the consume callback has returned,
// whatever its outcome; retries are the async middleware's job.
//
// The first Consume on a queue subscribes to its topic and the subscription
// is kept until Close, so later Consume calls continue where the previous
// one stopped. Subscribers that replay history, such as a persistent
// gochannel, therefore replay it only once.
type Driver struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	cfg        Config
	logger     loggingpkg.ServiceLogger

	mu     sync.Mutex
	subs   map[string]<-chan *message.Message
	subCtx context.Context
	stop   context.CancelFunc
	closed bool
}

var _ queue.Driver = (*Driver)(nil)

func New(publisher message.Publisher, subscriber message.Subscriber, cfg Config) (*Driver, error) {
	if publisher == nil || subscriber == nil {
		return nil, errspkg.ErrDriverRequired
	}
	subCtx, stop := context.WithCancel(context.Background())
	return &Driver{
		publisher:  publisher,
		subscriber: subscriber,
		cfg:        cfg,
		logger:     loggingpkg.OrNop(cfg.Logger),
		subs:       make(map[string]<-chan *message.Message),
		subCtx:     subCtx,
		stop:       stop,
	}, nil
}

func (d *Driver) Publish(ctx context.Context, name string, payload []byte) error {
	if name == "" {
		return errspkg.ErrQueueRequired
	}
	msg := message.NewMessage(idspkg.NewMessageID(), payload)
	msg.Metadata.Set(MetadataQueue, name)
	msg.SetContext(ctx)
	return d.publisher.Publish(name, msg)
}

func (d *Driver) Consume(ctx context.Context, name string, fn queue.ConsumeFunc) error {
	if name == "" {
		return errspkg.ErrQueueRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}

	messages, err := d.subscription(name)
	if err != nil {
		return err
	}

	cancelled := false
	cancel := func() { cancelled = true }

	var (
		idle  <-chan time.Time
		timer *time.Timer
	)
	if d.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(d.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
			d.logger.Debug("Queue idle, stopping consumption", loggingpkg.LogFields{
				"queue":        name,
				"idle_timeout": d.cfg.IdleTimeout.String(),
			})
			return nil
		case msg, ok := <-messages:
			if !ok {
				d.forget(name, messages)
				return nil
			}
			fn(ctx, msg.Payload, cancel)
			msg.Ack()
			if cancelled {
				return nil
			}
			if timer != nil {
				timer.Reset(d.cfg.IdleTimeout)
			}
		}
	}
}

// subscription returns the live subscription for a queue, subscribing on
// first use.
func (d *Driver) subscription(name string) (<-chan *message.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errspkg.ErrDriverClosed
	}
	if messages, ok := d.subs[name]; ok {
		return messages, nil
	}
	messages, err := d.subscriber.Subscribe(d.subCtx, name)
	if err != nil {
		return nil, err
	}
	d.subs[name] = messages
	return messages, nil
}

// forget drops a subscription whose channel was closed by the subscriber so
// the next Consume subscribes again.
func (d *Driver) forget(name string, messages <-chan *message.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs[name] == messages {
		delete(d.subs, name)
	}
}

// Close ends the subscriptions and closes the publisher and the subscriber.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.subs = make(map[string]<-chan *message.Message)
	d.mu.Unlock()

	d.stop()
	return sterrors.Join(d.publisher.Close(), d.subscriber.Close())
}
