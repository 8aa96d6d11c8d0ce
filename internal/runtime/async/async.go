// Package async holds the middleware that defers enveloped messages to a
// queue and republishes them when their handler fails.
package async

import (
	"context"
	sterrors "errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	buspkg "github.com/drblury/asyncflow/internal/runtime/bus"
	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
	metricspkg "github.com/drblury/asyncflow/internal/runtime/metrics"
	serializerpkg "github.com/drblury/asyncflow/internal/runtime/serializer"
	"github.com/drblury/asyncflow/queue"
)

const tracerName = "github.com/drblury/asyncflow/async"

// Config customises the middleware. Zero values fall back to defaults.
type Config struct {
	// QueueName is used when an envelope carries no override.
	QueueName string
	// FailedSuffix is appended to the queue name once retries are exhausted.
	FailedSuffix string
	// MaxRetries is the publish count at which a failing message is moved to
	// the failed queue instead of being retried.
	MaxRetries int
	// DiscardFailed drops exhausted messages instead of storing them.
	DiscardFailed bool
	// Classifier decides which errors are worth retrying.
	Classifier errspkg.Classifier
}

func (cfg Config) withDefaults() Config {
	if cfg.QueueName == "" {
		cfg.QueueName = "messages"
	}
	if cfg.FailedSuffix == "" {
		cfg.FailedSuffix = ".failed"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.Classifier == nil {
		cfg.Classifier = errspkg.Classify
	}
	return cfg
}

// FailedQueue returns the failed queue name for queueName.
func (cfg Config) FailedQueue(queueName string) string {
	return queueName + cfg.withDefaults().FailedSuffix
}

// Option configures optional collaborators.
type Option func(*Middleware)

func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(m *Middleware) { m.logger = loggingpkg.OrNop(logger) }
}

func WithMetrics(metrics *metricspkg.Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

// Middleware publishes async envelopes on first sight and republishes them
// when their handler fails on redelivery.
type Middleware struct {
	driver     queue.Driver
	serializer serializerpkg.Serializer
	cfg        Config
	logger     loggingpkg.ServiceLogger
	metrics    *metricspkg.Metrics
}

var _ buspkg.Middleware = (*Middleware)(nil)

func New(driver queue.Driver, serializer serializerpkg.Serializer, cfg Config, opts ...Option) (*Middleware, error) {
	if driver == nil {
		return nil, errspkg.ErrDriverRequired
	}
	if serializer == nil {
		return nil, errspkg.ErrSerializerRequired
	}
	m := &Middleware{
		driver:     driver,
		serializer: serializer,
		cfg:        cfg.withDefaults(),
		logger:     loggingpkg.NopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Config returns the resolved configuration.
func (m *Middleware) Config() Config { return m.cfg }

func (m *Middleware) Process(ctx context.Context, msg any, stack buspkg.Stack) error {
	env, ok := envelopepkg.AsAsync(msg)
	if !ok {
		return stack.Next().Handle(ctx, msg)
	}

	if !env.HasBeenPublished() {
		return m.publish(ctx, env, false)
	}

	err := stack.Next().Handle(ctx, msg)
	if err == nil {
		return nil
	}

	exhausted := !m.cfg.Classifier(err).Retryable
	if pubErr := m.publish(ctx, env, exhausted); pubErr != nil {
		return sterrors.Join(err, pubErr)
	}
	return err
}

func (m *Middleware) publish(ctx context.Context, env *envelopepkg.Async, exhausted bool) (err error) {
	isMaxRetry := exhausted || env.PublishCount() >= m.cfg.MaxRetries

	target := m.cfg.QueueName
	if name, ok := env.QueueName(); ok {
		target = name
	}
	fields := loggingpkg.LogFields{
		"queue":         target,
		"message_type":  buspkg.MessageType(env),
		"publish_count": env.PublishCount(),
	}

	if isMaxRetry && m.cfg.DiscardFailed {
		m.logger.Debug("Dropping message after final attempt", fields)
		m.metrics.Dropped(target)
		return nil
	}
	if isMaxRetry {
		target += m.cfg.FailedSuffix
		fields["queue"] = target
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	env.RegisterPublish()
	span.SetAttributes(
		attribute.String("queue.name", target),
		attribute.Int("message.publish_count", env.PublishCount()),
		attribute.Bool("queue.failed", isMaxRetry),
	)

	payload, err := m.serializer.Serialize(env)
	if err != nil {
		return fmt.Errorf("serialize message for %q: %w", target, err)
	}
	if err := m.driver.Publish(ctx, target, payload); err != nil {
		return fmt.Errorf("publish message to %q: %w", target, err)
	}

	m.metrics.Published(target, env.PublishCount())
	if isMaxRetry {
		m.metrics.MovedToFailed(target)
		m.logger.Info("Message moved to failed queue", fields)
	} else {
		m.logger.Debug("Message published", fields)
	}
	return nil
}
