// Package runner drains a queue into a handler chain, stopping when one of
// its cancellation policies fires.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	buspkg "github.com/drblury/asyncflow/internal/runtime/bus"
	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
	metricspkg "github.com/drblury/asyncflow/internal/runtime/metrics"
	serializerpkg "github.com/drblury/asyncflow/internal/runtime/serializer"
	"github.com/drblury/asyncflow/queue"
)

const tracerName = "github.com/drblury/asyncflow/runner"

// ErrorHandler is called when a message cannot be decoded or its handler
// fails. msg is nil for decode failures. Calling cancel stops consumption
// after the current message.
type ErrorHandler func(ctx context.Context, err error, msg any, cancel queue.CancelFunc)

// Config holds the runner's collaborators and limits. Zero limits disable
// the matching policy.
type Config struct {
	Serializer serializerpkg.Serializer

	MaxMessages    int
	MaxMemoryBytes uint64
	MaxDuration    time.Duration

	Logger        loggingpkg.ServiceLogger
	Metrics       *metricspkg.Metrics
	MemorySampler MemorySampler
	Clock         Clock
}

func (cfg Config) withDefaults() Config {
	cfg.Logger = loggingpkg.OrNop(cfg.Logger)
	if cfg.MemorySampler == nil {
		cfg.MemorySampler = HeapObjectsBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}

// Runner passes messages from a queue to a handler.
type Runner struct {
	driver  queue.Driver
	handler buspkg.Handler
	cfg     Config
}

// New builds a runner. Panics raised by handler are recovered and reported
// as severe errors.
func New(driver queue.Driver, handler buspkg.Handler, cfg Config) (*Runner, error) {
	if driver == nil {
		return nil, errspkg.ErrDriverRequired
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if cfg.Serializer == nil {
		return nil, errspkg.ErrSerializerRequired
	}
	return &Runner{
		driver:  driver,
		handler: buspkg.New(handler, buspkg.Recoverer()),
		cfg:     cfg.withDefaults(),
	}, nil
}

// Policies returns a fresh set of the enabled policies, in the order they
// are evaluated: duration, messages, memory.
func (r *Runner) Policies() []Policy {
	var policies []Policy
	if r.cfg.MaxDuration > 0 {
		policies = append(policies, MaxDuration(r.cfg.MaxDuration, r.cfg.Clock))
	}
	if r.cfg.MaxMessages > 0 {
		policies = append(policies, MaxMessages(r.cfg.MaxMessages))
	}
	if r.cfg.MaxMemoryBytes > 0 {
		policies = append(policies, MaxMemory(r.cfg.MaxMemoryBytes, r.cfg.MemorySampler))
	}
	return policies
}

// Run consumes queueName until the driver returns. A nil onError uses
// DefaultErrorHandler with the runner's logger.
func (r *Runner) Run(ctx context.Context, queueName string, onError ErrorHandler) error {
	if queueName == "" {
		return errspkg.ErrQueueRequired
	}
	logger := r.cfg.Logger.With(loggingpkg.LogFields{"queue": queueName})
	if onError == nil {
		onError = DefaultErrorHandler(logger)
	}

	policies := r.Policies()
	logger.Info("Runner started", loggingpkg.LogFields{
		"max_messages":     r.cfg.MaxMessages,
		"max_memory_bytes": r.cfg.MaxMemoryBytes,
		"max_duration":     r.cfg.MaxDuration.String(),
	})

	err := r.driver.Consume(ctx, queueName, func(ctx context.Context, payload []byte, cancel queue.CancelFunc) {
		r.process(ctx, queueName, payload, cancel, onError)

		for _, p := range policies {
			if p.ShouldCancel() {
				logger.Info("Cancelling consumption", loggingpkg.LogFields{"policy": p.Name()})
				r.cfg.Metrics.Cancelled(queueName, p.Name())
				cancel()
			}
		}
	})
	if err != nil {
		logger.Error("Runner stopped", err, nil)
		return err
	}
	logger.Info("Runner stopped", nil)
	return nil
}

func (r *Runner) process(ctx context.Context, queueName string, payload []byte, cancel queue.CancelFunc, onError ErrorHandler) {
	started := r.cfg.Clock()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ProcessMessage", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("queue.name", queueName),
		attribute.Int("message.size", len(payload)),
	)

	msg, err := r.cfg.Serializer.Deserialize(payload)
	if err != nil {
		decodeErr := &errspkg.DecodeError{Queue: queueName, Cause: err}
		span.RecordError(decodeErr)
		span.SetStatus(codes.Error, decodeErr.Error())
		r.cfg.Metrics.Processed(queueName, metricspkg.OutcomeDecode, r.cfg.Clock().Sub(started))
		onError(ctx, decodeErr, nil, cancel)
		return
	}
	span.SetAttributes(attribute.String("message.type", buspkg.MessageType(msg)))

	if err := r.handler.Handle(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.cfg.Metrics.Processed(queueName, metricspkg.OutcomeError, r.cfg.Clock().Sub(started))
		onError(ctx, err, msg, cancel)
		return
	}
	r.cfg.Metrics.Processed(queueName, metricspkg.OutcomeSuccess, r.cfg.Clock().Sub(started))
}

// DefaultErrorHandler logs the failure and cancels consumption when the
// error is severe. Decode failures are logged and skipped.
func DefaultErrorHandler(logger loggingpkg.ServiceLogger) ErrorHandler {
	logger = loggingpkg.OrNop(logger)
	return func(_ context.Context, err error, msg any, cancel queue.CancelFunc) {
		fields := loggingpkg.LogFields{
			"message_type": buspkg.MessageType(msg),
			"error_type":   fmt.Sprintf("%T", err),
			"origin":       errspkg.Origin(err),
		}
		logger.Error("Error handling message", err, fields)

		if errspkg.IsSevere(err) {
			logger.Info("Cancelling consumption due to a severe error", fields)
			cancel()
		}
	}
}
