package bus

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
)

const tracerName = "github.com/drblury/asyncflow/bus"

// LogMessages debug-logs every message entering the chain.
func LogMessages(logger loggingpkg.ServiceLogger) Middleware {
	logger = loggingpkg.OrNop(logger)
	return MiddlewareFunc(func(ctx context.Context, msg any, stack Stack) error {
		fields := loggingpkg.LogFields{"message_type": MessageType(msg)}
		if async, ok := envelopepkg.AsAsync(msg); ok {
			fields["async"] = true
			fields["publish_count"] = async.PublishCount()
		}
		logger.Debug("Dispatching message", fields)
		return stack.Next().Handle(ctx, msg)
	})
}

// Tracer wraps dispatch in an OpenTelemetry span.
func Tracer() Middleware {
	return MiddlewareFunc(func(ctx context.Context, msg any, stack Stack) error {
		ctx, span := otel.Tracer(tracerName).Start(ctx, "Dispatch")
		defer span.End()

		span.SetAttributes(attribute.String("message.type", MessageType(msg)))
		if async, ok := envelopepkg.AsAsync(msg); ok {
			span.SetAttributes(attribute.Int("message.publish_count", async.PublishCount()))
		}

		err := stack.Next().Handle(ctx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
}

// MessageType names the type of the message carried by msg.
func MessageType(msg any) string {
	inner := envelopepkg.Open(msg)
	if inner == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", inner)
}
