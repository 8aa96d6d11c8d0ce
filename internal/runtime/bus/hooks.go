package bus

import (
	"context"
	"time"

	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
)

// HookContext describes one dispatch to the lifecycle hooks.
type HookContext struct {
	// MessageType is the Go type of the opened message.
	MessageType string
	// Async is true when the message travelled in an async envelope.
	Async bool
	// PublishCount is the envelope's publish count, zero for plain messages.
	PublishCount int
	Context      context.Context
	StartedAt    time.Time
	// Duration is only set for OnDone and OnError.
	Duration time.Duration
}

// Hooks are optional callbacks around a dispatch. Nil hooks are skipped.
type Hooks struct {
	OnStart func(HookContext)
	OnDone  func(HookContext)
	OnError func(HookContext, error)
}

// Merge returns hooks calling h first and then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart: chain(h.OnStart, other.OnStart),
		OnDone:  chain(h.OnDone, other.OnDone),
		OnError: chainErr(h.OnError, other.OnError),
	}
}

func chain(a, b func(HookContext)) func(HookContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HookContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErr(a, b func(HookContext, error)) func(HookContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HookContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// WithHooks invokes hooks around the rest of the chain.
func WithHooks(hooks Hooks) Middleware {
	return MiddlewareFunc(func(ctx context.Context, msg any, stack Stack) error {
		hc := HookContext{
			MessageType: MessageType(msg),
			Context:     ctx,
			StartedAt:   time.Now(),
		}
		if async, ok := envelopepkg.AsAsync(msg); ok {
			hc.Async = true
			hc.PublishCount = async.PublishCount()
		}

		if hooks.OnStart != nil {
			hooks.OnStart(hc)
		}

		err := stack.Next().Handle(ctx, msg)

		hc.Duration = time.Since(hc.StartedAt)
		if err != nil {
			if hooks.OnError != nil {
				hooks.OnError(hc, err)
			}
		} else if hooks.OnDone != nil {
			hooks.OnDone(hc)
		}
		return err
	})
}

// LoggingHooks logs dispatch lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	logger = loggingpkg.OrNop(logger)
	return Hooks{
		OnStart: func(hc HookContext) {
			logger.Debug("Message started", loggingpkg.LogFields{
				"message_type":  hc.MessageType,
				"publish_count": hc.PublishCount,
			})
		},
		OnDone: func(hc HookContext) {
			logger.Debug("Message completed", loggingpkg.LogFields{
				"message_type": hc.MessageType,
				"duration_ms":  hc.Duration.Milliseconds(),
			})
		},
		// Failures are logged at error level by the runner's error handler.
		OnError: func(hc HookContext, err error) {
			logger.Debug("Message failed", loggingpkg.LogFields{
				"error":         err.Error(),
				"message_type":  hc.MessageType,
				"duration_ms":   hc.Duration.Milliseconds(),
				"publish_count": hc.PublishCount,
			})
		},
	}
}

// AlertingHooks calls alert whenever a dispatch fails.
func AlertingHooks(alert func(HookContext, error)) Hooks {
	return Hooks{OnError: alert}
}
