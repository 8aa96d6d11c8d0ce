package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
)

func TestHooksOnStartAndDone(t *testing.T) {
	var started, done HookContext
	hooks := Hooks{
		OnStart: func(hc HookContext) { started = hc },
		OnDone:  func(hc HookContext) { done = hc },
		OnError: func(HookContext, error) { t.Fatal("OnError must not run on success") },
	}

	final := HandlerFunc(func(context.Context, any) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	env := envelopepkg.Wrap(fooMessage{})
	env.RegisterPublish()

	require.NoError(t, New(final, WithHooks(hooks)).Handle(context.Background(), env))

	assert.Equal(t, "bus.fooMessage", started.MessageType)
	assert.True(t, started.Async)
	assert.Equal(t, 1, started.PublishCount)
	assert.False(t, started.StartedAt.IsZero())
	assert.GreaterOrEqual(t, done.Duration, 5*time.Millisecond)
}

func TestHooksOnError(t *testing.T) {
	boom := errors.New("boom")
	var captured error
	hooks := Hooks{
		OnDone:  func(HookContext) { t.Fatal("OnDone must not run on failure") },
		OnError: func(_ HookContext, err error) { captured = err },
	}

	final := HandlerFunc(func(context.Context, any) error { return boom })
	err := New(final, WithHooks(hooks)).Handle(context.Background(), fooMessage{})

	assert.Equal(t, boom, err)
	assert.Equal(t, boom, captured)
}

func TestHooksMerge(t *testing.T) {
	var order []string
	a := Hooks{OnStart: func(HookContext) { order = append(order, "a") }}
	b := Hooks{
		OnStart: func(HookContext) { order = append(order, "b") },
		OnError: func(HookContext, error) { order = append(order, "b-error") },
	}

	merged := a.Merge(b)
	merged.OnStart(HookContext{})
	merged.OnError(HookContext{}, errors.New("x"))
	assert.Nil(t, merged.OnDone)
	assert.Equal(t, []string{"a", "b", "b-error"}, order)
}

func TestLoggingHooks(t *testing.T) {
	rec := loggingpkg.NewRecorder()
	final := HandlerFunc(func(context.Context, any) error { return errors.New("boom") })

	mws := []Middleware{WithHooks(LoggingHooks(rec)), LogMessages(rec)}
	_ = New(final, mws...).Handle(context.Background(), fooMessage{})

	assert.Equal(t, []string{"Message started", "Dispatching message", "Message failed"}, rec.Messages("debug"))
	assert.Empty(t, rec.Messages("error"))
}

func TestAlertingHooks(t *testing.T) {
	alerts := 0
	final := HandlerFunc(func(context.Context, any) error { return errors.New("boom") })

	_ = New(final, WithHooks(AlertingHooks(func(HookContext, error) { alerts++ }))).
		Handle(context.Background(), fooMessage{})
	assert.Equal(t, 1, alerts)
}

func TestTracerPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	final := HandlerFunc(func(context.Context, any) error { return boom })

	assert.Equal(t, boom, New(final, Tracer()).Handle(context.Background(), fooMessage{}))
}
