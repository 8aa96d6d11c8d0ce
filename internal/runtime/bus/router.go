package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
)

// Router is a final handler that dispatches on the dynamic type of the
// opened message.
type Router struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]func(context.Context, any) error
}

var _ Handler = (*Router)(nil)

func NewRouter() *Router {
	return &Router{handlers: make(map[reflect.Type]func(context.Context, any) error)}
}

// Register binds fn to messages of type T.
func Register[T any](r *Router, fn func(ctx context.Context, msg T) error) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	t := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("%w: handler for %s", errspkg.ErrAlreadyRegistered, t)
	}
	r.handlers[t] = func(ctx context.Context, msg any) error {
		return fn(ctx, msg.(T))
	}
	return nil
}

// Handles reports whether a handler exists for msg.
func (r *Router) Handles(msg any) bool {
	_, ok := r.lookup(envelopepkg.Open(msg))
	return ok
}

func (r *Router) Handle(ctx context.Context, msg any) error {
	inner := envelopepkg.Open(msg)
	if inner == nil {
		return errspkg.ErrNilMessage
	}
	fn, ok := r.lookup(inner)
	if !ok {
		return fmt.Errorf("%w: %T", errspkg.ErrNoHandler, inner)
	}
	return fn(ctx, inner)
}

func (r *Router) lookup(msg any) (func(context.Context, any) error, bool) {
	if msg == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[reflect.TypeOf(msg)]
	return fn, ok
}
