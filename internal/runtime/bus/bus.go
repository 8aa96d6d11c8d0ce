// Package bus is the in-process dispatch chain messages travel through.
//
// A Bus runs its middlewares in registration order. Each middleware receives
// a Stack whose Next handler is the rest of the chain, ending at the final
// handler (usually a Router).
package bus

import "context"

// Handler handles one dispatched message.
type Handler interface {
	Handle(ctx context.Context, msg any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg any) error

func (f HandlerFunc) Handle(ctx context.Context, msg any) error { return f(ctx, msg) }

// Stack gives a middleware access to the remainder of the chain.
type Stack interface {
	Next() Handler
}

// Middleware intercepts a message on its way to the final handler.
type Middleware interface {
	Process(ctx context.Context, msg any, stack Stack) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, msg any, stack Stack) error

func (f MiddlewareFunc) Process(ctx context.Context, msg any, stack Stack) error {
	return f(ctx, msg, stack)
}

// Bus is a Handler that runs a fixed middleware chain in front of a final
// handler. It is safe for concurrent use once built.
type Bus struct {
	final       Handler
	middlewares []Middleware
}

var _ Handler = (*Bus)(nil)

// New builds a bus. Nil middlewares are skipped.
func New(final Handler, middlewares ...Middleware) *Bus {
	chain := make([]Middleware, 0, len(middlewares))
	for _, mw := range middlewares {
		if mw != nil {
			chain = append(chain, mw)
		}
	}
	if final == nil {
		final = HandlerFunc(func(context.Context, any) error { return nil })
	}
	return &Bus{final: final, middlewares: chain}
}

// Handle dispatches msg through the chain.
func (b *Bus) Handle(ctx context.Context, msg any) error {
	return stack{bus: b}.handle(ctx, msg)
}

// Dispatch is an alias of Handle.
func (b *Bus) Dispatch(ctx context.Context, msg any) error {
	return b.Handle(ctx, msg)
}

type stack struct {
	bus   *Bus
	index int
}

func (s stack) Next() Handler {
	return HandlerFunc(stack{bus: s.bus, index: s.index + 1}.handle)
}

func (s stack) handle(ctx context.Context, msg any) error {
	if s.index >= len(s.bus.middlewares) {
		return s.bus.final.Handle(ctx, msg)
	}
	return s.bus.middlewares[s.index].Process(ctx, msg, s)
}
