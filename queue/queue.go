// Package queue defines the contract between asyncflow and the durable queue
// it publishes to and consumes from.
package queue

import "context"

// CancelFunc asks a running Consume to stop once the current callback
// returns. Calling it more than once has no further effect.
type CancelFunc func()

// ConsumeFunc is invoked once per delivered payload.
type ConsumeFunc func(ctx context.Context, payload []byte, cancel CancelFunc)

// Driver publishes payloads to named queues and consumes them.
//
// Consume blocks until the callback cancels, the context ends, or the
// driver has nothing more to deliver. Delivery guarantees are those of the
// underlying transport.
type Driver interface {
	Publish(ctx context.Context, queue string, payload []byte) error
	Consume(ctx context.Context, queue string, fn ConsumeFunc) error
}

// Counter is implemented by drivers that can report queue depth.
type Counter interface {
	Count(ctx context.Context, queue string) (int, error)
}
