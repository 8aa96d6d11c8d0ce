// Package memory is an in-process FIFO queue driver. Consume drains a queue
// and returns once it is empty, which suits tests and batch workers.
package memory

import (
	"context"
	"sync"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	"github.com/drblury/asyncflow/queue"
)

type Driver struct {
	mu     sync.Mutex
	queues map[string][][]byte
	closed bool
}

var (
	_ queue.Driver  = (*Driver)(nil)
	_ queue.Counter = (*Driver)(nil)
)

func New() *Driver {
	return &Driver{queues: make(map[string][][]byte)}
}

func (d *Driver) Publish(ctx context.Context, name string, payload []byte) error {
	if name == "" {
		return errspkg.ErrQueueRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errspkg.ErrDriverClosed
	}
	d.queues[name] = append(d.queues[name], append([]byte(nil), payload...))
	return nil
}

func (d *Driver) Consume(ctx context.Context, name string, fn queue.ConsumeFunc) error {
	if name == "" {
		return errspkg.ErrQueueRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}

	cancelled := false
	cancel := func() { cancelled = true }

	for !cancelled {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, ok, err := d.pop(name)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fn(ctx, payload, cancel)
	}
	return nil
}

func (d *Driver) Count(_ context.Context, name string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[name]), nil
}

// Messages returns a copy of the payloads waiting on a queue.
func (d *Driver) Messages(name string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.queues[name]))
	copy(out, d.queues[name])
	return out
}

// Close rejects further publishes and consumes. Queued payloads are kept.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) pop(name string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false, errspkg.ErrDriverClosed
	}
	q := d.queues[name]
	if len(q) == 0 {
		return nil, false, nil
	}
	payload := q[0]
	q[0] = nil
	d.queues[name] = q[1:]
	return payload, true, nil
}
