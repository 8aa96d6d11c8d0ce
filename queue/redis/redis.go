// Package redis is a queue driver backed by Redis lists.
//
// Publish appends to the list named after the queue. Consume moves each
// payload onto a per-queue processing list before invoking the callback and
// removes it once the callback returns, so a worker that dies mid-message
// leaves the payload behind for Recover. Consume returns once the queue is
// empty, or after BlockTimeout without a new payload when one is set.
package redis

import (
	"context"
	sterrors "errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	"github.com/drblury/asyncflow/queue"
)

// DefaultPrefix namespaces every key the driver touches.
const DefaultPrefix = "asyncflow:"

const processingSuffix = ":processing"

var (
	ErrConnectionURL = sterrors.New("asyncflow: invalid redis connection url")
	ErrNotReady      = sterrors.New("asyncflow: redis is not ready")
)

type Config struct {
	// Prefix is prepended to queue names to form list keys.
	Prefix string
	// BlockTimeout makes Consume wait this long for new payloads once the
	// queue is empty. Zero returns as soon as the queue is drained.
	BlockTimeout time.Duration
}

type Driver struct {
	client goredis.UniversalClient
	cfg    Config
}

var (
	_ queue.Driver  = (*Driver)(nil)
	_ queue.Counter = (*Driver)(nil)
)

func New(client goredis.UniversalClient, cfg Config) (*Driver, error) {
	if client == nil {
		return nil, errspkg.ErrDriverRequired
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Driver{client: client, cfg: cfg}, nil
}

func (d *Driver) Publish(ctx context.Context, name string, payload []byte) error {
	if name == "" {
		return errspkg.ErrQueueRequired
	}
	if err := d.client.RPush(ctx, d.key(name), payload).Err(); err != nil {
		return fmt.Errorf("redis: push to %q: %w", name, err)
	}
	return nil
}

func (d *Driver) Consume(ctx context.Context, name string, fn queue.ConsumeFunc) error {
	if name == "" {
		return errspkg.ErrQueueRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}

	source, processing := d.key(name), d.processingKey(name)
	cancelled := false
	cancel := func() { cancelled = true }

	for !cancelled {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := d.next(ctx, source, processing)
		if sterrors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("redis: pop from %q: %w", name, err)
		}

		fn(ctx, []byte(payload), cancel)

		if err := d.client.LRem(context.WithoutCancel(ctx), processing, 1, payload).Err(); err != nil {
			return fmt.Errorf("redis: ack on %q: %w", name, err)
		}
	}
	return nil
}

func (d *Driver) next(ctx context.Context, source, processing string) (string, error) {
	if d.cfg.BlockTimeout > 0 {
		return d.client.BLMove(ctx, source, processing, "LEFT", "RIGHT", d.cfg.BlockTimeout).Result()
	}
	return d.client.LMove(ctx, source, processing, "LEFT", "RIGHT").Result()
}

func (d *Driver) Count(ctx context.Context, name string) (int, error) {
	n, err := d.client.LLen(ctx, d.key(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count %q: %w", name, err)
	}
	return int(n), nil
}

// Recover moves payloads left on the processing list of a queue back to the
// front of the queue and reports how many were moved. Run it before starting
// consumers, never alongside them.
func (d *Driver) Recover(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, errspkg.ErrQueueRequired
	}
	moved := 0
	for {
		err := d.client.LMove(ctx, d.processingKey(name), d.key(name), "RIGHT", "LEFT").Err()
		if sterrors.Is(err, goredis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis: recover %q: %w", name, err)
		}
		moved++
	}
}

func (d *Driver) Close() error {
	return d.client.Close()
}

func (d *Driver) key(name string) string { return d.cfg.Prefix + name }

func (d *Driver) processingKey(name string) string { return d.cfg.Prefix + name + processingSuffix }

// ConnectConfig controls how Connect reaches the server.
type ConnectConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Connect parses a redis:// URL and pings the server until it answers or the
// attempts run out.
func Connect(ctx context.Context, cfg ConnectConfig) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, sterrors.Join(ErrConnectionURL, err)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := range cfg.RetryAttempts {
		client := goredis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if attempt == cfg.RetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, sterrors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, sterrors.Join(ErrNotReady, lastErr)
}
