package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	asyncpkg "github.com/drblury/asyncflow/internal/runtime/async"
	buspkg "github.com/drblury/asyncflow/internal/runtime/bus"
	configpkg "github.com/drblury/asyncflow/internal/runtime/config"
	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
	metricspkg "github.com/drblury/asyncflow/internal/runtime/metrics"
	runnerpkg "github.com/drblury/asyncflow/internal/runtime/runner"
	serializerpkg "github.com/drblury/asyncflow/internal/runtime/serializer"
	"github.com/drblury/asyncflow/queue"
	"github.com/drblury/asyncflow/queue/memory"
	"github.com/drblury/asyncflow/queue/pubsub"
	redisqueue "github.com/drblury/asyncflow/queue/redis"
	"github.com/drblury/asyncflow/transport"
	_ "github.com/drblury/asyncflow/transport/transports"
)

const (
	// MemorySystem is the PubSubSystem value that keeps queues in process.
	MemorySystem = "memory"
	// RedisSystem is the PubSubSystem value that keeps queues in Redis lists.
	RedisSystem = "redis"
)

var redisCapabilities = transport.Capabilities{
	Name:                       RedisSystem,
	Durable:                    true,
	SupportsAck:                true,
	SupportsOrdering:           true,
	SupportsCompetingConsumers: true,
	MaxMessageSize:             512 * 1024 * 1024,
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults built from the configuration.
type ServiceDependencies struct {
	// Driver replaces the driver built from PubSubSystem.
	Driver queue.Driver
	// Serializer replaces the JSON serializer. Register still records types
	// on the service registry, which a custom serializer may ignore.
	Serializer serializerpkg.Serializer
	// Transports is consulted instead of transport.DefaultRegistry.
	Transports *transport.Registry
	// MetricsRegisterer receives the collectors. When it is also a
	// prometheus.Gatherer the metrics endpoint serves from it.
	MetricsRegisterer prometheus.Registerer
	// Classifier replaces errors.Classify in the async middleware.
	Classifier errspkg.Classifier
	// Hooks are merged after the logging hooks.
	Hooks buspkg.Hooks
	// Middlewares run after the default chain, right before the handlers.
	Middlewares []buspkg.Middleware
	// MemorySampler replaces the heap sampler used by runners.
	MemorySampler runnerpkg.MemorySampler
}

// Service wires the queue driver, the serializer, the async middleware and
// the message bus for one process.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	driver       queue.Driver
	capabilities transport.Capabilities
	closeDriver  func() error

	registry   *serializerpkg.Registry
	serializer serializerpkg.Serializer
	router     *buspkg.Router
	async      *asyncpkg.Middleware
	bus        *buspkg.Bus
	metrics    *metricspkg.Metrics
	gatherer   prometheus.Gatherer

	memorySampler runnerpkg.MemorySampler

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration and panics
// when it cannot. Use TryNewService to handle the error.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service. Register handlers on the returned
// Service before dispatching or running.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Info("Creating async service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:          conf,
		Logger:        log,
		registry:      serializerpkg.NewRegistry(),
		router:        buspkg.NewRouter(),
		memorySampler: deps.MemorySampler,
	}

	s.metrics = metricspkg.New(deps.MetricsRegisterer)
	s.gatherer = prometheus.DefaultGatherer
	if g, ok := deps.MetricsRegisterer.(prometheus.Gatherer); ok {
		s.gatherer = g
	}
	if conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if err := s.setupDriver(ctx, deps); err != nil {
		return nil, err
	}

	s.serializer = deps.Serializer
	if s.serializer == nil {
		s.serializer = serializerpkg.NewJSON(s.registry)
	}

	async, err := asyncpkg.New(s.driver, s.serializer, asyncpkg.Config{
		QueueName:     conf.QueueName,
		FailedSuffix:  conf.FailedSuffix,
		MaxRetries:    conf.MaxRetries,
		DiscardFailed: conf.DiscardFailed,
		Classifier:    deps.Classifier,
	}, asyncpkg.WithLogger(log), asyncpkg.WithMetrics(s.metrics))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.async = async

	middlewares := append([]buspkg.Middleware{
		buspkg.LogMessages(log),
		buspkg.WithHooks(buspkg.LoggingHooks(log).Merge(deps.Hooks)),
		buspkg.Tracer(),
		async,
		buspkg.Recoverer(),
	}, deps.Middlewares...)
	s.bus = buspkg.New(s.router, middlewares...)

	return s, nil
}

func (s *Service) setupDriver(ctx context.Context, deps ServiceDependencies) error {
	if deps.Driver != nil {
		s.driver = deps.Driver
		s.capabilities = transport.Capabilities{Name: "custom"}
		s.closeDriver = func() error { return closeIfCloser(deps.Driver) }
		return nil
	}

	if s.Conf.PubSubSystem == "" || s.Conf.PubSubSystem == MemorySystem {
		d := memory.New()
		s.driver = d
		s.capabilities = transport.Capabilities{Name: MemorySystem, SupportsAck: true, SupportsOrdering: true}
		s.closeDriver = d.Close
		s.warnIfNotDurable()
		return nil
	}

	if s.Conf.PubSubSystem == RedisSystem {
		return s.setupRedisDriver(ctx)
	}

	registry := deps.Transports
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	tr, caps, err := registry.Resolve(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return fmt.Errorf("build %s transport: %w", s.Conf.PubSubSystem, err)
	}

	d, err := pubsub.New(tr.Publisher, tr.Subscriber, pubsub.Config{
		IdleTimeout: s.Conf.IdleTimeout,
		Logger:      s.Logger,
	})
	if err != nil {
		_ = tr.Close()
		return err
	}
	s.driver = d
	s.capabilities = caps
	s.closeDriver = d.Close
	s.warnIfNotDurable()
	return nil
}

func (s *Service) setupRedisDriver(ctx context.Context) error {
	client, err := redisqueue.Connect(ctx, redisqueue.ConnectConfig{
		URL:            s.Conf.RedisURL,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	d, err := redisqueue.New(client, redisqueue.Config{
		Prefix:       s.Conf.RedisKeyPrefix,
		BlockTimeout: s.Conf.IdleTimeout,
	})
	if err != nil {
		_ = client.Close()
		return err
	}
	s.driver = d
	s.capabilities = redisCapabilities
	s.closeDriver = d.Close
	return nil
}

func (s *Service) warnIfNotDurable() {
	if s.capabilities.SafeForRetries() {
		return
	}
	s.Logger.Info("Transport does not keep queued messages across restarts; retries may be lost", loggingpkg.LogFields{
		"transport": s.capabilities.Name,
		"durable":   s.capabilities.Durable,
		"ack":       s.capabilities.SupportsAck,
	})
}

// Register adds fn as the handler for messages of type T and records T on
// the serializer registry under its default type name.
func Register[T any](s *Service, fn func(ctx context.Context, msg T) error) error {
	return RegisterNamed(s, "", fn)
}

// RegisterNamed is Register with an explicit wire name for T, which keeps
// queued payloads decodable when the Go type is renamed or moved.
func RegisterNamed[T any](s *Service, name string, fn func(ctx context.Context, msg T) error) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if err := serializerpkg.Register[T](s.registry, name); err != nil {
		return err
	}
	return buspkg.Register(s.router, fn)
}

// Dispatch sends msg through the bus. Wrap it with envelope.Wrap or
// envelope.WrapTo to have it queued instead of handled now.
func (s *Service) Dispatch(ctx context.Context, msg any) error {
	return s.bus.Dispatch(ctx, msg)
}

// DispatchAsync queues msg on the default queue.
func (s *Service) DispatchAsync(ctx context.Context, msg any) error {
	return s.Dispatch(ctx, envelopepkg.Wrap(msg))
}

// DispatchTo queues msg on queueName.
func (s *Service) DispatchTo(ctx context.Context, queueName string, msg any) error {
	return s.Dispatch(ctx, envelopepkg.WrapTo(msg, queueName))
}

// NewRunner builds a runner over the service bus using the configured limits.
func (s *Service) NewRunner() (*runnerpkg.Runner, error) {
	return runnerpkg.New(s.driver, s.bus, runnerpkg.Config{
		Serializer:     s.serializer,
		MaxMessages:    s.Conf.MaxMessages,
		MaxMemoryBytes: s.Conf.MaxMemoryBytes,
		MaxDuration:    s.Conf.MaxDuration,
		Logger:         s.Logger,
		Metrics:        s.metrics,
		MemorySampler:  s.memorySampler,
	})
}

// Run consumes queueName until a cancellation policy fires, the queue runs
// dry or ctx ends. An empty queueName means the configured default queue and
// a nil onError uses runner.DefaultErrorHandler.
func (s *Service) Run(ctx context.Context, queueName string, onError runnerpkg.ErrorHandler) error {
	if queueName == "" {
		queueName = s.async.Config().QueueName
	}
	r, err := s.NewRunner()
	if err != nil {
		return err
	}
	return r.Run(ctx, queueName, onError)
}

// FailedQueue returns the name failing messages of queueName end up in.
func (s *Service) FailedQueue(queueName string) string {
	if queueName == "" {
		queueName = s.async.Config().QueueName
	}
	return s.async.Config().FailedQueue(queueName)
}

// Driver returns the queue driver in use.
func (s *Service) Driver() queue.Driver { return s.driver }

// Serializer returns the serializer in use.
func (s *Service) Serializer() serializerpkg.Serializer { return s.serializer }

// Capabilities describes the transport behind the driver.
func (s *Service) Capabilities() transport.Capabilities { return s.capabilities }

// Metrics returns the service collectors.
func (s *Service) Metrics() *metricspkg.Metrics { return s.metrics }

// Close releases the driver and its connections.
func (s *Service) Close() error {
	if s == nil || s.closeDriver == nil {
		return nil
	}
	return s.closeDriver()
}

// StartMetricsServer exposes /metrics and /api/status on the configured
// metrics port when metrics are enabled.
func (s *Service) StartMetricsServer() {
	if !s.Conf.MetricsEnabled {
		return
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/api/status", http.HandlerFunc(s.handleStatus))
	s.startHTTPServers()
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}

func closeIfCloser(v any) error {
	if c, ok := v.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
