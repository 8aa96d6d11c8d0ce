package asyncflow

import (
	"context"

	runtimepkg "github.com/drblury/asyncflow/internal/runtime"
	asyncpkg "github.com/drblury/asyncflow/internal/runtime/async"
	buspkg "github.com/drblury/asyncflow/internal/runtime/bus"
	configpkg "github.com/drblury/asyncflow/internal/runtime/config"
	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	idspkg "github.com/drblury/asyncflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/asyncflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/asyncflow/internal/runtime/logging"
	metricspkg "github.com/drblury/asyncflow/internal/runtime/metrics"
	runnerpkg "github.com/drblury/asyncflow/internal/runtime/runner"
	serializerpkg "github.com/drblury/asyncflow/internal/runtime/serializer"
	"github.com/drblury/asyncflow/queue"
	"github.com/drblury/asyncflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Status              = runtimepkg.Status
	QueueStatus         = runtimepkg.QueueStatus

	// Envelopes
	Envelope = envelopepkg.Envelope
	Async    = envelopepkg.Async

	// Bus
	Handler        = buspkg.Handler
	HandlerFunc    = buspkg.HandlerFunc
	Middleware     = buspkg.Middleware
	MiddlewareFunc = buspkg.MiddlewareFunc
	Stack          = buspkg.Stack
	Bus            = buspkg.Bus
	Router         = buspkg.Router
	Hooks          = buspkg.Hooks
	HookContext    = buspkg.HookContext

	// Async middleware and runner
	AsyncConfig     = asyncpkg.Config
	AsyncMiddleware = asyncpkg.Middleware
	Runner          = runnerpkg.Runner
	RunnerConfig    = runnerpkg.Config
	ErrorHandler    = runnerpkg.ErrorHandler
	Policy          = runnerpkg.Policy
	MemorySampler   = runnerpkg.MemorySampler

	// Serialization
	Serializer      = serializerpkg.Serializer
	PayloadCodec    = serializerpkg.PayloadCodec
	FrameSerializer = serializerpkg.FrameSerializer
	TypeRegistry    = serializerpkg.Registry
	MessageResolver = serializerpkg.MessageResolver

	// Queues
	Driver      = queue.Driver
	Counter     = queue.Counter
	ConsumeFunc = queue.ConsumeFunc
	CancelFunc  = queue.CancelFunc

	// Errors
	Classification = errspkg.Classification
	Classifier     = errspkg.Classifier
	SevereError    = errspkg.SevereError
	PermanentError = errspkg.PermanentError
	DecodeError    = errspkg.DecodeError

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Metrics = metricspkg.Metrics

	// Transports
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

const (
	MemorySystem = runtimepkg.MemorySystem
	RedisSystem  = runtimepkg.RedisSystem
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	Wrap         = envelopepkg.Wrap
	WrapTo       = envelopepkg.WrapTo
	Restore      = envelopepkg.Restore
	AsAsync      = envelopepkg.AsAsync
	OpenEnvelope = envelopepkg.Open

	NewBus          = buspkg.New
	NewRouter       = buspkg.NewRouter
	Recoverer       = buspkg.Recoverer
	LogMessages     = buspkg.LogMessages
	Tracer          = buspkg.Tracer
	WithHooks       = buspkg.WithHooks
	LoggingHooks    = buspkg.LoggingHooks
	AlertingHooks   = buspkg.AlertingHooks
	NewAsync        = asyncpkg.New
	WithAsyncLogger = asyncpkg.WithLogger
	WithMetrics     = asyncpkg.WithMetrics

	NewRunner           = runnerpkg.New
	DefaultErrorHandler = runnerpkg.DefaultErrorHandler
	MaxMessages         = runnerpkg.MaxMessages
	MaxMemory           = runnerpkg.MaxMemory
	MaxDuration         = runnerpkg.MaxDuration
	HeapObjectsBytes    = runnerpkg.HeapObjectsBytes

	NewSerializer      = serializerpkg.New
	NewJSONSerializer  = serializerpkg.NewJSON
	NewProtoSerializer = serializerpkg.NewProto
	NewTypeRegistry    = serializerpkg.NewRegistry
	TypeName           = serializerpkg.TypeName

	Permanent   = errspkg.Permanent
	Severe      = errspkg.Severe
	Classify    = errspkg.Classify
	IsSevere    = errspkg.IsSevere
	IsRetryable = errspkg.IsRetryable

	ErrDriverRequired     = errspkg.ErrDriverRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrSerializerRequired = errspkg.ErrSerializerRequired
	ErrQueueRequired      = errspkg.ErrQueueRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrNilMessage         = errspkg.ErrNilMessage
	ErrDecode             = errspkg.ErrDecode
	ErrUnknownMessageType = errspkg.ErrUnknownMessageType
	ErrNoHandler          = errspkg.ErrNoHandler
	ErrAlreadyRegistered  = errspkg.ErrAlreadyRegistered
	ErrPermanent          = errspkg.ErrPermanent
	ErrSevere             = errspkg.ErrSevere

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.NopLogger

	NewMetrics = metricspkg.New

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	NewMessageID = idspkg.NewMessageID
)

// Register adds fn as the service handler for messages of type T.
func Register[T any](svc *Service, fn func(ctx context.Context, msg T) error) error {
	return runtimepkg.Register(svc, fn)
}

// RegisterNamed is Register with an explicit wire name for T.
func RegisterNamed[T any](svc *Service, name string, fn func(ctx context.Context, msg T) error) error {
	return runtimepkg.RegisterNamed(svc, name, fn)
}

// RegisterHandler adds fn to a standalone router.
func RegisterHandler[T any](r *Router, fn func(ctx context.Context, msg T) error) error {
	return buspkg.Register(r, fn)
}

// RegisterType records T on a standalone type registry.
func RegisterType[T any](r *TypeRegistry, name string) error {
	return serializerpkg.Register[T](r, name)
}
