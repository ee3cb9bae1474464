package mediator

import (
	"context"

	dispatchpkg "github.com/drblury/mediator/internal/dispatch"
	configpkg "github.com/drblury/mediator/internal/dispatch/config"
	errspkg "github.com/drblury/mediator/internal/dispatch/errors"
	idspkg "github.com/drblury/mediator/internal/dispatch/ids"
	loggingpkg "github.com/drblury/mediator/internal/dispatch/logging"
	metadatapkg "github.com/drblury/mediator/internal/dispatch/metadata"
)

type (
	Config     = configpkg.Config
	Dispatcher = dispatchpkg.Dispatcher
	Options    = dispatchpkg.Options
	Registry   = dispatchpkg.Registry

	// Handler contracts and capability interfaces discovered on middleware
	// instances.
	Handler     = dispatchpkg.Handler
	HandlerFunc = dispatchpkg.HandlerFunc
	Outcome     = dispatchpkg.Outcome
	BeforeHook  = dispatchpkg.BeforeHook
	AfterHook   = dispatchpkg.AfterHook
	FinallyHook = dispatchpkg.FinallyHook
	Interceptor = dispatchpkg.Interceptor
	Preemptor   = dispatchpkg.Preemptor

	// Registration descriptors.
	HandlerDescriptor    = dispatchpkg.HandlerDescriptor
	MiddlewareDescriptor = dispatchpkg.MiddlewareDescriptor
	MiddlewareRef        = dispatchpkg.MiddlewareRef
	Target               = dispatchpkg.Target
	TargetKind           = dispatchpkg.TargetKind
	HandlerKind          = dispatchpkg.HandlerKind
	Lifetime             = dispatchpkg.Lifetime
	ScopeResolver        = dispatchpkg.ScopeResolver

	// Notification fan-out strategies.
	NotificationPublisher = dispatchpkg.NotificationPublisher
	Invocation            = dispatchpkg.Invocation

	// Dispatch lifecycle hooks.
	DispatchContext = dispatchpkg.DispatchContext
	DispatchHooks   = dispatchpkg.DispatchHooks
	DispatchState   = dispatchpkg.DispatchState

	// Per-handler statistics.
	StatsRegistry   = dispatchpkg.StatsRegistry
	HandlerStats    = dispatchpkg.HandlerStats
	HandlerInfo     = dispatchpkg.HandlerInfo
	LatencyMetrics  = dispatchpkg.LatencyMetrics
	ErrorBreakdown  = dispatchpkg.ErrorBreakdown
	ErrorCategory   = dispatchpkg.ErrorCategory
	ErrorClassifier = dispatchpkg.ErrorClassifier

	// Introspection HTTP surface.
	Introspector = dispatchpkg.Introspector

	// Built-in middleware configuration.
	RetryConfig  = dispatchpkg.RetryConfig
	CacheStore   = dispatchpkg.CacheStore
	CacheKeyFunc = dispatchpkg.CacheKeyFunc

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Error taxonomy.
	NoHandlerFoundError   = errspkg.NoHandlerFoundError
	AmbiguousHandlerError = errspkg.AmbiguousHandlerError
	HandlerFault          = errspkg.HandlerFault
	AggregateFault        = errspkg.AggregateFault
	CancellationFault     = errspkg.CancellationFault
	ConfigValidationError = errspkg.ConfigValidationError
)

const (
	LifetimeDefault   = dispatchpkg.LifetimeDefault
	LifetimeTransient = dispatchpkg.LifetimeTransient
	LifetimeScoped    = dispatchpkg.LifetimeScoped
	LifetimeSingleton = dispatchpkg.LifetimeSingleton

	TargetExact     = dispatchpkg.TargetExact
	TargetInterface = dispatchpkg.TargetInterface
	TargetBase      = dispatchpkg.TargetBase
	TargetAny       = dispatchpkg.TargetAny

	KindRequest      = dispatchpkg.KindRequest
	KindNotification = dispatchpkg.KindNotification

	StateIdle      = dispatchpkg.StateIdle
	StateResolving = dispatchpkg.StateResolving
	StateExecuting = dispatchpkg.StateExecuting
	StateCompleted = dispatchpkg.StateCompleted
	StateFaulted   = dispatchpkg.StateFaulted

	// Orders of the built-in middlewares within assembled pipelines.
	OrderCorrelation = dispatchpkg.OrderCorrelation
	OrderTracer      = dispatchpkg.OrderTracer
	OrderLogging     = dispatchpkg.OrderLogging
	OrderMetrics     = dispatchpkg.OrderMetrics
	OrderRetry       = dispatchpkg.OrderRetry
	OrderCache       = dispatchpkg.OrderCache

	StrategySequential      = configpkg.StrategySequential
	StrategyParallelWaitAll = configpkg.StrategyParallelWaitAll
	StrategyFireAndForget   = configpkg.StrategyFireAndForget
)

var (
	New         = dispatchpkg.New
	NewRegistry = dispatchpkg.NewRegistry

	// Handler instance factories.
	StaticFactory = dispatchpkg.StaticFactory

	// Target constructors.
	ExactType  = dispatchpkg.ExactType
	BaseType   = dispatchpkg.BaseType
	AnyMessage = dispatchpkg.AnyMessage

	// Notification fan-out strategies.
	NewSequentialPublisher      = dispatchpkg.NewSequentialPublisher
	NewParallelWaitAllPublisher = dispatchpkg.NewParallelWaitAllPublisher
	NewFireAndForgetPublisher   = dispatchpkg.NewFireAndForgetPublisher

	// Built-in middleware.
	DefaultMiddlewares    = dispatchpkg.DefaultMiddlewares
	CorrelationMiddleware = dispatchpkg.CorrelationMiddleware
	LoggingMiddleware     = dispatchpkg.LoggingMiddleware
	TracerMiddleware      = dispatchpkg.TracerMiddleware
	MetricsMiddleware     = dispatchpkg.MetricsMiddleware
	RetryMiddleware       = dispatchpkg.RetryMiddleware
	MetricsServer         = dispatchpkg.MetricsServer
	RetryConfigFromConfig = dispatchpkg.RetryConfigFromConfig
	CacheMiddleware       = dispatchpkg.CacheMiddleware
	DefaultCacheKey       = dispatchpkg.DefaultCacheKey
	NewMemoryCacheStore   = dispatchpkg.NewMemoryCacheStore

	// Dispatch lifecycle hooks.
	LoggingHooks  = dispatchpkg.LoggingHooks
	AlertingHooks = dispatchpkg.AlertingHooks

	// Statistics and introspection.
	NewStatsRegistry = dispatchpkg.NewStatsRegistry
	NewIntrospector  = dispatchpkg.NewIntrospector

	// Logging adapters.
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	NewNopLogger              = loggingpkg.NewNopLogger

	// Identifier generation (ULIDs).
	NewCorrelationID = idspkg.NewCorrelationID
	NewDispatchID    = idspkg.NewDispatchID

	NewConfigValidationError = errspkg.NewConfigValidationError

	ErrDispatcherRequired   = errspkg.ErrDispatcherRequired
	ErrRegistryRequired     = errspkg.ErrRegistryRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrMessageRequired      = errspkg.ErrMessageRequired
	ErrMessageTypeRequired  = errspkg.ErrMessageTypeRequired
	ErrFactoryRequired      = errspkg.ErrFactoryRequired
	ErrScopeResolverMissing = errspkg.ErrScopeResolverMissing
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
)

// Metadata keys stamped on every dispatch and carried across transports.
const (
	MetadataCorrelationID = metadatapkg.KeyCorrelationID
	MetadataDispatchID    = metadatapkg.KeyDispatchID
	MetadataMessageType   = metadatapkg.KeyMessageType
	MetadataHandlerName   = metadatapkg.KeyHandlerName
	MetadataSourceTopic   = metadatapkg.KeySourceTopic
)

// NewRequestHandler adapts a typed request function into a Handler. The
// returned value becomes the dispatch Outcome.
func NewRequestHandler[T any, R any](fn func(ctx context.Context, msg T) (R, error)) Handler {
	return dispatchpkg.NewRequestHandler(fn)
}

// NewCascadingHandler adapts a typed request function that also emits cascade
// messages, published after the pipeline completes successfully.
func NewCascadingHandler[T any, R any](fn func(ctx context.Context, msg T) (R, []any, error)) Handler {
	return dispatchpkg.NewCascadingHandler(fn)
}

// NewNotificationHandler adapts a typed notification function into a Handler.
func NewNotificationHandler[T any](fn func(ctx context.Context, msg T) error) Handler {
	return dispatchpkg.NewNotificationHandler(fn)
}

// ExactTypeOf returns a Target matching exactly T.
func ExactTypeOf[T any]() Target {
	return dispatchpkg.ExactTypeOf[T]()
}

// InterfaceOf returns a Target matching any message implementing the
// interface T.
func InterfaceOf[T any]() Target {
	return dispatchpkg.InterfaceOf[T]()
}

// MetadataFromContext extracts the dispatch metadata from ctx.
var MetadataFromContext = metadatapkg.FromContext
