package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/mediator/internal/dispatch/config"
	"github.com/drblury/mediator/internal/dispatch/ids"
	"github.com/drblury/mediator/internal/dispatch/logging"
	"github.com/drblury/mediator/internal/dispatch/metadata"
)

// Built-in middleware numeric orders. Lower runs first (outermost).
const (
	OrderCorrelation = 10
	OrderTracer      = 20
	OrderLogging     = 30
	OrderMetrics     = 40
	OrderRetry       = 50
	OrderCache       = 60
)

// DefaultMiddlewares returns the standard middleware set applied to every
// pipeline. Retry and cache middleware are explicit-only and not included;
// handlers opt into them via Use references.
func DefaultMiddlewares(logger logging.ServiceLogger, cfg *configpkg.Config) []*MiddlewareDescriptor {
	descriptors := []*MiddlewareDescriptor{
		CorrelationMiddleware(),
		TracerMiddleware(),
		LoggingMiddleware(logger),
	}
	if cfg != nil && cfg.MetricsEnabled {
		namespace := cfg.MetricsNamespace
		if namespace == "" {
			namespace = "mediator"
		}
		descriptors = append(descriptors, MetricsMiddleware(namespace, prometheus.DefaultRegisterer))
	}
	return descriptors
}

// CorrelationMiddleware ensures the dispatch metadata carries a correlation
// identifier. The dispatcher already assigns one on entry; this middleware
// covers pipelines the host drives with hand-built contexts.
func CorrelationMiddleware() *MiddlewareDescriptor {
	return &MiddlewareDescriptor{
		Name:    "correlation",
		Target:  AnyMessage(),
		Order:   OrderCorrelation,
		Factory: StaticFactory(&correlationMiddleware{}),
	}
}

type correlationMiddleware struct{}

func (m *correlationMiddleware) Before(ctx context.Context, msg any) (context.Context, error) {
	md, _ := metadata.FromContext(ctx)
	if md[metadata.KeyCorrelationID] != "" {
		return ctx, nil
	}
	md = md.With(metadata.KeyCorrelationID, ids.NewCorrelationID())
	return metadata.NewContext(ctx, md), nil
}

// LoggingMiddleware logs dispatch entry and completion with the dispatch
// metadata and duration.
func LoggingMiddleware(logger logging.ServiceLogger) *MiddlewareDescriptor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MiddlewareDescriptor{
		Name:    "logging",
		Target:  AnyMessage(),
		Order:   OrderLogging,
		Factory: StaticFactory(&loggingMiddleware{logger: logger}),
	}
}

type loggingStartKey struct{}

type loggingMiddleware struct {
	logger logging.ServiceLogger
}

func (m *loggingMiddleware) Before(ctx context.Context, msg any) (context.Context, error) {
	md, _ := metadata.FromContext(ctx)
	m.logger.Debug("Processing message", logging.LogFields{
		"message_type":   md[metadata.KeyMessageType],
		"handler":        md[metadata.KeyHandlerName],
		"dispatch_id":    md[metadata.KeyDispatchID],
		"correlation_id": md[metadata.KeyCorrelationID],
	})
	return context.WithValue(ctx, loggingStartKey{}, time.Now()), nil
}

func (m *loggingMiddleware) Finally(ctx context.Context, msg any, err error) {
	fields := logging.LogFields{}
	md, _ := metadata.FromContext(ctx)
	fields["message_type"] = md[metadata.KeyMessageType]
	fields["handler"] = md[metadata.KeyHandlerName]
	fields["dispatch_id"] = md[metadata.KeyDispatchID]
	if started, ok := ctx.Value(loggingStartKey{}).(time.Time); ok {
		fields["duration_ms"] = time.Since(started).Milliseconds()
	}
	if err != nil {
		m.logger.Error("Message processing failed", err, fields)
		return
	}
	m.logger.Debug("Message processed", fields)
}

// TracerMiddleware wraps dispatch execution in an OpenTelemetry span.
func TracerMiddleware() *MiddlewareDescriptor {
	return &MiddlewareDescriptor{
		Name:    "tracer",
		Target:  AnyMessage(),
		Order:   OrderTracer,
		Factory: StaticFactory(&tracerMiddleware{}),
	}
}

type tracerSpanKey struct{}

type tracerMiddleware struct{}

func (m *tracerMiddleware) Before(ctx context.Context, msg any) (context.Context, error) {
	md, _ := metadata.FromContext(ctx)
	tracer := otel.Tracer("mediator-dispatch-tracer")
	ctx, span := tracer.Start(ctx, "Dispatch")
	span.SetAttributes(
		attribute.String("mediator.message_type", md[metadata.KeyMessageType]),
		attribute.String("mediator.handler", md[metadata.KeyHandlerName]),
		attribute.String("mediator.dispatch_id", md[metadata.KeyDispatchID]),
		attribute.String("mediator.correlation_id", md[metadata.KeyCorrelationID]),
	)
	return context.WithValue(ctx, tracerSpanKey{}, span), nil
}

func (m *tracerMiddleware) Finally(ctx context.Context, msg any, err error) {
	span, ok := ctx.Value(tracerSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// MetricsMiddleware records dispatch counts and durations as Prometheus
// metrics, labeled by handler, message type and outcome.
func MetricsMiddleware(namespace string, registerer prometheus.Registerer) *MiddlewareDescriptor {
	if namespace == "" {
		namespace = "mediator"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatches_total",
		Help:      "Total number of dispatched messages by handler and outcome.",
	}, []string{"handler", "message_type", "outcome"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Dispatch pipeline duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler", "message_type"})
	registerer.MustRegister(dispatches, durations)

	return &MiddlewareDescriptor{
		Name:   "metrics",
		Target: AnyMessage(),
		Order:  OrderMetrics,
		Factory: StaticFactory(&metricsMiddleware{
			dispatches: dispatches,
			durations:  durations,
		}),
	}
}

type metricsStartKey struct{}

type metricsMiddleware struct {
	dispatches *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

func (m *metricsMiddleware) Before(ctx context.Context, msg any) (context.Context, error) {
	return context.WithValue(ctx, metricsStartKey{}, time.Now()), nil
}

func (m *metricsMiddleware) Finally(ctx context.Context, msg any, err error) {
	md, _ := metadata.FromContext(ctx)
	handler := md[metadata.KeyHandlerName]
	msgType := md[metadata.KeyMessageType]

	outcome := "success"
	if err != nil {
		outcome = "fault"
	}
	m.dispatches.WithLabelValues(handler, msgType, outcome).Inc()
	if started, ok := ctx.Value(metricsStartKey{}).(time.Time); ok {
		m.durations.WithLabelValues(handler, msgType).Observe(time.Since(started).Seconds())
	}
}

// MetricsServer returns an HTTP server exposing the default Prometheus
// gatherer on /metrics at cfg.MetricsPort (default 2112).
func MetricsServer(cfg *configpkg.Config) *http.Server {
	port := 2112
	if cfg != nil && cfg.MetricsPort > 0 {
		port = cfg.MetricsPort
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

// RetryConfig customises the retry middleware behaviour.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// RetryConfigFromConfig maps the runtime configuration onto a RetryConfig.
func RetryConfigFromConfig(cfg *configpkg.Config) RetryConfig {
	if cfg == nil {
		return RetryConfig{}
	}
	return RetryConfig{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
}

// RetryMiddleware re-runs the stages inside it with exponential backoff when
// they fault (defaults applied to zero values). It is explicit-only: handlers
// opt in through a Use reference.
func RetryMiddleware(cfg RetryConfig) *MiddlewareDescriptor {
	normalized := cfg.withDefaults()
	return &MiddlewareDescriptor{
		Name:         "retry",
		Target:       AnyMessage(),
		Order:        OrderRetry,
		ExplicitOnly: true,
		Factory:      StaticFactory(&retryMiddleware{cfg: normalized}),
	}
}

type retryMiddleware struct {
	cfg RetryConfig
}

func (m *retryMiddleware) Intercept(ctx context.Context, msg any, attempt int, err error) bool {
	if attempt > m.cfg.MaxRetries {
		return false
	}
	if m.cfg.RetryIf != nil && !m.cfg.RetryIf(err) {
		return false
	}

	interval := m.cfg.InitialInterval
	for i := 1; i < attempt; i++ {
		interval *= 2
		if interval >= m.cfg.MaxInterval {
			interval = m.cfg.MaxInterval
			break
		}
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// CacheStore is the outcome cache consulted by the cache middleware. The
// store is owned and injected by the hosting application; implementations
// must be safe for concurrent use.
type CacheStore interface {
	Get(key string) (Outcome, bool)
	Set(key string, out Outcome)
}

// CacheKeyFunc derives the cache key for a message. Returning "" skips
// caching for that message.
type CacheKeyFunc func(msg any) string

// DefaultCacheKey keys by the message's type and value rendering.
func DefaultCacheKey(msg any) string {
	return fmt.Sprintf("%T:%+v", msg, msg)
}

// CacheMiddleware serves previously computed outcomes from the injected
// store, skipping the stages inside it on a hit. It is explicit-only.
func CacheMiddleware(store CacheStore, keyFn CacheKeyFunc) *MiddlewareDescriptor {
	if keyFn == nil {
		keyFn = DefaultCacheKey
	}
	return &MiddlewareDescriptor{
		Name:         "cache",
		Target:       AnyMessage(),
		Order:        OrderCache,
		ExplicitOnly: true,
		Factory:      StaticFactory(&cacheMiddleware{store: store, key: keyFn}),
	}
}

type cacheMiddleware struct {
	store CacheStore
	key   CacheKeyFunc
}

func (m *cacheMiddleware) Preempt(ctx context.Context, msg any) (Outcome, bool, error) {
	if m.store == nil {
		return Outcome{}, false, nil
	}
	key := m.key(msg)
	if key == "" {
		return Outcome{}, false, nil
	}
	out, hit := m.store.Get(key)
	return out, hit, nil
}

func (m *cacheMiddleware) After(ctx context.Context, msg any, out *Outcome) error {
	if m.store == nil {
		return nil
	}
	key := m.key(msg)
	if key == "" {
		return nil
	}
	m.store.Set(key, *out)
	return nil
}

// MemoryCacheStore is a process-local CacheStore backed by a sync.Map.
type MemoryCacheStore struct {
	entries sync.Map
}

func NewMemoryCacheStore() *MemoryCacheStore { return &MemoryCacheStore{} }

func (s *MemoryCacheStore) Get(key string) (Outcome, bool) {
	value, ok := s.entries.Load(key)
	if !ok {
		return Outcome{}, false
	}
	return value.(Outcome), true
}

func (s *MemoryCacheStore) Set(key string, out Outcome) {
	s.entries.Store(key, out)
}
