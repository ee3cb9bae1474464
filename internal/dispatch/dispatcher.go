package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"time"

	configpkg "github.com/drblury/mediator/internal/dispatch/config"
	errspkg "github.com/drblury/mediator/internal/dispatch/errors"
	"github.com/drblury/mediator/internal/dispatch/ids"
	"github.com/drblury/mediator/internal/dispatch/logging"
	"github.com/drblury/mediator/internal/dispatch/metadata"
)

// DispatchState tracks one dispatch through its lifecycle. Terminal states
// are mutually exclusive and final.
type DispatchState int

const (
	StateIdle DispatchState = iota
	StateResolving
	StateExecuting
	StateCompleted
	StateFaulted
)

func (s DispatchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// ScopeResolver supplies handler and middleware instances for non-default
// lifetimes. The host owns what Transient, Scoped and Singleton mean; the
// dispatcher only distinguishes cached Default instances from resolved ones.
type ScopeResolver interface {
	Resolve(ctx context.Context, name string, lifetime Lifetime) (any, error)
}

// Options configures a Dispatcher.
type Options struct {
	// Registry is the validated descriptor set. Required.
	Registry *Registry
	// Config tunes the notification strategy and middleware defaults. Nil
	// uses defaults.
	Config *configpkg.Config
	// Logger receives dispatch lifecycle logging. Nil discards.
	Logger logging.ServiceLogger
	// Scopes resolves non-default lifetime instances. Required only when the
	// registry contains non-default lifetimes.
	Scopes ScopeResolver
	// Hooks observe dispatch lifecycle events.
	Hooks DispatchHooks
	// Stats collects per-handler dispatch stats. Nil disables collection.
	Stats *StatsRegistry
	// Publisher overrides the strategy selected by Config.
	Publisher NotificationPublisher
}

// Dispatcher routes messages to handlers through assembled middleware
// pipelines. It is safe for concurrent use.
type Dispatcher struct {
	registry  *Registry
	assembler *PipelineAssembler
	cache     *InstanceCache
	scopes    ScopeResolver
	logger    logging.ServiceLogger
	publisher NotificationPublisher
	hooks     DispatchHooks
	stats     *StatsRegistry
}

// New validates the options and builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if opts.Registry.HasNonDefaultLifetimes() && opts.Scopes == nil {
		return nil, errspkg.ErrScopeResolverMissing
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = &configpkg.Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	publisher := opts.Publisher
	if publisher == nil {
		switch cfg.NotificationStrategy {
		case "", configpkg.StrategySequential:
			publisher = NewSequentialPublisher()
		case configpkg.StrategyParallelWaitAll:
			publisher = NewParallelWaitAllPublisher()
		case configpkg.StrategyFireAndForget:
			publisher = NewFireAndForgetPublisher(logger)
		default:
			return nil, errspkg.NewConfigValidationError(
				fmt.Errorf("unknown notification strategy: %q", cfg.NotificationStrategy))
		}
	}

	return &Dispatcher{
		registry:  opts.Registry,
		assembler: NewPipelineAssembler(opts.Registry, logger),
		cache:     NewInstanceCache(),
		scopes:    opts.Scopes,
		logger:    logger,
		publisher: publisher,
		hooks:     opts.Hooks,
		stats:     opts.Stats,
	}, nil
}

// Registry exposes the descriptor set, for introspection.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Stats exposes the stats registry, which may be nil.
func (d *Dispatcher) Stats() *StatsRegistry { return d.stats }

// Send dispatches a request message to its single handler and returns the
// handler's primary value. No handler for the exact message type is a
// NoHandlerFoundError, raised before any middleware runs. Cascading messages
// produced by the handler are published after the pipeline completed; their
// faults are logged, never returned to the sender.
func (d *Dispatcher) Send(ctx context.Context, msg any) (any, error) {
	if msg == nil {
		return nil, errspkg.ErrMessageRequired
	}
	msgType := reflect.TypeOf(msg)
	desc, ok := d.registry.RequestHandler(msgType)
	if !ok {
		return nil, &errspkg.NoHandlerFoundError{MessageType: typeName(msgType)}
	}

	out, err := d.dispatch(ctx, msgType, desc, msg)
	if err != nil {
		return nil, err
	}
	d.publishCascades(ctx, out.Cascades)
	return out.Value, nil
}

// Publish fans a notification out to every matching handler. Zero matching
// handlers is a successful no-op. How the handlers run and how their faults
// surface is the configured strategy's decision.
func (d *Dispatcher) Publish(ctx context.Context, msg any) error {
	if msg == nil {
		return errspkg.ErrMessageRequired
	}
	msgType := reflect.TypeOf(msg)

	matched := d.registry.NotificationHandlers(msgType)
	ordered, diags := SortOrdered(matched, handlerAccessors())
	for _, diag := range diags {
		d.logger.Info("Ordering cycle auto-recovered", logging.LogFields{
			"message_type": typeName(msgType),
			"cycle":        diag.String(),
		})
	}
	if len(ordered) == 0 {
		d.logger.Debug("No notification handlers matched", logging.LogFields{
			"message_type": typeName(msgType),
		})
		return nil
	}

	invocations := make([]Invocation, len(ordered))
	for i, desc := range ordered {
		desc := desc
		invocations[i] = Invocation{
			Handler: desc.Name,
			Run: func(ctx context.Context) error {
				out, err := d.dispatch(ctx, msgType, desc, msg)
				if err != nil {
					return err
				}
				d.publishCascades(ctx, out.Cascades)
				return nil
			},
		}
	}
	return d.publisher.PublishAll(ctx, invocations)
}

// Close drains detached notification work. It does not interrupt running
// dispatches.
func (d *Dispatcher) Close() error {
	d.publisher.Wait()
	return nil
}

func (d *Dispatcher) publishCascades(ctx context.Context, cascades []any) {
	for _, cascade := range cascades {
		if err := d.Publish(ctx, cascade); err != nil {
			d.logger.Error("Cascade publish failed", err, logging.LogFields{
				"message_type": fmt.Sprintf("%T", cascade),
			})
		}
	}
}

// dispatch runs one (message, handler) pair through its pipeline, with state
// tracking, hooks and stats around the execution.
func (d *Dispatcher) dispatch(ctx context.Context, msgType reflect.Type, desc *HandlerDescriptor, msg any) (Outcome, error) {
	md, ctx := d.dispatchMetadata(ctx, msgType, desc.Name)
	dispatchID := md[metadata.KeyDispatchID]

	state := StateIdle
	transition := func(next DispatchState) {
		d.logger.Trace("Dispatch state changed", logging.LogFields{
			"dispatch_id": dispatchID,
			"handler":     desc.Name,
			"from":        state.String(),
			"to":          next.String(),
		})
		state = next
	}

	transition(StateResolving)
	pipe := d.assembler.Pipeline(msgType, desc)

	started := time.Now()
	dctx := DispatchContext{
		HandlerName: desc.Name,
		MessageType: typeName(msgType),
		DispatchID:  dispatchID,
		Metadata:    md,
		Context:     ctx,
		StartedAt:   started,
	}
	if d.hooks.OnDispatchStart != nil {
		d.hooks.OnDispatchStart(dctx)
	}
	d.stats.DispatchStarted(desc.Name, desc.Kind.String())

	transition(StateExecuting)
	exec := &execution{dispatcher: d, pipeline: pipe, msg: msg}
	out, err := exec.layer(ctx, 0)

	duration := time.Since(started)
	d.stats.DispatchFinished(desc.Name, desc.Kind.String(), duration, err)
	dctx.Duration = duration
	if err != nil {
		transition(StateFaulted)
		if d.hooks.OnDispatchError != nil {
			d.hooks.OnDispatchError(dctx, err)
		}
		return Outcome{}, err
	}
	transition(StateCompleted)
	if d.hooks.OnDispatchDone != nil {
		d.hooks.OnDispatchDone(dctx)
	}
	return out, nil
}

// dispatchMetadata assigns the per-dispatch identifiers, preserving an
// existing correlation id so cascades stay correlated with their trigger.
func (d *Dispatcher) dispatchMetadata(ctx context.Context, msgType reflect.Type, handler string) (metadata.Metadata, context.Context) {
	md, _ := metadata.FromContext(ctx)
	if md[metadata.KeyCorrelationID] == "" {
		md = md.With(metadata.KeyCorrelationID, ids.NewCorrelationID())
	}
	md = md.With(metadata.KeyDispatchID, ids.NewDispatchID())
	md = md.With(metadata.KeyMessageType, typeName(msgType))
	md = md.With(metadata.KeyHandlerName, handler)
	return md, metadata.NewContext(ctx, md)
}

// instance resolves one descriptor instance: Default lifetime goes through
// the cache, everything else through the host's scope resolver.
func (d *Dispatcher) instance(ctx context.Context, name string, lifetime Lifetime, factory func() (any, error)) (any, error) {
	if lifetime == LifetimeDefault {
		return d.cache.GetOrCreate(name, factory)
	}
	if d.scopes == nil {
		return nil, errspkg.ErrScopeResolverMissing
	}
	return d.scopes.Resolve(ctx, name, lifetime)
}
