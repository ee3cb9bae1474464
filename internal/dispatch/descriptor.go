package dispatch

import (
	"context"
	"reflect"
)

// Lifetime governs how handler and middleware instances are obtained.
type Lifetime int

const (
	// LifetimeDefault instances are constructed once by the descriptor's
	// factory and cached for the process lifetime.
	LifetimeDefault Lifetime = iota
	// LifetimeTransient instances are resolved from the host scope on every
	// invocation.
	LifetimeTransient
	// LifetimeScoped instances are resolved from the host scope on every
	// invocation; the host decides what a scope means.
	LifetimeScoped
	// LifetimeSingleton instances are resolved from the host scope on every
	// invocation; the host is expected to hand back the same instance.
	LifetimeSingleton
)

func (l Lifetime) String() string {
	switch l {
	case LifetimeDefault:
		return "default"
	case LifetimeTransient:
		return "transient"
	case LifetimeScoped:
		return "scoped"
	case LifetimeSingleton:
		return "singleton"
	default:
		return "unknown"
	}
}

// Outcome is the explicit result shape of a handler invocation: an optional
// primary value plus zero or more cascading messages that are published after
// the primary pipeline completes successfully.
type Outcome struct {
	Value    any
	Cascades []any
}

// Handler is the terminal stage of a pipeline.
type Handler interface {
	Handle(ctx context.Context, msg any) (Outcome, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg any) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, msg any) (Outcome, error) {
	return f(ctx, msg)
}

// Stage hook capabilities. A middleware instance implements any subset; the
// executor discovers them per instance.

// BeforeHook runs before inner stages. Returning a non-nil context replaces
// the context seen by inner stages. An error aborts the dispatch without
// entering the layer.
type BeforeHook interface {
	Before(ctx context.Context, msg any) (context.Context, error)
}

// AfterHook runs after inner stages completed successfully, innermost first.
// It may mutate the outcome. An error faults the dispatch.
type AfterHook interface {
	After(ctx context.Context, msg any, out *Outcome) error
}

// FinallyHook runs for every entered layer, innermost first, on both success
// and fault paths. err is nil on success.
type FinallyHook interface {
	Finally(ctx context.Context, msg any, err error)
}

// Interceptor lets a layer observe a fault raised by inner stages and request
// that they run again before the fault crosses its own boundary. attempt is
// 1-based and counts inner executions so far.
type Interceptor interface {
	Intercept(ctx context.Context, msg any, attempt int, err error) bool
}

// Preemptor lets a layer replace inner execution with a precomputed outcome,
// e.g. a cache hit. When hit is true the inner stages never run; the layer's
// own After and Finally hooks still do.
type Preemptor interface {
	Preempt(ctx context.Context, msg any) (out Outcome, hit bool, err error)
}

// TargetKind classifies how a middleware or notification handler binds to
// message types.
type TargetKind int

const (
	// TargetExact matches the message's exact type.
	TargetExact TargetKind = iota
	// TargetInterface matches any message type implementing the interface.
	TargetInterface
	// TargetBase matches any struct message embedding the base type.
	TargetBase
	// TargetAny matches every message.
	TargetAny
)

func (k TargetKind) String() string {
	switch k {
	case TargetExact:
		return "exact"
	case TargetInterface:
		return "interface"
	case TargetBase:
		return "base"
	case TargetAny:
		return "any"
	default:
		return "unknown"
	}
}

// Target identifies the message types a descriptor applies to.
type Target struct {
	Kind TargetKind
	Type reflect.Type
}

// ExactType returns a Target matching the exact type of sample.
func ExactType(sample any) Target {
	return Target{Kind: TargetExact, Type: reflect.TypeOf(sample)}
}

// ExactTypeOf returns a Target matching the exact type T.
func ExactTypeOf[T any]() Target {
	return Target{Kind: TargetExact, Type: typeOf[T]()}
}

// InterfaceOf returns a Target matching message types that implement the
// interface T.
func InterfaceOf[T any]() Target {
	return Target{Kind: TargetInterface, Type: typeOf[T]()}
}

// BaseType returns a Target matching struct messages that embed sample's type.
func BaseType(sample any) Target {
	return Target{Kind: TargetBase, Type: reflect.TypeOf(sample)}
}

// AnyMessage returns the sentinel Target matching every message.
func AnyMessage() Target {
	return Target{Kind: TargetAny}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Matches reports whether the target applies to the given message type.
func (t Target) Matches(msgType reflect.Type) bool {
	switch t.Kind {
	case TargetAny:
		return true
	case TargetExact:
		return msgType == t.Type
	case TargetInterface:
		if t.Type == nil || t.Type.Kind() != reflect.Interface {
			return false
		}
		return msgType.Implements(t.Type)
	case TargetBase:
		return embedsBase(msgType, t.Type)
	default:
		return false
	}
}

// embedsBase reports whether msgType is a struct (or pointer to struct) with
// an anonymous field of the base type, searched through promoted embeddings.
func embedsBase(msgType, base reflect.Type) bool {
	if base == nil {
		return false
	}
	t := msgType
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.Anonymous {
			continue
		}
		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft == base {
			return true
		}
		if ft.Kind() == reflect.Struct && embedsBase(ft, base) {
			return true
		}
	}
	return false
}

// HandlerKind separates request/response handlers from notification handlers.
type HandlerKind int

const (
	// KindRequest handlers serve Send: exactly one per message type.
	KindRequest HandlerKind = iota
	// KindNotification handlers serve Publish: any number may match.
	KindNotification
)

func (k HandlerKind) String() string {
	if k == KindNotification {
		return "notification"
	}
	return "request"
}

// MiddlewareRef is a handler's explicit reference to an ExplicitOnly
// middleware. A non-nil Order overrides the middleware's global numeric order
// for this pipeline only.
type MiddlewareRef struct {
	Name  string
	Order *int
}

// HandlerDescriptor describes one registered handler. Descriptors are built
// by the host at startup and immutable afterwards.
type HandlerDescriptor struct {
	Name     string
	Kind     HandlerKind
	Target   Target
	Lifetime Lifetime

	Order       int
	OrderBefore []string
	OrderAfter  []string

	// Factory constructs the Default-lifetime instance; its dependencies are
	// resolved once, at construction. The produced value must implement
	// Handler. Other lifetimes resolve through the ScopeResolver instead.
	Factory func() (any, error)

	// Use references ExplicitOnly middleware for this handler's pipeline.
	Use []MiddlewareRef
}

// MiddlewareDescriptor describes one registered middleware.
type MiddlewareDescriptor struct {
	Name     string
	Target   Target
	Lifetime Lifetime

	Order       int
	OrderBefore []string
	OrderAfter  []string

	// ExplicitOnly middleware is excluded from automatic type matching and
	// joins a pipeline only through a handler's Use reference.
	ExplicitOnly bool

	// Factory constructs the Default-lifetime instance. The produced value
	// implements any subset of the stage hook capabilities.
	Factory func() (any, error)
}

// typeName renders a message type identity for diagnostics and metadata.
func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
