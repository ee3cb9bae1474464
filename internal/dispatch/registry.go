package dispatch

import (
	"fmt"
	"reflect"

	errspkg "github.com/drblury/mediator/internal/dispatch/errors"
)

// Registry holds the full descriptor set produced by the host's discovery
// phase. It is built once at startup, validated, and immutable afterwards.
type Registry struct {
	requestByType    map[reflect.Type]*HandlerDescriptor
	notifications    []*HandlerDescriptor
	middlewares      []*MiddlewareDescriptor
	middlewareByName map[string]*MiddlewareDescriptor
	handlers         []*HandlerDescriptor
	hasNonDefault    bool
}

// NewRegistry validates the descriptor set and builds the lookup indexes.
// More than one request handler for the same exact message type is an
// AmbiguousHandlerError: a configuration error surfaced here, at startup,
// never resolved heuristically at dispatch time.
func NewRegistry(handlers []*HandlerDescriptor, middlewares []*MiddlewareDescriptor) (*Registry, error) {
	r := &Registry{
		requestByType:    make(map[reflect.Type]*HandlerDescriptor),
		middlewareByName: make(map[string]*MiddlewareDescriptor),
	}

	for _, mw := range middlewares {
		if mw.Name == "" {
			return nil, fmt.Errorf("mediator: middleware name is required")
		}
		if _, dup := r.middlewareByName[mw.Name]; dup {
			return nil, fmt.Errorf("mediator: duplicate middleware name %q", mw.Name)
		}
		if mw.Lifetime == LifetimeDefault && mw.Factory == nil {
			return nil, fmt.Errorf("mediator: middleware %q: %w", mw.Name, errspkg.ErrFactoryRequired)
		}
		if mw.Lifetime != LifetimeDefault {
			r.hasNonDefault = true
		}
		r.middlewareByName[mw.Name] = mw
		r.middlewares = append(r.middlewares, mw)
	}

	seen := make(map[string]struct{}, len(handlers))
	for _, h := range handlers {
		if h.Name == "" {
			return nil, errspkg.ErrHandlerNameRequired
		}
		if _, dup := seen[h.Name]; dup {
			return nil, fmt.Errorf("mediator: duplicate handler name %q", h.Name)
		}
		seen[h.Name] = struct{}{}
		if h.Lifetime == LifetimeDefault && h.Factory == nil {
			return nil, fmt.Errorf("mediator: handler %q: %w", h.Name, errspkg.ErrFactoryRequired)
		}
		if h.Lifetime != LifetimeDefault {
			r.hasNonDefault = true
		}
		for _, ref := range h.Use {
			if _, ok := r.middlewareByName[ref.Name]; !ok {
				return nil, fmt.Errorf("mediator: handler %q references unknown middleware %q", h.Name, ref.Name)
			}
		}

		switch h.Kind {
		case KindRequest:
			if h.Target.Kind != TargetExact || h.Target.Type == nil {
				return nil, fmt.Errorf("mediator: request handler %q must target an exact message type", h.Name)
			}
			if existing, dup := r.requestByType[h.Target.Type]; dup {
				return nil, &errspkg.AmbiguousHandlerError{
					MessageType: typeName(h.Target.Type),
					Handlers:    []string{existing.Name, h.Name},
				}
			}
			r.requestByType[h.Target.Type] = h
		case KindNotification:
			if h.Target.Kind != TargetAny && h.Target.Type == nil {
				return nil, fmt.Errorf("mediator: notification handler %q has no target type", h.Name)
			}
			r.notifications = append(r.notifications, h)
		default:
			return nil, fmt.Errorf("mediator: handler %q has unknown kind %d", h.Name, h.Kind)
		}
		r.handlers = append(r.handlers, h)
	}

	return r, nil
}

// RequestHandler returns the single request handler for the exact message
// type, if registered.
func (r *Registry) RequestHandler(msgType reflect.Type) (*HandlerDescriptor, bool) {
	h, ok := r.requestByType[msgType]
	return h, ok
}

// NotificationHandlers returns the notification handlers matching the message
// type by the exact/interface/base/any rule, in registration order. The
// dispatcher orders them afterwards.
func (r *Registry) NotificationHandlers(msgType reflect.Type) []*HandlerDescriptor {
	var matched []*HandlerDescriptor
	for _, h := range r.notifications {
		if h.Target.Matches(msgType) {
			matched = append(matched, h)
		}
	}
	return matched
}

// MatchingMiddleware returns the automatically applied middleware for the
// message type, excluding ExplicitOnly entries, in registration order.
func (r *Registry) MatchingMiddleware(msgType reflect.Type) []*MiddlewareDescriptor {
	var matched []*MiddlewareDescriptor
	for _, mw := range r.middlewares {
		if mw.ExplicitOnly {
			continue
		}
		if mw.Target.Matches(msgType) {
			matched = append(matched, mw)
		}
	}
	return matched
}

// Middleware looks a middleware descriptor up by name.
func (r *Registry) Middleware(name string) (*MiddlewareDescriptor, bool) {
	mw, ok := r.middlewareByName[name]
	return mw, ok
}

// Handlers returns every registered handler descriptor, for introspection.
func (r *Registry) Handlers() []*HandlerDescriptor {
	return r.handlers
}

// HasNonDefaultLifetimes reports whether any descriptor needs a ScopeResolver.
func (r *Registry) HasNonDefaultLifetimes() bool {
	return r.hasNonDefault
}
