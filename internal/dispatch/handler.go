package dispatch

import (
	"context"
	"fmt"
)

// NewRequestHandler adapts a typed request/response function to the Handler
// interface. The dispatcher guarantees msg is of the registered type, so the
// assertion only fails on registration mistakes.
func NewRequestHandler[T any, R any](fn func(ctx context.Context, msg T) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, msg any) (Outcome, error) {
		typed, ok := msg.(T)
		if !ok {
			return Outcome{}, fmt.Errorf("mediator: handler expected %T, got %T", *new(T), msg)
		}
		value, err := fn(ctx, typed)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Value: value}, nil
	})
}

// NewCascadingHandler adapts a typed function that returns a value plus
// cascading messages. Cascades are published after the primary pipeline
// completes successfully.
func NewCascadingHandler[T any, R any](fn func(ctx context.Context, msg T) (R, []any, error)) Handler {
	return HandlerFunc(func(ctx context.Context, msg any) (Outcome, error) {
		typed, ok := msg.(T)
		if !ok {
			return Outcome{}, fmt.Errorf("mediator: handler expected %T, got %T", *new(T), msg)
		}
		value, cascades, err := fn(ctx, typed)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Value: value, Cascades: cascades}, nil
	})
}

// NewNotificationHandler adapts a typed void function for Publish handlers.
func NewNotificationHandler[T any](fn func(ctx context.Context, msg T) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg any) (Outcome, error) {
		typed, ok := msg.(T)
		if !ok {
			return Outcome{}, fmt.Errorf("mediator: handler expected %T, got %T", *new(T), msg)
		}
		return Outcome{}, fn(ctx, typed)
	})
}

// StaticFactory wraps an already constructed instance as a descriptor factory.
func StaticFactory(instance any) func() (any, error) {
	return func() (any, error) { return instance, nil }
}
