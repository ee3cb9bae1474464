package dispatch

import (
	"context"
	"time"

	"github.com/drblury/mediator/internal/dispatch/logging"
	"github.com/drblury/mediator/internal/dispatch/metadata"
)

// DispatchContext provides information about one dispatch to hooks.
type DispatchContext struct {
	// HandlerName is the name of the handler serving the dispatch.
	HandlerName string
	// MessageType is the rendered type identity of the message.
	MessageType string
	// DispatchID is the unique identifier assigned to this dispatch.
	DispatchID string
	// Metadata carries the dispatch metadata at start time.
	Metadata metadata.Metadata
	// Context is the context the dispatch runs under.
	Context context.Context
	// StartedAt is when the dispatch entered the pipeline.
	StartedAt time.Time
	// Duration is how long the dispatch took (only set in OnDispatchDone and
	// OnDispatchError).
	Duration time.Duration
}

// DispatchHooks defines callbacks for dispatch lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type DispatchHooks struct {
	// OnDispatchStart is called after the handler and pipeline are resolved,
	// before the outermost Before stage runs.
	OnDispatchStart func(ctx DispatchContext)

	// OnDispatchDone is called when the dispatch completes successfully.
	// Duration will be set to how long the dispatch took.
	OnDispatchDone func(ctx DispatchContext)

	// OnDispatchError is called when the dispatch faults. Duration will be
	// set to how long the dispatch took before failing.
	OnDispatchError func(ctx DispatchContext, err error)
}

// Merge combines two DispatchHooks, creating a new DispatchHooks that calls
// both. The hooks from 'other' are called after the hooks from 'h'.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chainStartHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainDoneHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
	}
}

func chainStartHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainDoneHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log dispatch lifecycle events.
func LoggingHooks(logger logging.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			logger.Debug("Dispatch started", logging.LogFields{
				"handler":      ctx.HandlerName,
				"message_type": ctx.MessageType,
				"dispatch_id":  ctx.DispatchID,
			})
		},
		OnDispatchDone: func(ctx DispatchContext) {
			logger.Info("Dispatch completed", logging.LogFields{
				"handler":      ctx.HandlerName,
				"message_type": ctx.MessageType,
				"dispatch_id":  ctx.DispatchID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			logger.Error("Dispatch failed", err, logging.LogFields{
				"handler":      ctx.HandlerName,
				"message_type": ctx.MessageType,
				"dispatch_id":  ctx.DispatchID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on dispatch
// faults.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatchError: alertFunc,
	}
}
