// Package errors defines the sentinel errors and fault types shared across the
// mediator runtime.
package errors

import (
	"fmt"
	"strings"

	sterrors "errors"
)

var (
	ErrDispatcherRequired   = sterrors.New("mediator: dispatcher is required")
	ErrRegistryRequired     = sterrors.New("mediator: registry is required")
	ErrHandlerRequired      = sterrors.New("mediator: handler function is required")
	ErrHandlerNameRequired  = sterrors.New("mediator: handler name is required")
	ErrMessageRequired      = sterrors.New("mediator: message is required")
	ErrMessageTypeRequired  = sterrors.New("mediator: message type is required")
	ErrFactoryRequired      = sterrors.New("mediator: instance factory is required")
	ErrScopeResolverMissing = sterrors.New("mediator: scope resolver is required for non-default lifetimes")
	ErrConfigRequired       = sterrors.New("mediator: configuration is required")
	ErrLoggerRequired       = sterrors.New("mediator: logger is required")
)

// NoHandlerFoundError is returned by Send when no handler is registered for
// the message's exact type. It is raised before any middleware executes.
type NoHandlerFoundError struct {
	MessageType string
}

func (e *NoHandlerFoundError) Error() string {
	return "mediator: no handler found for message type " + e.MessageType
}

// AmbiguousHandlerError reports more than one handler registered for a
// Send-style message type. It is a configuration error detected when the
// registry is built, never resolved heuristically at runtime.
type AmbiguousHandlerError struct {
	MessageType string
	Handlers    []string
}

func (e *AmbiguousHandlerError) Error() string {
	return fmt.Sprintf("mediator: ambiguous handlers for message type %s: %s",
		e.MessageType, strings.Join(e.Handlers, ", "))
}

// HandlerFault wraps an error raised by a handler or a middleware stage. It
// propagates to the caller after Finally cleanup has run.
type HandlerFault struct {
	Handler string
	Stage   string
	Err     error
}

func (e *HandlerFault) Error() string {
	return fmt.Sprintf("mediator: handler %s failed at stage %s: %v", e.Handler, e.Stage, e.Err)
}

func (e *HandlerFault) Unwrap() error { return e.Err }

// AggregateFault collects the individual handler faults raised by one Publish
// call under the Sequential or ParallelWaitAll strategies.
type AggregateFault struct {
	Faults []error
}

func (e *AggregateFault) Error() string {
	parts := make([]string, len(e.Faults))
	for i, err := range e.Faults {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("mediator: %d notification handler(s) failed: %s",
		len(e.Faults), strings.Join(parts, "; "))
}

func (e *AggregateFault) Unwrap() []error { return e.Faults }

// CancellationFault reports that a stage observed context cancellation before
// it started. Cancellation is cooperative; running stages are never
// force-interrupted.
type CancellationFault struct {
	Stage string
	Err   error
}

func (e *CancellationFault) Error() string {
	return fmt.Sprintf("mediator: dispatch cancelled before stage %s: %v", e.Stage, e.Err)
}

func (e *CancellationFault) Unwrap() error { return e.Err }

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "mediator: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err in a ConfigValidationError, returning nil
// for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
