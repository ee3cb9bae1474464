package dispatch

import (
	"context"
	"errors"
	"fmt"

	errspkg "github.com/drblury/mediator/internal/dispatch/errors"
	"github.com/drblury/mediator/internal/dispatch/logging"
)

// execution runs one pipeline as an onion: each middleware layer wraps the
// layers inside it. Stage sequencing within one execution is strictly
// ordered; a layer is "entered" once its Before stage completed, and every
// entered layer's Finally runs exactly once, innermost first, on both the
// success and the fault path.
type execution struct {
	dispatcher *Dispatcher
	pipeline   *PipelineInstance
	msg        any
}

// layer executes middleware i and everything inside it. i == len(middleware)
// is the terminal handler stage.
func (e *execution) layer(ctx context.Context, i int) (out Outcome, err error) {
	if i == len(e.pipeline.Middleware) {
		return e.handlerStage(ctx)
	}
	mw := e.pipeline.Middleware[i]
	instance, rerr := e.dispatcher.instance(ctx, mw.Name, mw.Lifetime, mw.Factory)
	if rerr != nil {
		return Outcome{}, &errspkg.HandlerFault{
			Handler: e.pipeline.Handler.Name,
			Stage:   "resolve:" + mw.Name,
			Err:     rerr,
		}
	}

	if hook, ok := instance.(BeforeHook); ok {
		if cerr := ctx.Err(); cerr != nil {
			return Outcome{}, &errspkg.CancellationFault{Stage: "before:" + mw.Name, Err: cerr}
		}
		nextCtx, berr := e.runBefore(ctx, mw.Name, hook)
		if berr != nil {
			// Before failed: the layer was never entered, so its Finally
			// must not run.
			return Outcome{}, berr
		}
		if nextCtx != nil {
			ctx = nextCtx
		}
	}

	// The layer is entered from here on. Inner layers' Finally stages run
	// inside the recursive call, so the unwind is innermost first.
	defer func() {
		if hook, ok := instance.(FinallyHook); ok {
			e.runFinally(ctx, mw.Name, hook, err)
		}
	}()

	out, err = e.inner(ctx, i, instance, mw.Name)
	if err != nil {
		return Outcome{}, err
	}

	if hook, ok := instance.(AfterHook); ok {
		if cerr := ctx.Err(); cerr != nil {
			err = &errspkg.CancellationFault{Stage: "after:" + mw.Name, Err: cerr}
			return Outcome{}, err
		}
		if aerr := e.runAfter(ctx, mw.Name, hook, &out); aerr != nil {
			err = aerr
			return Outcome{}, err
		}
	}
	return out, nil
}

// inner runs the stages wrapped by layer i, honoring the instance's preempt
// and intercept capabilities. A preempting layer replaces the inner stages
// with its own outcome; an intercepting layer may re-run them after a fault
// before the fault crosses its boundary.
func (e *execution) inner(ctx context.Context, i int, instance any, name string) (Outcome, error) {
	if pre, ok := instance.(Preemptor); ok {
		out, hit, err := e.runPreempt(ctx, name, pre)
		if err != nil {
			return Outcome{}, err
		}
		if hit {
			return out, nil
		}
	}

	out, err := e.layer(ctx, i+1)
	if interceptor, ok := instance.(Interceptor); ok {
		attempt := 1
		for err != nil {
			if !e.runIntercept(ctx, name, interceptor, attempt, err) {
				break
			}
			attempt++
			out, err = e.layer(ctx, i+1)
		}
	}
	return out, err
}

func (e *execution) handlerStage(ctx context.Context) (Outcome, error) {
	if cerr := ctx.Err(); cerr != nil {
		return Outcome{}, &errspkg.CancellationFault{Stage: "handler", Err: cerr}
	}
	desc := e.pipeline.Handler
	instance, err := e.dispatcher.instance(ctx, desc.Name, desc.Lifetime, desc.Factory)
	if err != nil {
		return Outcome{}, &errspkg.HandlerFault{Handler: desc.Name, Stage: "resolve", Err: err}
	}
	handler, ok := instance.(Handler)
	if !ok {
		return Outcome{}, &errspkg.HandlerFault{
			Handler: desc.Name,
			Stage:   "resolve",
			Err:     fmt.Errorf("instance of type %T does not implement Handler", instance),
		}
	}

	var out Outcome
	err = e.guard("handler", func() error {
		var herr error
		out, herr = handler.Handle(ctx, e.msg)
		return herr
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func (e *execution) runBefore(ctx context.Context, name string, hook BeforeHook) (context.Context, error) {
	var nextCtx context.Context
	err := e.guard("before:"+name, func() error {
		var berr error
		nextCtx, berr = hook.Before(ctx, e.msg)
		return berr
	})
	if err != nil {
		return nil, err
	}
	return nextCtx, nil
}

func (e *execution) runAfter(ctx context.Context, name string, hook AfterHook, out *Outcome) error {
	return e.guard("after:"+name, func() error {
		return hook.After(ctx, e.msg, out)
	})
}

func (e *execution) runPreempt(ctx context.Context, name string, pre Preemptor) (Outcome, bool, error) {
	var (
		out Outcome
		hit bool
	)
	err := e.guard("preempt:"+name, func() error {
		var perr error
		out, hit, perr = pre.Preempt(ctx, e.msg)
		return perr
	})
	if err != nil {
		return Outcome{}, false, err
	}
	return out, hit, nil
}

// runIntercept treats a panicking interceptor as declining, so the original
// fault keeps propagating.
func (e *execution) runIntercept(ctx context.Context, name string, interceptor Interceptor, attempt int, faultErr error) (retry bool) {
	defer func() {
		if r := recover(); r != nil {
			e.dispatcher.logger.Error("Intercept stage panicked", fmt.Errorf("panic: %v", r),
				logging.LogFields{"middleware": name, "handler": e.pipeline.Handler.Name})
			retry = false
		}
	}()
	return interceptor.Intercept(ctx, e.msg, attempt, faultErr)
}

// runFinally never raises: cleanup faults are logged so they cannot mask the
// pipeline's own result.
func (e *execution) runFinally(ctx context.Context, name string, hook FinallyHook, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.dispatcher.logger.Error("Finally stage panicked", fmt.Errorf("panic: %v", r),
				logging.LogFields{"middleware": name, "handler": e.pipeline.Handler.Name})
		}
	}()
	hook.Finally(ctx, e.msg, err)
}

// guard runs one stage, converting a panic or a raw error into a
// HandlerFault attributed to that stage. Faults raised by inner stages pass
// through unchanged so the originating stage stays attributed.
func (e *execution) guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.HandlerFault{
				Handler: e.pipeline.Handler.Name,
				Stage:   stage,
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()
	if ferr := fn(); ferr != nil {
		return e.wrapFault(stage, ferr)
	}
	return nil
}

func (e *execution) wrapFault(stage string, err error) error {
	var handlerFault *errspkg.HandlerFault
	var cancellation *errspkg.CancellationFault
	if errors.As(err, &handlerFault) || errors.As(err, &cancellation) {
		return err
	}
	return &errspkg.HandlerFault{Handler: e.pipeline.Handler.Name, Stage: stage, Err: err}
}
