package dispatch

import (
	"context"
	"errors"
	"testing"
)

// retryingMiddleware re-runs inner stages until they succeed or the attempt
// budget is spent.
type retryingMiddleware struct {
	maxAttempts int
	intercepts  int
}

func (m *retryingMiddleware) Intercept(ctx context.Context, msg any, attempt int, err error) bool {
	m.intercepts++
	return attempt < m.maxAttempts
}

// cachingMiddleware preempts inner execution on a hit and stores successful
// outcomes in After.
type cachingMiddleware struct {
	store    map[string]Outcome
	preempts int
}

func (m *cachingMiddleware) key(msg any) string {
	order, ok := msg.(createOrder)
	if !ok {
		return ""
	}
	return order.ID
}

func (m *cachingMiddleware) Preempt(ctx context.Context, msg any) (Outcome, bool, error) {
	m.preempts++
	out, hit := m.store[m.key(msg)]
	return out, hit, nil
}

func (m *cachingMiddleware) After(ctx context.Context, msg any, out *Outcome) error {
	m.store[m.key(msg)] = *out
	return nil
}

func TestInterceptorRetriesInnerStages(t *testing.T) {
	attempts := 0
	handler := &HandlerDescriptor{
		Name:   "flaky",
		Kind:   KindRequest,
		Target: ExactType(createOrder{}),
		Factory: StaticFactory(HandlerFunc(func(ctx context.Context, msg any) (Outcome, error) {
			attempts++
			if attempts < 3 {
				return Outcome{}, errors.New("transient")
			}
			return Outcome{Value: "recovered"}, nil
		})),
	}
	retry := &retryingMiddleware{maxAttempts: 5}
	reg := mustRegistry(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{{
			Name:    "retry",
			Target:  AnyMessage(),
			Factory: StaticFactory(retry),
		}},
	)
	d := mustDispatcher(t, Options{Registry: reg})

	value, err := d.Send(context.Background(), createOrder{ID: "1"})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if value != "recovered" {
		t.Fatalf("expected recovered value, got %v", value)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 handler attempts, got %d", attempts)
	}
	if retry.intercepts != 2 {
		t.Fatalf("expected 2 intercepts, got %d", retry.intercepts)
	}
}

func TestInterceptorBudgetExhaustedPropagatesFault(t *testing.T) {
	attempts := 0
	handler := &HandlerDescriptor{
		Name:   "broken",
		Kind:   KindRequest,
		Target: ExactType(createOrder{}),
		Factory: StaticFactory(HandlerFunc(func(ctx context.Context, msg any) (Outcome, error) {
			attempts++
			return Outcome{}, errors.New("permanent")
		})),
	}
	retry := &retryingMiddleware{maxAttempts: 3}
	reg := mustRegistry(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{{
			Name:    "retry",
			Target:  AnyMessage(),
			Factory: StaticFactory(retry),
		}},
	)
	d := mustDispatcher(t, Options{Registry: reg})

	if _, err := d.Send(context.Background(), createOrder{ID: "1"}); err == nil {
		t.Fatal("expected fault after exhausted attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 handler attempts, got %d", attempts)
	}
}

func TestPreemptorShortCircuitsInnerStages(t *testing.T) {
	handlerRuns := 0
	handler := &HandlerDescriptor{
		Name:   "priced",
		Kind:   KindRequest,
		Target: ExactType(createOrder{}),
		Factory: StaticFactory(HandlerFunc(func(ctx context.Context, msg any) (Outcome, error) {
			handlerRuns++
			return Outcome{Value: "computed"}, nil
		})),
	}
	cache := &cachingMiddleware{store: map[string]Outcome{}}
	reg := mustRegistry(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{{
			Name:    "cache",
			Target:  AnyMessage(),
			Factory: StaticFactory(cache),
		}},
	)
	d := mustDispatcher(t, Options{Registry: reg})

	first, err := d.Send(context.Background(), createOrder{ID: "1"})
	if err != nil || first != "computed" {
		t.Fatalf("first Send = %v, %v", first, err)
	}
	second, err := d.Send(context.Background(), createOrder{ID: "1"})
	if err != nil || second != "computed" {
		t.Fatalf("second Send = %v, %v", second, err)
	}

	if handlerRuns != 1 {
		t.Fatalf("expected handler to run once, got %d", handlerRuns)
	}
	if cache.preempts != 2 {
		t.Fatalf("expected preempt consulted on both dispatches, got %d", cache.preempts)
	}

	// A different key misses and reaches the handler.
	if _, err := d.Send(context.Background(), createOrder{ID: "2"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if handlerRuns != 2 {
		t.Fatalf("expected miss to reach the handler, got %d runs", handlerRuns)
	}
}

func TestMiddlewarePanicBecomesAttributedFault(t *testing.T) {
	handler := requestDescriptor("h", createOrder{})
	reg := mustRegistry(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{{
			Name:   "panicky",
			Target: AnyMessage(),
			Factory: StaticFactory(&panickyBefore{}),
		}},
	)
	d := mustDispatcher(t, Options{Registry: reg})

	_, err := d.Send(context.Background(), createOrder{ID: "1"})
	if err == nil {
		t.Fatal("expected fault from panicking Before stage")
	}
}

type panickyBefore struct{}

func (*panickyBefore) Before(ctx context.Context, msg any) (context.Context, error) {
	panic("bad state")
}
