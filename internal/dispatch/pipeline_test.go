package dispatch

import (
	"reflect"
	"testing"

	loggingpkg "github.com/drblury/mediator/internal/dispatch/logging"
)

func middlewareFactory() (any, error) { return struct{}{}, nil }

func mwDescriptor(name string, target Target, order int) *MiddlewareDescriptor {
	return &MiddlewareDescriptor{
		Name:    name,
		Target:  target,
		Order:   order,
		Factory: middlewareFactory,
	}
}

func middlewareNames(pipe *PipelineInstance) []string {
	out := make([]string, len(pipe.Middleware))
	for i, mw := range pipe.Middleware {
		out[i] = mw.Name
	}
	return out
}

func newTestAssembler(t *testing.T, handlers []*HandlerDescriptor, middlewares []*MiddlewareDescriptor) (*PipelineAssembler, *Registry) {
	t.Helper()
	reg, err := NewRegistry(handlers, middlewares)
	if err != nil {
		t.Fatalf("registry build failed: %v", err)
	}
	return NewPipelineAssembler(reg, loggingpkg.NewNopLogger()), reg
}

func TestPipelineSpecificityTiebreak(t *testing.T) {
	// All at equal numeric order: exact orders before interface, before the
	// any sentinel, regardless of registration order.
	handler := requestDescriptor("h", auditedEvent{})
	asm, _ := newTestAssembler(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{
			mwDescriptor("global", AnyMessage(), 10),
			mwDescriptor("capability", InterfaceOf[auditable](), 10),
			mwDescriptor("precise", ExactType(auditedEvent{}), 10),
		},
	)

	pipe := asm.Pipeline(reflect.TypeOf(auditedEvent{}), handler)
	want := []string{"precise", "capability", "global"}
	if got := middlewareNames(pipe); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPipelineNumericOrderBeatsSpecificity(t *testing.T) {
	handler := requestDescriptor("h", auditedEvent{})
	asm, _ := newTestAssembler(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{
			mwDescriptor("global", AnyMessage(), 1),
			mwDescriptor("precise", ExactType(auditedEvent{}), 50),
		},
	)

	pipe := asm.Pipeline(reflect.TypeOf(auditedEvent{}), handler)
	want := []string{"global", "precise"}
	if got := middlewareNames(pipe); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPipelineExplicitOnlyRequiresReference(t *testing.T) {
	plain := requestDescriptor("plain", createOrder{})
	opted := requestDescriptor("opted", orderEvent{})
	opted.Use = []MiddlewareRef{{Name: "retry"}}

	retry := mwDescriptor("retry", AnyMessage(), 5)
	retry.ExplicitOnly = true

	asm, _ := newTestAssembler(t,
		[]*HandlerDescriptor{plain, opted},
		[]*MiddlewareDescriptor{retry, mwDescriptor("global", AnyMessage(), 10)},
	)

	withoutRef := asm.Pipeline(reflect.TypeOf(createOrder{}), plain)
	if got := middlewareNames(withoutRef); !reflect.DeepEqual(got, []string{"global"}) {
		t.Fatalf("expected ExplicitOnly excluded, got %v", got)
	}

	withRef := asm.Pipeline(reflect.TypeOf(orderEvent{}), opted)
	if got := middlewareNames(withRef); !reflect.DeepEqual(got, []string{"retry", "global"}) {
		t.Fatalf("expected explicit reference included, got %v", got)
	}
}

func TestPipelineExplicitOrderOverrideIsPerPipeline(t *testing.T) {
	override := 100
	opted := requestDescriptor("opted", createOrder{})
	opted.Use = []MiddlewareRef{{Name: "retry", Order: &override}}

	retry := mwDescriptor("retry", AnyMessage(), 1)
	retry.ExplicitOnly = true

	asm, reg := newTestAssembler(t,
		[]*HandlerDescriptor{opted},
		[]*MiddlewareDescriptor{retry, mwDescriptor("global", AnyMessage(), 10)},
	)

	pipe := asm.Pipeline(reflect.TypeOf(createOrder{}), opted)
	if got := middlewareNames(pipe); !reflect.DeepEqual(got, []string{"global", "retry"}) {
		t.Fatalf("expected override to push retry after global, got %v", got)
	}

	// The shared descriptor is untouched.
	shared, _ := reg.Middleware("retry")
	if shared.Order != 1 {
		t.Fatalf("expected shared descriptor order 1, got %d", shared.Order)
	}
}

func TestPipelineRelativeConstraints(t *testing.T) {
	handler := requestDescriptor("h", createOrder{})
	inner := mwDescriptor("inner", AnyMessage(), 1)
	inner.OrderAfter = []string{"outer"}
	outer := mwDescriptor("outer", AnyMessage(), 50)

	asm, _ := newTestAssembler(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{inner, outer},
	)

	pipe := asm.Pipeline(reflect.TypeOf(createOrder{}), handler)
	if got := middlewareNames(pipe); !reflect.DeepEqual(got, []string{"outer", "inner"}) {
		t.Fatalf("expected constraint to win, got %v", got)
	}
}

func TestPipelineCycleRecovered(t *testing.T) {
	handler := requestDescriptor("h", createOrder{})
	a := mwDescriptor("a", AnyMessage(), 2)
	a.OrderBefore = []string{"b"}
	b := mwDescriptor("b", AnyMessage(), 1)
	b.OrderBefore = []string{"a"}

	asm, _ := newTestAssembler(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{a, b},
	)

	pipe := asm.Pipeline(reflect.TypeOf(createOrder{}), handler)
	if len(pipe.Middleware) != 2 {
		t.Fatalf("expected both middleware retained, got %v", middlewareNames(pipe))
	}
	if len(pipe.Diagnostics) != 1 {
		t.Fatalf("expected 1 cycle diagnostic, got %d", len(pipe.Diagnostics))
	}
	// Cycle members fall back to (numeric order, id).
	if got := middlewareNames(pipe); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("got %v, want [b a]", got)
	}
}

func TestPipelineCachedAndDeterministic(t *testing.T) {
	handler := requestDescriptor("h", createOrder{})
	asm, _ := newTestAssembler(t,
		[]*HandlerDescriptor{handler},
		[]*MiddlewareDescriptor{
			mwDescriptor("m1", AnyMessage(), 10),
			mwDescriptor("m2", AnyMessage(), 10),
		},
	)

	first := asm.Pipeline(reflect.TypeOf(createOrder{}), handler)
	second := asm.Pipeline(reflect.TypeOf(createOrder{}), handler)
	if first != second {
		t.Fatal("expected the cached pipeline instance on repeated access")
	}

	// A fresh assembler over the same descriptor set produces the same order.
	again, _ := newTestAssembler(t,
		[]*HandlerDescriptor{{
			Name: "h", Kind: KindRequest, Target: ExactType(createOrder{}), Factory: noopHandlerFactory,
		}},
		[]*MiddlewareDescriptor{
			mwDescriptor("m1", AnyMessage(), 10),
			mwDescriptor("m2", AnyMessage(), 10),
		},
	)
	rebuilt := again.Pipeline(reflect.TypeOf(createOrder{}), again.registry.Handlers()[0])
	if !reflect.DeepEqual(middlewareNames(first), middlewareNames(rebuilt)) {
		t.Fatalf("expected deterministic assembly, got %v vs %v",
			middlewareNames(first), middlewareNames(rebuilt))
	}
}
