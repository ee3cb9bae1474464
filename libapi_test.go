package mediator

import (
	"context"
	"errors"
	"testing"
)

type ping struct{ Seq int }

type audit struct{ Action string }

func newFacadeDispatcher(t *testing.T, handlers []*HandlerDescriptor, middlewares []*MiddlewareDescriptor) *Dispatcher {
	t.Helper()

	registry, err := NewRegistry(handlers, middlewares)
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}

	d, err := New(Options{
		Registry: registry,
		Config:   &Config{},
		Logger:   NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("unexpected dispatcher error: %v", err)
	}
	return d
}

func TestSendThroughFacade(t *testing.T) {
	handler := &HandlerDescriptor{
		Name:   "ping",
		Kind:   KindRequest,
		Target: ExactTypeOf[ping](),
		Factory: StaticFactory(NewRequestHandler(func(ctx context.Context, msg ping) (int, error) {
			return msg.Seq + 1, nil
		})),
	}
	d := newFacadeDispatcher(t, []*HandlerDescriptor{handler}, nil)

	reply, err := d.Send(context.Background(), ping{Seq: 41})
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if reply != 42 {
		t.Fatalf("expected 42, got %v", reply)
	}
}

func TestPublishThroughFacade(t *testing.T) {
	var seen []string
	handler := func(name string) *HandlerDescriptor {
		return &HandlerDescriptor{
			Name:   name,
			Kind:   KindNotification,
			Target: ExactTypeOf[audit](),
			Factory: StaticFactory(NewNotificationHandler(func(ctx context.Context, msg audit) error {
				seen = append(seen, name+":"+msg.Action)
				return nil
			})),
		}
	}
	d := newFacadeDispatcher(t, []*HandlerDescriptor{handler("first"), handler("second")}, nil)

	if err := d.Publish(context.Background(), audit{Action: "login"}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected both notification handlers to run, got %v", seen)
	}
}

func TestNoHandlerFoundExport(t *testing.T) {
	d := newFacadeDispatcher(t, nil, nil)

	_, err := d.Send(context.Background(), ping{})
	var notFound *NoHandlerFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NoHandlerFoundError, got %v", err)
	}
}

func TestValidationErrorExports(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrRegistryRequired) {
		t.Fatalf("expected registry required error, got %v", err)
	}

	d := newFacadeDispatcher(t, nil, nil)
	if _, err := d.Send(context.Background(), nil); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("expected message required error, got %v", err)
	}
}

func TestMetadataExports(t *testing.T) {
	handler := &HandlerDescriptor{
		Name:   "meta",
		Kind:   KindRequest,
		Target: ExactTypeOf[ping](),
		Factory: StaticFactory(NewRequestHandler(func(ctx context.Context, msg ping) (Metadata, error) {
			md, _ := MetadataFromContext(ctx)
			return md, nil
		})),
	}
	d := newFacadeDispatcher(t, []*HandlerDescriptor{handler}, nil)

	reply, err := d.Send(context.Background(), ping{})
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	md, ok := reply.(Metadata)
	if !ok {
		t.Fatalf("expected metadata reply, got %T", reply)
	}
	if md.Get(MetadataDispatchID) == "" {
		t.Fatal("expected a dispatch ID to be stamped")
	}
	if md.Get(MetadataCorrelationID) == "" {
		t.Fatal("expected a correlation ID to be stamped")
	}
	if md.Get(MetadataHandlerName) != "meta" {
		t.Fatalf("expected handler name in metadata, got %q", md.Get(MetadataHandlerName))
	}
}

func TestTargetConstructorExports(t *testing.T) {
	if got := ExactType(ping{}); got != ExactTypeOf[ping]() {
		t.Fatalf("expected matching exact targets, got %v", got)
	}
	if AnyMessage().Kind != TargetAny {
		t.Fatal("expected any-message target kind")
	}
	if InterfaceOf[error]().Kind != TargetInterface {
		t.Fatal("expected interface target kind")
	}
}

func TestIDExports(t *testing.T) {
	if NewDispatchID() == "" || NewCorrelationID() == "" {
		t.Fatal("expected non-empty identifiers")
	}
	if NewDispatchID() == NewDispatchID() {
		t.Fatal("expected unique dispatch IDs")
	}
}
