// Package mediator is an in-process message dispatch runtime. Applications
// register typed request and notification handlers plus middleware once, at
// startup, and the dispatcher routes every message through a deterministic
// pipeline: Send delivers a request to exactly one handler and returns its
// value, Publish fans a notification out to every matching handler.
//
// Middleware wraps handlers onion-style. Each pipeline layer may contribute
// Before, After, and Finally stages, and the built-in retry and cache
// middlewares plug in through the Interceptor and Preemptor capability
// interfaces. Middleware is matched to handlers by message target (exact
// type, interface, base type, or any) and sorted by numeric order refined
// with before/after constraints; when constraints form a cycle the
// conflicting edges are abandoned and the cycle's members are still run,
// appended in numeric order with a diagnostic logged, rather than failing
// the dispatch.
//
// Every dispatch carries metadata (correlation ID, dispatch ID, message
// type, handler name) through context, visible to middleware, cascaded
// messages, and transport bridges. Failures are reported through a small
// error taxonomy: NoHandlerFoundError, AmbiguousHandlerError, HandlerFault
// with stage attribution, AggregateFault for notification fan-out, and
// CancellationFault when the context ends mid-pipeline.
//
// The transport subpackage bridges the dispatcher onto message brokers
// (Kafka, RabbitMQ, NATS/JetStream, HTTP, and in-memory channels via
// Watermill): inbound broker messages are decoded and dispatched with
// ack/nack tied to the dispatch result, and outbound messages carry the
// dispatch metadata as broker headers.
//
// A minimal setup builds descriptors, a Registry, and a Dispatcher:
//
//	handler := &mediator.HandlerDescriptor{
//		Name:    "ping",
//		Kind:    mediator.KindRequest,
//		Target:  mediator.ExactTypeOf[Ping](),
//		Factory: mediator.StaticFactory(mediator.NewRequestHandler(
//			func(ctx context.Context, msg Ping) (string, error) {
//				return "pong", nil
//			},
//		)),
//	}
//	registry, err := mediator.NewRegistry([]*mediator.HandlerDescriptor{handler},
//		mediator.DefaultMiddlewares(logger, cfg))
//	...
//	d, err := mediator.New(mediator.Options{Registry: registry, Config: cfg, Logger: logger})
//	reply, err := d.Send(ctx, Ping{})
package mediator
