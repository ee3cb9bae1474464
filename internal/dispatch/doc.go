// Package dispatch implements the mediator core: a deterministic
// middleware-ordering engine, pipeline assembly and caching, handler instance
// lifetimes, and the Send/Publish execution model with its notification
// fan-out strategies.
//
// The package is internal; the root mediator package re-exports the public
// surface. Handlers and middleware are described by plain data descriptors
// built by the host application at startup and treated as immutable here.
// Descriptor construction (discovery, DI wiring, route generation) is
// deliberately out of scope.
package dispatch
