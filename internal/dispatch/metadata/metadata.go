// Package metadata carries the string headers attached to a dispatch. The
// dispatcher threads metadata through context so middleware and cascades see
// one consistent view.
package metadata

import "context"

// Metadata represents the headers carried alongside a dispatched message.
type Metadata map[string]string

// Standard keys used by the built-in middleware and transport bridges.
const (
	KeyCorrelationID = "mediator_correlation_id"
	KeyDispatchID    = "mediator_dispatch_id"
	KeyMessageType   = "mediator_message_type"
	KeyHandlerName   = "mediator_handler"
	KeySourceTopic   = "mediator_source_topic"
)

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Get returns the value for key, or the empty string. Safe on nil maps.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

type contextKey struct{}

// NewContext returns a context carrying the supplied metadata.
func NewContext(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, contextKey{}, md)
}

// FromContext extracts the dispatch metadata from ctx. The second return
// value reports whether metadata was present.
func FromContext(ctx context.Context) (Metadata, bool) {
	md, ok := ctx.Value(contextKey{}).(Metadata)
	return md, ok
}
