// Package ids generates the time-sortable identifiers attached to dispatches
// and correlation metadata.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewDispatchID returns a time-sortable ULID encoded as a 26-character string.
// IDs produced by a single process are strictly increasing.
func NewDispatchID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCorrelationID returns a fresh correlation identifier. Correlation ids use
// the same ULID scheme as dispatch ids so log lines sort chronologically.
func NewCorrelationID() string {
	return NewDispatchID()
}
