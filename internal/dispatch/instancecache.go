package dispatch

import (
	"sync"

	errspkg "github.com/drblury/mediator/internal/dispatch/errors"
)

// InstanceCache is the get-or-create store backing Default-lifetime handler
// and middleware instances. Entries live for the process lifetime and are
// never evicted.
//
// Concurrent first access may invoke the factory more than once, but exactly
// one resulting instance is retained and handed out afterwards. Cached reads
// take only a read lock.
type InstanceCache struct {
	mu        sync.RWMutex
	instances map[string]any
}

// NewInstanceCache creates an empty cache.
func NewInstanceCache() *InstanceCache {
	return &InstanceCache{instances: make(map[string]any)}
}

// GetOrCreate returns the instance cached under id, constructing it with
// factory on first access. Factory errors are returned and nothing is cached.
func (c *InstanceCache) GetOrCreate(id string, factory func() (any, error)) (any, error) {
	c.mu.RLock()
	instance, ok := c.instances[id]
	c.mu.RUnlock()
	if ok {
		return instance, nil
	}

	if factory == nil {
		return nil, errspkg.ErrFactoryRequired
	}

	// Constructed outside the lock: racing constructions are tolerated, the
	// first stored instance wins and duplicates are discarded.
	created, err := factory()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.instances[id]; ok {
		return existing, nil
	}
	c.instances[id] = created
	return created, nil
}

// Len reports the number of retained instances.
func (c *InstanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instances)
}
