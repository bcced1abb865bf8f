package admission

import (
	"sync"
	"time"
)

// cooldownCache is the process-local sold-out cooldown. It is advisory only:
// its contents shed load off the store, they never decide an admission. Other
// controller instances in the fleet hold disjoint cooldown state and that is
// fine, the atomic stock check stays authoritative.
type cooldownCache struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func newCooldownCache() *cooldownCache {
	return &cooldownCache{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Active reports whether productID is under an unexpired cooldown. Expired
// entries are removed on read.
func (c *cooldownCache) Active(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := c.until[productID]
	if !ok {
		return false
	}
	if c.now().After(deadline) {
		delete(c.until, productID)
		return false
	}
	return true
}

// Set starts or refreshes a cooldown for productID.
func (c *cooldownCache) Set(productID string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[productID] = c.now().Add(ttl)
}

// Clear drops any cooldown for productID, used after a successful admission
// (stock is evidently back, e.g. after a restock).
func (c *cooldownCache) Clear(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.until, productID)
}
