package bus

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupeCache remembers recently seen message IDs so a redelivered inbound
// message is handled once. Bounded by size and TTL.
type DedupeCache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewDedupeCache creates a cache holding at most maxSize keys for ttl each.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &DedupeCache{seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// IsDuplicate returns true if key was already seen within the TTL window.
// If not a duplicate, records the key for future checks.
func (d *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(key) {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}

// Len returns the number of remembered keys.
func (d *DedupeCache) Len() int {
	return d.seen.Len()
}
