package dispatch

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// JourneyCache remembers which journey belongs to a session. It is only a
// shortcut: a miss or a stale entry is always resolved against the store.
type JourneyCache interface {
	Get(sessionID string) (journeyID string, ok bool)
	Add(sessionID, journeyID string)
	Remove(sessionID string)
}

// DefaultCacheSize bounds the cache when no size is configured.
const DefaultCacheSize = 1024

// LRUCache is a size-bounded, goroutine-safe JourneyCache.
type LRUCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &LRUCache{cache: lru.New(size)}
}

func (c *LRUCache) Get(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(sessionID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func (c *LRUCache) Add(sessionID, journeyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(sessionID, journeyID)
}

func (c *LRUCache) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(sessionID)
}

// Len returns the number of cached sessions.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

type noCache struct{}

func (noCache) Get(string) (string, bool) { return "", false }
func (noCache) Add(string, string)        {}
func (noCache) Remove(string)             {}
