package permcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

type keySet struct {
	keys      map[string]struct{}
	expiresAt time.Time
}

// MemoryCache is a process-local Cache backed by an expirable LRU.
// Entries carry their own absolute expiry checked against an injectable
// clock; the LRU TTL only bounds memory for entries nobody reads again.
type MemoryCache struct {
	config  Config
	entries *lru.LRU[string, entry]
	now     func() time.Time

	// mu guards keySets and orders Set against InvalidateUser
	mu      sync.Mutex
	keySets map[int64]*keySet

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates an in-memory cache using the wall clock
func NewMemoryCache(config Config) *MemoryCache {
	return NewMemoryCacheWithClock(config, time.Now)
}

// NewMemoryCacheWithClock creates an in-memory cache that reads time from now
func NewMemoryCacheWithClock(config Config, now func() time.Time) *MemoryCache {
	config = config.withDefaults()
	if now == nil {
		now = time.Now
	}

	c := &MemoryCache{
		config: config,
		// No eviction callback: it would run under the LRU lock and
		// contend with mu held by Set.
		entries: lru.NewLRU[string, entry](config.MaxEntries, nil, config.TTL),
		now:     now,
		keySets: make(map[int64]*keySet),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.sweepLoop(config.TTL)
	return c
}

// Get retrieves a cached value
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	e, ok := c.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

// Set stores a value and records its key for the user
func (c *MemoryCache) Set(ctx context.Context, userID int64, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiresAt := now.Add(c.config.TTL)

	c.entries.Add(key, entry{value: value, expiresAt: expiresAt})

	ks, ok := c.keySets[userID]
	if !ok || !now.Before(ks.expiresAt) {
		ks = &keySet{keys: make(map[string]struct{})}
		c.keySets[userID] = ks
	}
	ks.keys[key] = struct{}{}
	ks.expiresAt = expiresAt

	return nil
}

// InvalidateUser removes every cached entry issued for the user
func (c *MemoryCache) InvalidateUser(ctx context.Context, userID int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks, ok := c.keySets[userID]
	if !ok {
		return 0, nil
	}

	removed := 0
	for key := range ks.keys {
		if c.entries.Remove(key) {
			removed++
		}
	}
	delete(c.keySets, userID)

	return removed, nil
}

// Len returns the number of entries held, expired or not
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// trackedUsers returns the number of live key sets
func (c *MemoryCache) trackedUsers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keySets)
}

// sweepExpired drops key sets whose entries have all expired
func (c *MemoryCache) sweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	swept := 0
	for userID, ks := range c.keySets {
		if !now.Before(ks.expiresAt) {
			delete(c.keySets, userID)
			swept++
		}
	}
	return swept
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper and drops all entries
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.mu.Lock()
		c.keySets = make(map[int64]*keySet)
		c.mu.Unlock()
		c.entries.Purge()
	})
	return nil
}
