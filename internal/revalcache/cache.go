// Package revalcache is an advisory two-tier cache for idempotent read requests.
//
// Entries expire by wall-clock age since insertion. The memory tier is consulted first;
// a disk hit repopulates memory. Disk failures never surface to callers: they are logged
// and reported as a miss, so callers always fall back to the network.
package revalcache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

const (
	tierMemory = "memory"
	tierDisk   = "disk"
)

// Option configures optional behaviour for the Cache.
type Option func(*Cache)

// WithLogger overrides the logger used to report disk tier failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithDisk attaches a persistent tier.
func WithDisk(disk *DiskStore) Option {
	return func(c *Cache) {
		c.disk = disk
	}
}

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache implements the memory tier and fronts an optional DiskStore.
type Cache struct {
	mu     sync.RWMutex
	mem    map[string]record
	disk   *DiskStore
	now    func() time.Time
	logger *log.Logger
}

// New constructs an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		mem:    make(map[string]record),
		now:    time.Now,
		logger: log.New(log.Writer(), "[revalcache] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached body for key when a live entry exists in either tier.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.now()

	c.mu.RLock()
	rec, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		if !rec.expired(now) {
			recordLookup(tierMemory, true)
			return clone(rec.Body), true
		}
		c.mu.Lock()
		if cur, still := c.mem[key]; still && cur.StoredAt.Equal(rec.StoredAt) {
			delete(c.mem, key)
		}
		c.mu.Unlock()
	}
	recordLookup(tierMemory, false)

	if c.disk == nil {
		return nil, false
	}
	rec, ok, err := c.disk.load(ctx, key)
	switch {
	case errors.Is(err, errCorruptRecord):
		c.logger.Printf("dropping undecodable disk entry (key=%s): %v", key, err)
		if delErr := c.disk.delete(ctx, key); delErr != nil {
			c.logger.Printf("delete corrupt entry failed (key=%s): %v", key, delErr)
		}
		recordLookup(tierDisk, false)
		return nil, false
	case err != nil:
		c.logger.Printf("disk lookup failed (key=%s): %v", key, err)
		recordLookup(tierDisk, false)
		return nil, false
	case !ok:
		recordLookup(tierDisk, false)
		return nil, false
	}
	if rec.expired(now) {
		if delErr := c.disk.delete(ctx, key); delErr != nil {
			c.logger.Printf("delete expired entry failed (key=%s): %v", key, delErr)
		}
		recordLookup(tierDisk, false)
		return nil, false
	}

	c.mu.Lock()
	c.mem[key] = rec
	c.mu.Unlock()
	recordLookup(tierDisk, true)
	return clone(rec.Body), true
}

// Put stores body under key for ttl. A non-positive ttl is ignored.
func (c *Cache) Put(ctx context.Context, key string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	rec := record{Body: clone(body), StoredAt: c.now(), TTL: ttl.Milliseconds()}

	c.mu.Lock()
	c.mem[key] = rec
	c.mu.Unlock()

	if c.disk != nil {
		if err := c.disk.store(ctx, key, rec); err != nil {
			c.logger.Printf("disk store failed (key=%s): %v", key, err)
		}
	}
}

// Invalidate removes key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()

	if c.disk != nil {
		if err := c.disk.delete(ctx, key); err != nil {
			c.logger.Printf("disk invalidate failed (key=%s): %v", key, err)
		}
	}
}

// InvalidateAll empties both tiers. The memory tier is always cleared; a disk failure is returned.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	c.mem = make(map[string]record)
	c.mu.Unlock()

	if c.disk == nil {
		return nil
	}
	return c.disk.deleteAll(ctx)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
