package vault

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedEntry holds a fetched token with its fetch timestamp.
type cachedEntry struct {
	token    *ContextToken
	cachedAt time.Time
}

// TokenCache is an LRU cache for Vault context tokens. Tokens are read-mostly
// within a session; caching avoids refetching the same character or location
// record for every shot. Thread-safe, hashicorp/golang-lru under the hood.
type TokenCache struct {
	cache *lru.Cache[string, *cachedEntry]
	ttl   time.Duration
	mu    sync.RWMutex

	// Metrics
	hits   uint64
	misses uint64
}

// NewTokenCache creates a token cache.
func NewTokenCache(maxSize int, ttl time.Duration) (*TokenCache, error) {
	if maxSize <= 0 {
		maxSize = 256
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	cache, err := lru.New[string, *cachedEntry](maxSize)
	if err != nil {
		return nil, fmt.Errorf("vault: create token cache: %w", err)
	}

	return &TokenCache{
		cache: cache,
		ttl:   ttl,
	}, nil
}

func cacheKey(tokenType, tokenName string) string {
	return tokenType + "/" + tokenName
}

// Get retrieves a token from cache.
// Returns nil, false if not found, TTL expired, or cache is nil.
func (c *TokenCache) Get(tokenType, tokenName string) (*ContextToken, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}

	key := cacheKey(tokenType, tokenName)

	c.mu.RLock()
	entry, ok := c.cache.Get(key)
	c.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	if time.Since(entry.cachedAt) > c.ttl {
		// TTL expired - re-check under write lock to avoid evicting a
		// fresh entry another goroutine Put() between RUnlock and Lock.
		c.mu.Lock()
		current, stillExists := c.cache.Get(key)
		if stillExists && time.Since(current.cachedAt) > c.ttl {
			c.cache.Remove(key)
		}
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return entry.token, true
}

// Put stores a token in the cache.
func (c *TokenCache) Put(tokenType, tokenName string, token *ContextToken) {
	if c == nil || c.cache == nil || token == nil {
		return
	}

	c.mu.Lock()
	c.cache.Add(cacheKey(tokenType, tokenName), &cachedEntry{
		token:    token,
		cachedAt: time.Now(),
	})
	c.mu.Unlock()
}

// Invalidate drops one token from the cache.
func (c *TokenCache) Invalidate(tokenType, tokenName string) {
	if c == nil || c.cache == nil {
		return
	}
	c.mu.Lock()
	c.cache.Remove(cacheKey(tokenType, tokenName))
	c.mu.Unlock()
}

// Stats returns hit/miss counters.
func (c *TokenCache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}
