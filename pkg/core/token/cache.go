//
//  Copyright © Manetu Inc. All rights reserved.
//

package token

import (
	"context"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/manetu/trackauth/internal/logging"
)

var logger = logging.GetLogger("trackauth.token")

// KeysetCache holds the provider's signing key set for a fixed TTL.
//
// The policy is read-through-with-refresh: a miss or expiry triggers a
// blocking fetch by the requesting goroutine. Concurrent misses may each
// issue redundant fetches; last writer wins on cache population. All
// refreshes fetch the same canonical data and the entry is immutable within
// its TTL, so this is an accepted inefficiency rather than a correctness
// hazard.
type KeysetCache struct {
	fetcher Fetcher
	ttl     time.Duration

	mu     sync.RWMutex
	set    jwk.Set
	expiry time.Time
}

// NewKeysetCache creates a cache that refreshes through the given fetcher.
func NewKeysetCache(fetcher Fetcher, ttl time.Duration) *KeysetCache {
	return &KeysetCache{fetcher: fetcher, ttl: ttl}
}

// Get returns the cached key set, fetching a fresh one if the cache is
// empty or expired.
func (c *KeysetCache) Get(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	if c.set != nil && time.Now().Before(c.expiry) {
		set := c.set
		c.mu.RUnlock()
		logger.Debugf("JWKS cache hit")
		return set, nil
	}
	c.mu.RUnlock()

	logger.Debugf("JWKS cache miss")

	// Fetch outside the lock; concurrent refreshes are tolerated.
	set, err := c.fetcher.FetchKeySet(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.set = set
	c.expiry = time.Now().Add(c.ttl)
	c.mu.Unlock()

	return set, nil
}

// Invalidate drops the cached key set, forcing the next Get to refresh.
func (c *KeysetCache) Invalidate() {
	c.mu.Lock()
	c.set = nil
	c.mu.Unlock()
}
