package credential

import (
	"context"
	"sync"

	id "communique/pkg/domain"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// InMemoryCache is a mutex-guarded credential cache for single-process
// deployments and tests. Production uses the Redis cache.
type InMemoryCache struct {
	mu    sync.RWMutex
	creds map[id.Pseudonym]SessionCredential
}

func NewMemory() *InMemoryCache {
	return &InMemoryCache{
		creds: make(map[id.Pseudonym]SessionCredential),
	}
}

func (c *InMemoryCache) Put(_ context.Context, cred SessionCredential) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[cred.Pseudonym] = cred
	return nil
}

func (c *InMemoryCache) Get(ctx context.Context, pseudonym id.Pseudonym) (SessionCredential, error) {
	c.mu.RLock()
	cred, ok := c.creds[pseudonym]
	c.mu.RUnlock()
	if !ok {
		return SessionCredential{}, sentinel.ErrNotFound
	}
	if cred.Expired(requestcontext.Now(ctx)) {
		// Lazy expiry: drop the entry so the map does not grow unbounded.
		c.mu.Lock()
		if current, still := c.creds[pseudonym]; still && current.ExpiresAt.Equal(cred.ExpiresAt) {
			delete(c.creds, pseudonym)
		}
		c.mu.Unlock()
		return SessionCredential{}, sentinel.ErrNotFound
	}
	return cred, nil
}

func (c *InMemoryCache) Invalidate(_ context.Context, pseudonym id.Pseudonym) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, pseudonym)
	return nil
}
