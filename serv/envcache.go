package serv

import (
	"context"
	"strings"
	"time"

	cache "github.com/go-pkgz/expirable-cache"

	"github.com/sqlops/sqlconsole/core"
)

const envCacheSize = 1000

// cachedResolver remembers resolved environment labels for a fixed TTL.
// Lookups that fail or find nothing are not cached so that a server added
// to the inventory is picked up on the next request.
type cachedResolver struct {
	next core.EnvironmentResolver
	ttl  time.Duration
	c    cache.Cache
}

func newCachedResolver(next core.EnvironmentResolver, ttl time.Duration) (*cachedResolver, error) {
	c, err := cache.NewCache(cache.MaxKeys(envCacheSize), cache.TTL(ttl))
	if err != nil {
		return nil, err
	}
	return &cachedResolver{next: next, ttl: ttl, c: c}, nil
}

func (r *cachedResolver) Resolve(ctx context.Context, server string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(server))

	if v, ok := r.c.Get(key); ok {
		return v.(string), nil
	}

	label, err := r.next.Resolve(ctx, server)
	if err != nil {
		return "", err
	}
	r.c.Set(key, label, r.ttl)
	return label, nil
}
