package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/agencyhub/agencyhub/platform/go/persistence"
	"github.com/agencyhub/agencyhub/platform/go/tenant"
)

// HeaderDatabase selects the tenant database for a request.
const HeaderDatabase = "X-Agency-DB"

// Resolver defines the minimal lookup capability required to populate a Tenant Space.
// Implemented by the tenant registry service.
type Resolver interface {
	ResolveTenantSpace(ctx context.Context, databaseName string) (tenant.Space, error)
}

// Config controls middleware behavior.
type Config struct {
	// Optional small in-memory TTL cache to avoid registry hits; zero disables caching.
	CacheTTL time.Duration
}

// WithTenantSpace resolves the tenant from the X-Agency-DB header and attaches
// tenant.Space to the request context. The header value must pass identifier
// validation before it is allowed anywhere near a connection string.
func WithTenantSpace(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}

	var cache *spaceCache
	if cfg.CacheTTL > 0 {
		cache = newSpaceCache(cfg.CacheTTL)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			databaseName := r.Header.Get(HeaderDatabase)
			if databaseName == "" {
				http.Error(w, "tenant database required", http.StatusUnauthorized)
				return
			}
			if err := persistence.ValidateIdentifier(databaseName); err != nil {
				http.Error(w, "invalid tenant database", http.StatusUnauthorized)
				return
			}

			if cached := cacheGet(cache, databaseName); cached != nil {
				ctx := tenant.WithSpace(r.Context(), *cached)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			space, err := resolver.ResolveTenantSpace(r.Context(), databaseName)
			if err != nil {
				http.Error(w, "tenant not found", http.StatusUnauthorized)
				return
			}

			cachePut(cache, space)

			ctx := tenant.WithSpace(r.Context(), space)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type spaceCache struct {
	ttl   time.Duration
	mu    sync.Mutex
	items map[string]cacheItem
}

type cacheItem struct {
	space     tenant.Space
	expiresAt time.Time
}

func newSpaceCache(ttl time.Duration) *spaceCache {
	return &spaceCache{ttl: ttl, items: make(map[string]cacheItem)}
}

func cacheGet(c *spaceCache, databaseName string) *tenant.Space {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[databaseName]
	if !ok || time.Now().After(item.expiresAt) {
		return nil
	}
	return &item.space
}

func cachePut(c *spaceCache, space tenant.Space) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[space.DatabaseName] = cacheItem{space: space, expiresAt: time.Now().Add(c.ttl)}
}
