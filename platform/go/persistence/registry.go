package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ConnectFunc builds a verified pool for one tenant database. Overridable in tests.
type ConnectFunc func(ctx context.Context, databaseName string) (*pgxpool.Pool, error)

// RegistryConfig configures the process-wide tenant pool registry.
type RegistryConfig struct {
	Cluster        ClusterConfig
	MaxConns       int32         // per-tenant connection ceiling
	AcquireTimeout time.Duration // bounded wait when a tenant's pool is saturated
	Logger         *zap.Logger
	// Connect overrides pool construction; defaults to NewPool against the cluster.
	Connect ConnectFunc
}

// Registry maps tenant database names to pooled connection handles. Pools are
// created lazily on first acquire, construction is coalesced so concurrent
// first-requests for the same name yield exactly one pool, and entries live
// for the process lifetime unless explicitly evicted.
type Registry struct {
	cluster        ClusterConfig
	maxConns       int32
	acquireTimeout time.Duration
	logger         *zap.Logger
	connect        ConnectFunc

	group singleflight.Group

	mu     sync.RWMutex
	pools  map[string]*pgxpool.Pool
	closed bool
}

const (
	defaultMaxConnsPerTenant  = 8
	defaultAcquireTimeout     = 5 * time.Second
	defaultHealthCheckPeriod  = time.Minute
	defaultMaxConnIdlePerPool = 10 * time.Minute
)

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		panic("registry requires logger")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConnsPerTenant
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}

	r := &Registry{
		cluster:        cfg.Cluster,
		maxConns:       cfg.MaxConns,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         cfg.Logger,
		connect:        cfg.Connect,
		pools:          make(map[string]*pgxpool.Pool),
	}
	if r.connect == nil {
		r.connect = r.defaultConnect
	}
	return r
}

func (r *Registry) defaultConnect(ctx context.Context, databaseName string) (*pgxpool.Pool, error) {
	connString, err := r.cluster.ConnString(databaseName)
	if err != nil {
		return nil, errors.Join(ErrTenantConfigInvalid, err)
	}

	pool, err := NewPool(ctx, PoolConfig{
		ConnString:          connString,
		MaxConns:            r.maxConns,
		MaxConnIdleTime:     defaultMaxConnIdlePerPool,
		HealthCheckInterval: defaultHealthCheckPeriod,
	})
	if err != nil {
		return nil, classifyConnError(err)
	}
	return pool, nil
}

// Pool returns the pool for the named tenant database, creating it on first
// use. Construction is coalesced per name, so racing callers share one result.
func (r *Registry) Pool(ctx context.Context, databaseName string) (*pgxpool.Pool, error) {
	if err := ValidateIdentifier(databaseName); err != nil {
		return nil, errors.Join(ErrTenantConfigInvalid, err)
	}

	r.mu.RLock()
	pool, ok := r.pools[databaseName]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, errors.New("pool registry is closed")
	}
	if ok {
		return pool, nil
	}

	v, err, _ := r.group.Do(databaseName, func() (any, error) {
		// Re-check under the flight: an earlier flight may have registered the pool.
		r.mu.RLock()
		existing, ok := r.pools[databaseName]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created, err := r.connect(ctx, databaseName)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			created.Close()
			return nil, errors.New("pool registry is closed")
		}
		r.pools[databaseName] = created
		r.mu.Unlock()

		r.logger.Info("tenant pool created", zap.String("database", databaseName))
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

// Acquire borrows one connection from the tenant's pool. The wait is bounded:
// when every slot under the per-tenant ceiling is busy past the acquire
// timeout the call fails with ErrPoolSaturated.
func (r *Registry) Acquire(ctx context.Context, databaseName string) (*pgxpool.Conn, error) {
	pool, err := r.Pool(ctx, databaseName)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()

	conn, err := pool.Acquire(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancellation is not a tenant fault; pass it through
			// unclassified so it never reads as a retryable tenant error.
			return nil, ctx.Err()
		}
		if waitCtx.Err() != nil {
			return nil, fmt.Errorf("%w: database %s", ErrPoolSaturated, databaseName)
		}
		return nil, classifyConnError(err)
	}
	return conn, nil
}

// Release returns a borrowed connection to its pool. It never closes the pool.
// Safe to call with nil so callers can defer unconditionally.
func (r *Registry) Release(conn *pgxpool.Conn) {
	if conn != nil {
		conn.Release()
	}
}

// Evict removes and closes the named tenant's pool after destructive
// operations such as tenant deletion. pgxpool waits for in-flight borrows to
// drain; later acquires against the closed pool surface an explicit error to
// their callers.
func (r *Registry) Evict(databaseName string) {
	r.mu.Lock()
	pool, ok := r.pools[databaseName]
	if ok {
		delete(r.pools, databaseName)
	}
	r.mu.Unlock()

	if ok {
		pool.Close()
		r.logger.Info("tenant pool evicted", zap.String("database", databaseName))
	}
}

// Close evicts every pool and marks the registry unusable. Called on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*pgxpool.Pool)
	r.closed = true
	r.mu.Unlock()

	for name, pool := range pools {
		pool.Close()
		r.logger.Debug("tenant pool closed", zap.String("database", name))
	}
}

// Len reports the number of live pools; used by health reporting and tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
