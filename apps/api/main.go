package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	sessionscache "github.com/agencyhub/agencyhub/domains/sessions/be/cache"
	sessionshandler "github.com/agencyhub/agencyhub/domains/sessions/be/handler"
	sessionsrepo "github.com/agencyhub/agencyhub/domains/sessions/be/repo"
	sessionsservice "github.com/agencyhub/agencyhub/domains/sessions/be/service"
	tenantshandler "github.com/agencyhub/agencyhub/domains/tenants/be/handler"
	tenantsprov "github.com/agencyhub/agencyhub/domains/tenants/be/provisioning"
	tenantsrepo "github.com/agencyhub/agencyhub/domains/tenants/be/repo"
	tenantsservice "github.com/agencyhub/agencyhub/domains/tenants/be/service"
	platformlogging "github.com/agencyhub/agencyhub/platform/go/logging"
	platformmiddleware "github.com/agencyhub/agencyhub/platform/go/middleware"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
	"github.com/agencyhub/agencyhub/platform/go/schema"
	tenantmiddleware "github.com/agencyhub/agencyhub/platform/go/tenant/middleware"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	AdminDatabaseURL string `env:"ADMIN_DATABASE_URL,required"`

	ClusterHost          string        `env:"CLUSTER_HOST,required"`
	ClusterPort          int           `env:"CLUSTER_PORT" envDefault:"5432"`
	ClusterUser          string        `env:"CLUSTER_USER,required"`
	ClusterPassword      string        `env:"CLUSTER_PASSWORD,required"`
	ClusterSSLMode       string        `env:"CLUSTER_SSLMODE" envDefault:"prefer"`
	ClusterMaintenanceDB string        `env:"CLUSTER_MAINTENANCE_DB" envDefault:"postgres"`
	ClusterStmtTimeout   time.Duration `env:"CLUSTER_STMT_TIMEOUT" envDefault:"30s"`

	TenantMaxConns       int32         `env:"TENANT_MAX_CONNS" envDefault:"8"`
	TenantAcquireTimeout time.Duration `env:"TENANT_ACQUIRE_TIMEOUT" envDefault:"5s"`

	ReactiveRepair bool `env:"REACTIVE_SCHEMA_REPAIR" envDefault:"false"`

	RedisURL string `env:"REDIS_URL"` // empty falls back to the in-process cache
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	adminPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.AdminDatabaseURL})
	if err != nil {
		logger.Fatal("init admin postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(adminPool)

	cluster := persistence.NewCluster(persistence.ClusterConfig{
		Host:          cfg.ClusterHost,
		Port:          cfg.ClusterPort,
		User:          cfg.ClusterUser,
		Password:      cfg.ClusterPassword,
		SSLMode:       cfg.ClusterSSLMode,
		MaintenanceDB: cfg.ClusterMaintenanceDB,
		StmtTimeout:   cfg.ClusterStmtTimeout,
	})

	registry := persistence.NewRegistry(persistence.RegistryConfig{
		Cluster:        cluster.Config(),
		MaxConns:       cfg.TenantMaxConns,
		AcquireTimeout: cfg.TenantAcquireTimeout,
		Logger:         logger,
	})
	defer registry.Close()

	engine := schema.NewEngine(schema.Config{
		Logger:         logger,
		ReactiveRepair: cfg.ReactiveRepair,
	})

	tenantRepo, err := tenantsrepo.NewPostgresRepository(ctx, adminPool)
	if err != nil {
		logger.Fatal("init tenant registry repository", zap.Error(err))
	}

	dbOps := tenantsprov.NewDBOps(cluster, engine)
	orchestrator := tenantsprov.New(cluster, dbOps, tenantRepo, registry, logger)
	manager := tenantsprov.NewManager(registry, engine, logger)
	tenantService := tenantsservice.New(tenantRepo, orchestrator, manager)
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	var sessionCache sessionsservice.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("parse redis url", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close() // nolint:errcheck
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("ping redis", zap.Error(err))
		}
		sessionCache = sessionscache.NewRedisCache(redisClient)
	} else {
		logger.Warn("REDIS_URL not set, using in-process session cache")
		sessionCache = sessionscache.NewMemoryCache()
	}

	sessionRepo := sessionsrepo.NewPostgresRepository(registry)
	sessionService := sessionsservice.New(sessionRepo, sessionCache, nil, logger)
	sessionHTTPHandler := sessionshandler.New(sessionService, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := adminPool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()

	apiRouter.Route("/admin", func(r chi.Router) {
		tenantHTTPHandler.Routes(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(tenantmiddleware.WithTenantSpace(tenantService, tenantmiddleware.Config{
			CacheTTL: time.Minute,
		}))
		sessionHTTPHandler.Routes(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
