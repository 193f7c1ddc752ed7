package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/campushq/permit/pkg/api"
	"github.com/campushq/permit/pkg/cache"
	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/config"
	"github.com/campushq/permit/pkg/evaluator"
	"github.com/campushq/permit/pkg/events"
	"github.com/campushq/permit/pkg/gate"
	"github.com/campushq/permit/pkg/middleware"
	"github.com/campushq/permit/pkg/observability"
	"github.com/campushq/permit/pkg/store"
)

func main() {
	policyFile := flag.String("policy-file", "", "Path to the gate policy YAML file (overrides PERMIT_GATE_POLICY_FILE)")
	flag.Parse()

	boot := setupBootLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.WithError(err).Fatal("Failed to load configuration")
	}
	if *policyFile != "" {
		cfg.Gate.PolicyFile = *policyFile
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx := context.Background()

	// Store: postgres when configured, in-memory otherwise
	var (
		authStore store.Store
		db        *sql.DB
	)
	var notifier events.Notifier

	var redisClient *redis.Client
	var subscriber events.Subscriber
	if cfg.Events.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Events.RedisURL,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
		})
		redisNotifier := events.NewRedisNotifier(redisClient, cfg.Events.Channel, logger, metrics)
		notifier = redisNotifier
		subscriber = redisNotifier
		boot.WithField("addr", cfg.Events.RedisURL).Info("Using redis change notifier")
	} else {
		bus := events.NewBus(logger)
		notifier = bus
		subscriber = bus
		boot.Warn("No redis configured, change events stay in-process")
	}

	if cfg.Store.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			boot.WithError(err).Fatal("Failed to open postgres connection")
		}
		db.SetMaxOpenConns(cfg.Store.PostgresMaxConns)
		if err := store.Migrate(ctx, db); err != nil {
			boot.WithError(err).Fatal("Failed to run migrations")
		}
		authStore = store.NewSQLStore(db, notifier, logger)
		boot.Info("Using postgres authorization store")
	} else {
		authStore = store.NewMemoryStore(notifier, logger)
		boot.Warn("No postgres configured, using in-memory store")
	}

	if cfg.Store.SeedBuiltInRoles {
		if err := store.SeedBuiltInRoles(ctx, authStore); err != nil {
			boot.WithError(err).Fatal("Failed to seed built-in roles")
		}
	}

	// Local cache backed directly by the store, kept current by the
	// subscriber. Remote services use api.Client as the fetcher instead.
	permCache, err := cache.New(storeFetcher{authStore}, cfg.Cache, logger, metrics)
	if err != nil {
		boot.WithError(err).Fatal("Failed to create permission cache")
	}
	if err := subscriber.Subscribe(ctx, permCache.Handler()); err != nil {
		boot.WithError(err).Fatal("Failed to subscribe cache to change events")
	}

	eval := evaluator.New(permCache, logger, metrics)

	table := gate.NewPolicyTable()
	registerAdminPolicy(table)
	stopWatch := make(chan struct{})
	if cfg.Gate.PolicyFile != "" {
		if err := table.LoadFile(cfg.Gate.PolicyFile); err != nil {
			boot.WithError(err).Fatal("Failed to load policy file")
		}
		if err := table.Watch(cfg.Gate.PolicyFile, logger, stopWatch); err != nil {
			boot.WithError(err).Fatal("Failed to watch policy file")
		}
	}
	g := gate.New(table, eval, gate.Config{FailOpen: cfg.Gate.FailOpen}, logger)

	server := api.NewServer(authStore, g, logger)
	principal := middleware.NewPrincipalMiddleware(
		middleware.HeaderResolver{Header: cfg.Gate.PrincipalHeader}, true)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      principal.Handler(server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener for probes
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		close(stopWatch)
		return healthServer.Shutdown(ctx)
	})
	sm.RegisterShutdownFunc(func(context.Context) error { return subscriber.Close() })
	sm.RegisterShutdownFunc(func(context.Context) error { return permCache.Close() })
	if db != nil {
		sm.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	}
	if redisClient != nil {
		sm.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}

	go func() {
		boot.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			boot.WithError(err).Fatal("Health server failed")
		}
	}()

	go func() {
		boot.WithField("addr", httpServer.Addr).Info("Authorization server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			boot.WithError(err).Fatal("Server failed")
		}
	}()

	if err := sm.WaitForShutdown(); err != nil {
		boot.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

// storeFetcher adapts the store to the cache fetcher interface for the
// deployment where the cache lives in the same process as the store
type storeFetcher struct {
	store store.Store
}

func (f storeFetcher) FetchRolePermissions(ctx context.Context, roleName string) ([]string, error) {
	return f.store.GetRolePermissions(ctx, roleName)
}

func (f storeFetcher) FetchUserAuthData(ctx context.Context, userID string) (*store.UserAuthData, error) {
	return f.store.GetUserAuthData(ctx, userID)
}

// registerAdminPolicy declares the permissions guarding the service's own
// administrative routes. A policy file may extend this set but these entries
// are always present.
func registerAdminPolicy(table *gate.PolicyTable) {
	manageUsers := catalog.Permission{Resource: catalog.ResourceUser, Action: catalog.ActionUpdate}
	table.Register("authz.roles.create", catalog.Permission{Resource: catalog.ResourceUser, Action: catalog.ActionCreate})
	table.Register("authz.roles.delete", catalog.Permission{Resource: catalog.ResourceUser, Action: catalog.ActionDelete})
	table.Register("authz.roles.update", manageUsers)
	table.Register("authz.users.update", manageUsers)
}

func setupBootLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("PERMIT_LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
