package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finoly/finoly/pkg/audit"
	"github.com/finoly/finoly/pkg/auth"
	"github.com/finoly/finoly/pkg/business"
	"github.com/finoly/finoly/pkg/config"
	"github.com/finoly/finoly/pkg/httputil"
	"github.com/finoly/finoly/pkg/middleware"
	"github.com/finoly/finoly/pkg/observability"
	"github.com/finoly/finoly/pkg/rbac"
	"github.com/finoly/finoly/pkg/users"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var (
	migrateOnly = flag.Bool("migrate-only", false, "Apply database migrations and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

var version = "dev"

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("finoly-api exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		Environment:    cfg.Observability.OTelEnvironment,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var auditLogger audit.Logger = audit.NewLogrusLogger(logger)

	var db *sql.DB
	var manager *rbac.Manager
	rbacConfig := rbac.Config{RunMigrations: cfg.Storage.RunMigrations || *migrateOnly}
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		db, err = openPostgres(cfg.Storage)
		if err != nil {
			return err
		}
		defer db.Close()
		pgAudit, err := audit.NewPostgresLogger(ctx, db)
		if err != nil {
			return err
		}
		auditLogger = audit.NewAsyncMultiLogger(ctx, 4, logger, auditLogger, pgAudit)
		manager = rbac.NewManager(db, auditLogger, metrics, logger, rbacConfig)
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		manager = rbac.NewManagerWithStore(rbac.NewMemoryStore(), auditLogger, metrics, logger, rbacConfig)
	}

	if err := manager.Initialize(ctx); err != nil {
		return err
	}
	if *migrateOnly {
		logger.Info("migrations applied")
		return nil
	}

	var redisClient *redis.Client
	limits := business.DefaultLimits()
	readCfg := middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimit.ReadPerWindow, WindowDuration: cfg.RateLimit.Window}
	writeCfg := middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimit.WritePerWindow, WindowDuration: cfg.RateLimit.Window}
	switch cfg.RateLimit.Backend {
	case config.LimiterRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		limits.Read = middleware.NewDistributedRateLimiter(redisClient, readCfg, "finoly:ratelimit")
		limits.Write = middleware.NewDistributedRateLimiter(redisClient, writeCfg, "finoly:ratelimit")
	default:
		readLimiter := middleware.NewRateLimiter(readCfg)
		writeLimiter := middleware.NewRateLimiter(writeCfg)
		readLimiter.StartCleanup(ctx)
		writeLimiter.StartCleanup(ctx)
		limits.Read, limits.Write = readLimiter, writeLimiter
	}

	verifier := auth.NewHS256Verifier(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authMiddleware := middleware.NewAuthMiddleware(auth.NewResolver(verifier, cfg.Auth.CookieName), logger)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Handler)
	manager.RegisterRoutes(api)
	businessService := business.NewService(manager.Store(), logger)
	business.NewHandlers(businessService, limits, auditLogger, metrics, logger).RegisterRoutes(api)
	users.NewHandlers(users.NewService(manager.Store(), logger), auditLogger, metrics, logger).RegisterRoutes(api)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(otelhttp.NewHandler(router, "finoly-api"))

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion)
	if db != nil {
		checker.Require("database", observability.PingDatabase(db))
	} else {
		checker.Require("store", manager.Store().Ping)
	}
	if redisClient != nil {
		checker.Optional("redis", observability.PingRedis(redisClient))
	}
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditLogger.Close()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, logger, "api") })
	g.Go(func() error { return serve(healthServer, logger, "health") })
	if db != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					metrics.CollectDBStats(db)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func openPostgres(cfg config.StorageConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func serve(server *http.Server, logger *logrus.Logger, name string) error {
	logger.WithFields(logrus.Fields{"server": name, "addr": server.Addr}).Info("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server failed: %w", name, err)
	}
	return nil
}
