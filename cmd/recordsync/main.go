package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oakbridge/recordsync/internal/anchor"
	"github.com/oakbridge/recordsync/internal/api"
	"github.com/oakbridge/recordsync/internal/circuitbreaker"
	"github.com/oakbridge/recordsync/internal/config"
	"github.com/oakbridge/recordsync/internal/export"
	"github.com/oakbridge/recordsync/internal/metrics"
	"github.com/oakbridge/recordsync/internal/plugin"
	"github.com/oakbridge/recordsync/internal/source"
	"github.com/oakbridge/recordsync/internal/storage"
)

func main() {
	cfg := config.Load()

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := storage.RunMigrations(ctx, pool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if err := storage.RunPluginMigration(ctx, pool); err != nil {
		logger.Error("failed to run plugin migration", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete")

	prometheus.MustRegister(metrics.NewPoolCollector(pool))

	// Anchor persistence backend
	var anchors anchor.Store
	switch cfg.AnchorBackend {
	case "postgres":
		anchors = anchor.NewPostgresStore(pool, cfg.QueryTimeout)
	case "sqlite":
		sqliteStore, err := anchor.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite anchor store", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		anchors = sqliteStore
	case "memory":
		anchors = anchor.NewMemoryStore()
	default:
		logger.Error("unknown anchor backend", "backend", cfg.AnchorBackend)
		os.Exit(1)
	}
	logger.Info("anchor store ready", "backend", cfg.AnchorBackend)

	recordStore := storage.NewPostgresRecordStore(pool, cfg.QueryTimeout)

	// Plugin framework: registry hydrated from the store, shared RPC client.
	pluginRegistry := plugin.NewRegistry()
	pluginStore := plugin.NewPostgresStore(pool, cfg.QueryTimeout)
	persisted, err := pluginStore.ListPlugins(ctx)
	if err != nil {
		logger.Error("failed to load persisted plugins", "error", err)
		os.Exit(1)
	}
	for _, p := range persisted {
		pluginRegistry.Register(p)
	}
	logger.Info("plugin registry hydrated", "plugins", len(persisted))

	rpcClient := plugin.NewRPCClient(cfg.PluginRetryMax, cfg.PluginRetryBackoff, cfg.PluginRPCTimeout)
	sink := plugin.NewSink(pluginRegistry, rpcClient, logger)

	// Collection catalog and per-collection collectors
	catalog, err := config.LoadCatalog(cfg.CollectionConfigPath)
	if err != nil {
		logger.Error("failed to load collection catalog", "path", cfg.CollectionConfigPath, "error", err)
		os.Exit(1)
	}
	auth := catalog.Authorizer()

	router := source.NewRouter()
	for _, cc := range catalog.Collections {
		pageSize := cc.PageSize
		if pageSize == 0 {
			pageSize = cfg.PageSize
		}
		breaker := circuitbreaker.New(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
		collector, err := source.NewCollector(ctx, cc.ID, cc.Predicate, cc.Delivery,
			pageSize, recordStore, sink, auth, anchors, breaker, logger)
		if err != nil {
			logger.Error("failed to build collector", "collection", cc.ID, "error", err)
			os.Exit(1)
		}
		router.Register(collector)
	}
	logger.Info("collectors registered", "collections", len(catalog.Collections))

	// Kick off automatic-start collections in the background.
	for _, id := range router.Collections() {
		collector, err := router.CollectorFor(id)
		if err != nil {
			continue
		}
		go func(c *source.Collector) {
			if err := c.StartAutomaticCollection(ctx); err != nil {
				logger.Error("automatic collection failed", "collection", c.Collection(), "error", err)
			}
		}(collector)
	}

	// Export sessions
	sessions := export.NewRegistry(recordStore, auth, anchors,
		cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger)
	notifier := plugin.NewNotifier(pluginRegistry, rpcClient, logger)
	sessions.OnFinish(func(s *export.Session, state export.State) {
		_, total := s.Progress()
		notifier.SessionCompleted(plugin.SessionCompletedParams{
			SessionID:   s.ID(),
			State:       string(state),
			Collections: s.Collections(),
			Boundaries:  total,
			Failed:      len(s.Failed()),
		})
	})

	handler := api.NewServer(logger, api.ServerConfig{
		Sessions:    sessions,
		Collections: router,
		Source:      recordStore,
		Records:     recordStore,
		Plugins:     pluginRegistry,
		PluginStore: pluginStore,
		RPCClient:   rpcClient,
		PageSize:    cfg.PageSize,
		Backends:    map[string]api.Pinger{"postgres": pool},
	})
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
