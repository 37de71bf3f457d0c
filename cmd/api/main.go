package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/safar/go-cql-shop/internal/cache"
	"github.com/safar/go-cql-shop/internal/config"
	"github.com/safar/go-cql-shop/internal/database"
	"github.com/safar/go-cql-shop/internal/metrics"
	"github.com/safar/go-cql-shop/internal/models"
	"github.com/safar/go-cql-shop/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := database.EnsureReady(ctx, &cfg.Cassandra, logger)
	if err != nil {
		logger.Error("connect to cassandra", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	logger.Info("connected to cassandra", "hosts", cfg.Cassandra.Hosts, "keyspace", cfg.Cassandra.Keyspace)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	storeMetrics := metrics.NewStoreMetrics(reg)

	catalogOpts := []store.CatalogOption{
		store.WithCatalogMetrics(storeMetrics),
		store.WithCatalogLogger(logger.With("component", "catalog")),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Dial(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Warn("product cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rdb.Close()
			productCache := cache.NewProductCache(rdb,
				cache.WithTTL(cfg.Redis.ProductTTL),
				cache.WithPrefix(cfg.Redis.KeyPrefix))
			metrics.RegisterCacheStats(reg, "product", productCache.Stats)
			catalogOpts = append(catalogOpts, store.WithProductCache(productCache))
			logger.Info("product cache enabled", "addr", cfg.Redis.Addr)
		}
	}
	catalog := store.NewCatalog(session, catalogOpts...)

	ordersOpts := []store.OrdersOption{
		store.WithOrdersMetrics(storeMetrics),
		store.WithOrdersLogger(logger.With("component", "orders")),
		store.WithUserStatusSync(cfg.Orders.SyncUserStatus),
		store.WithKnownStatuses(cfg.Orders.KnownStatuses...),
	}
	if cfg.Orders.StrictTransitions {
		ordersOpts = append(ordersOpts, store.WithTransitionPolicy(
			models.TerminalStatuses(models.OrderStatusDelivered, models.OrderStatusCanceled)))
	}
	orders := store.NewOrders(session, ordersOpts...)

	a := &api{
		catalog: catalog,
		orders:  orders,
		logger:  logger,
		timeout: cfg.Server.RequestTimeout,
		metrics: metrics.NewServerMetrics(reg),
	}

	r := chi.NewRouter()
	r.Use(a.instrument)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	a.routes(r)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
