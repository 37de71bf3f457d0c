package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/safar/go-cql-shop/internal/config"
	"github.com/safar/go-cql-shop/internal/database"
	"github.com/safar/go-cql-shop/internal/metrics"
	"github.com/safar/go-cql-shop/internal/reconcile"
	"github.com/safar/go-cql-shop/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: reconcile [check|repair]")
		os.Exit(2)
	}

	mode := os.Args[1]
	if mode != "check" && mode != "repair" {
		fmt.Fprintln(os.Stderr, "Mode must be 'check' or 'repair'")
		os.Exit(2)
	}

	os.Exit(run(mode))
}

func run(mode string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config: %v\n", err)
		return 1
	}

	// Report goes to stdout, logs to stderr.
	logger := cfg.Log.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := database.EnsureReady(ctx, &cfg.Cassandra, logger)
	if err != nil {
		logger.Error("connect to cassandra", "error", err)
		return 1
	}
	defer session.Close()

	reg := prometheus.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(reg)

	orders := store.NewOrders(session,
		store.WithOrdersMetrics(storeMetrics),
		store.WithOrdersLogger(logger.With("component", "orders")))
	catalog := store.NewCatalog(session,
		store.WithCatalogMetrics(storeMetrics),
		store.WithCatalogLogger(logger.With("component", "catalog")))

	r := reconcile.New(orders, catalog, metrics.NewReconcileMetrics(reg), logger.With("component", "reconcile")).
		WithKnownStatuses(cfg.Orders.KnownStatuses...)

	report, err := r.Run(ctx, mode == "repair")
	if err != nil {
		logger.Error("reconciliation aborted", "mode", mode, "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("encode report", "error", err)
		return 1
	}

	switch {
	case report.RepairFailed > 0:
		return 1
	case mode == "check" && len(report.Mismatches) > 0:
		return 3
	}
	return 0
}
