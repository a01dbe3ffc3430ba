// Kestrel - Watchlist ingestion and fuzzy identity screening.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingestion"
	"github.com/opensource-finance/kestrel/internal/matching"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/reconcile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/screening"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"match_threshold", cfg.Matching.Threshold,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	notifier := bus.NewNotifier(busImpl)
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Ingestion
	fetcher := ingestion.FetcherFromConfig(cfg.Ingestion, cacheImpl, m, slog.Default())
	registry := ingestion.NewRegistry(cfg.Ingestion, fetcher, slog.Default())
	reconciler := reconcile.New(repo, reconcile.WithCache(cacheImpl))
	ingester := ingestion.NewService(registry, reconciler, repo, notifier, m)
	slog.Info("ingestion initialized", "enabled_providers", providerCodes(registry.Enabled()))

	// Compliance rules: mandatory rules are built in, operator rules come from the store.
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Matching and screening
	matcher := matching.NewMatcher(repo, cfg.Matching,
		matching.WithCache(cacheImpl, cfg.Cache.CorpusTTL),
		matching.WithSources(providerCodes(ingestion.AllProviders())),
		matching.WithMetrics(m),
	)
	screener := screening.New(repo, matcher, engine,
		screening.WithNotifier(notifier),
		screening.WithMetrics(m),
	)
	coordinator := batch.New(repo, screener, ingester, cfg.Batch,
		batch.WithRescan(cfg.Screening),
		batch.WithMetrics(m),
	)

	// Scheduler collaborator
	var scheduler *worker.Worker
	if cfg.Worker.Enabled || cfg.Tier == domain.TierPro {
		scheduler = worker.NewWorker(busImpl, coordinator, cfg.Worker)
		if err := scheduler.Start(); err != nil {
			slog.Error("failed to start worker", "error", err)
			scheduler = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:        repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Engine:      engine,
		Matcher:     matcher,
		Screener:    screener,
		Coordinator: coordinator,
		Registry:    registry,
		Gatherer:    prometheus.DefaultGatherer,
	}, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Background batch jobs stop taking new customers; in-flight ones finish.
	coordinator.CancelAll()
	coordinator.Wait()

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadRulesFromDatabase loads stored operator rules into the engine.
// A store that cannot be read leaves only the mandatory rules.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListComplianceRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}

	if len(stored) > 0 {
		slog.Info("loading rules from database", "count", len(stored))
		return engine.LoadRules(stored)
	}

	slog.Info("no operator rules in database - configure via POST /rules API")
	return nil
}

func providerCodes(providers []ingestion.Provider) []string {
	codes := make([]string, len(providers))
	for i, p := range providers {
		codes[i] = p.Code()
	}
	return codes
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  watchlist screening engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /ingestion/{provider}         - Fetch and reconcile a provider")
	fmt.Println("    POST /ingestion/{provider}/upload  - Ingest an uploaded list")
	fmt.Println("    GET  /ingestion/{provider}/runs    - Run history")
	fmt.Println("    POST /customers                    - Register a customer")
	fmt.Println("    POST /screen                       - Screen one customer")
	fmt.Println("    POST /match                        - Ad-hoc name match")
	fmt.Println("    POST /screening/batch              - Batch screening")
	fmt.Println("    GET  /screening/jobs/{id}          - Job status")
	fmt.Println("    GET  /alerts/{id}                  - Get alert")
	fmt.Println("    GET  /rules                        - List compliance rules")
	fmt.Println("    POST /rules                        - Add an operator rule")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
