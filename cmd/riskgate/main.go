// Riskgate - Pre-payment risk assessment for business formation orders.
// Copyright (c) 2026 FormationHQ
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/formationhq/riskgate/internal/api"
	"github.com/formationhq/riskgate/internal/bus"
	"github.com/formationhq/riskgate/internal/cache"
	"github.com/formationhq/riskgate/internal/domain"
	"github.com/formationhq/riskgate/internal/gate"
	"github.com/formationhq/riskgate/internal/judgment"
	"github.com/formationhq/riskgate/internal/ledger"
	"github.com/formationhq/riskgate/internal/pipeline"
	"github.com/formationhq/riskgate/internal/review"
	"github.com/formationhq/riskgate/internal/rules"
	"github.com/formationhq/riskgate/internal/scoring"
	"github.com/formationhq/riskgate/internal/signals"
	"github.com/formationhq/riskgate/internal/velocity"
	"github.com/formationhq/riskgate/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("RISKGATE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting riskgate",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("RISKGATE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// External judgment service is opt-in via environment
	if endpoint := os.Getenv("RISKGATE_JUDGMENT_ENDPOINT"); endpoint != "" {
		cfg.Judgment.Enabled = true
		cfg.Judgment.Endpoint = endpoint
		cfg.Judgment.APIKey = os.Getenv("RISKGATE_JUDGMENT_API_KEY")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"ledger", cfg.Ledger.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"judgment_enabled", cfg.Judgment.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Ledger
	ledgerImpl, err := ledger.New(cfg.Ledger)
	if err != nil {
		slog.Error("failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	defer ledgerImpl.Close()
	slog.Info("ledger initialized", "driver", cfg.Ledger.Driver)

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
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(ledgerImpl, cacheImpl)
	slog.Info("velocity service initialized")

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load rules from the ledger, seeding the built-in battery on first start
	if err := loadRules(ctx, ledgerImpl, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Signal Extractor with built-in reference data
	refData := domain.DefaultReferenceData()
	extractor := signals.NewExtractor(refData, velocitySvc.GetVelocityGetter(), cfg.Scoring.VelocityWindowSecs)
	slog.Info("signal extractor initialized")

	// Initialize external judgment adapter
	judge := judgment.NewClient(cfg.Judgment)

	// Initialize assessment pipeline
	p := pipeline.New(pipeline.Options{
		Extractor:  extractor,
		Engine:     engine,
		Judge:      judge,
		Aggregator: scoring.NewAggregator(cfg.Scoring),
		Policy:     scoring.NewPolicy(cfg.Scoring),
		Ledger:     ledgerImpl,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Velocity:   velocitySvc,
		Scoring:    cfg.Scoring,
	})
	slog.Info("assessment pipeline initialized", "scoring_version", cfg.Scoring.Version)

	// Initialize admission gate and review workflow
	admissionGate := gate.New(ledgerImpl, busImpl)
	reviewWorkflow := review.New(ledgerImpl, busImpl)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("RISKGATE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, p)

		var tenantIDs []string
		if envTenants := os.Getenv("RISKGATE_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, p, admissionGate, reviewWorkflow, ledgerImpl, cacheImpl, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("riskgate is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("riskgate shutdown complete")
}

// loadRules loads the heuristic battery from the ledger. An empty ledger is
// seeded with the built-in battery so a fresh install assesses orders
// immediately; after that the persisted configs are authoritative and are
// tuned via the rules API.
func loadRules(ctx context.Context, l domain.Ledger, engine *rules.Engine) error {
	configs, err := l.ListSignalConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		return fmt.Errorf("failed to list rule configs: %w", err)
	}

	if len(configs) == 0 {
		slog.Info("empty ledger - seeding built-in heuristic battery", "version", rules.BatteryVersion)
		configs = rules.DefaultBattery()
		for _, cfg := range configs {
			cfg.TenantID = api.GlobalTenantID
			if err := l.SaveSignalConfig(ctx, api.GlobalTenantID, cfg); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", cfg.ID, err)
			}
		}
	}

	slog.Info("loading rules from ledger", "count", len(configs))
	return engine.LoadRules(configs)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                  RISKGATE")
	fmt.Println("     Pre-payment risk assessment pipeline")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assess                         - Assess an order before payment")
	fmt.Println("    GET  /assessments/{id}               - Get assessment by ID")
	fmt.Println("    GET  /orders/{id}/assessment         - Get governing assessment for order")
	fmt.Println("    GET  /orders/{id}/admission          - Admission state for checkout")
	fmt.Println("    POST /orders/{id}/capture            - Authorize and confirm payment capture")
	fmt.Println("    POST /orders/{id}/reassess           - Supersede with a fresh assessment")
	fmt.Println("    POST /assessments/{id}/review        - Record a review decision")
	fmt.Println("    GET  /reviews/pending                - Assessments awaiting review")
	fmt.Println("    GET  /rules                          - List loaded heuristics")
	fmt.Println("    POST /rules                          - Create a heuristic")
	fmt.Println("    POST /rules/reload                   - Hot-reload heuristics from ledger")
	fmt.Println("    GET  /health                         - Health check")
	fmt.Println()
}
