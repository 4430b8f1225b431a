// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main is the assistGate server entry point. It wires the capability
// registry, guard components and dispatch engine, then serves the local
// diagnostics and dispatch API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/assistGate/internal/api"
	"github.com/traylinx/assistGate/internal/audit"
	"github.com/traylinx/assistGate/internal/buildinfo"
	"github.com/traylinx/assistGate/internal/capability"
	"github.com/traylinx/assistGate/internal/config"
	"github.com/traylinx/assistGate/internal/engine"
	"github.com/traylinx/assistGate/internal/fallback"
	"github.com/traylinx/assistGate/internal/health"
	"github.com/traylinx/assistGate/internal/invariant"
	"github.com/traylinx/assistGate/internal/logging"
	"github.com/traylinx/assistGate/internal/provider"
	"github.com/traylinx/assistGate/internal/ratelimit"
	"github.com/traylinx/assistGate/internal/redact"
	"github.com/traylinx/assistGate/internal/reliability"
	"github.com/traylinx/assistGate/internal/replay"
	"github.com/traylinx/assistGate/internal/settings"
	"github.com/traylinx/assistGate/internal/steering"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("assistgate %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// A .env next to the binary can supply the remote provider key.
	_ = godotenv.Load()

	cfg, err := config.LoadConfigOptional(*configPath, true)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if key := os.Getenv("ASSISTGATE_REMOTE_API_KEY"); key != "" {
		cfg.RemoteProvider.APIKey = key
	}

	if cfg.Debug {
		logging.SetLevel("debug")
	} else {
		logging.SetLevel("info")
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir()); err != nil {
		log.WithError(err).Fatal("Failed to configure log output")
	}

	log.WithFields(log.Fields{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
	}).Info("Starting assistGate")

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Fallback heuristics double as the bundled provider.
	heuristics := fallback.NewHeuristicEngine()

	providers := []capability.Provider{}
	if cfg.LocalModel.Enabled {
		providers = append(providers, provider.NewLocalModel(cfg.LocalModel.BaseURL, cfg.LocalModel.Timeout))
	}
	providers = append(providers, provider.NewBundledHeuristic(heuristics))
	if cfg.RemoteProvider.Enabled && cfg.RemoteProvider.BaseURL != "" {
		providers = append(providers, provider.NewUserRemote(cfg.RemoteProvider.BaseURL, cfg.RemoteProvider.APIKey, cfg.RemoteProvider.Timeout))
	}

	registry, err := capability.NewRegistry(capability.BuiltinContracts(), providers)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	settingsStore, err := settings.NewFileStore(cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer settingsStore.Close()

	var steeringEngine *steering.Engine
	if cfg.SteeringDir != "" {
		steeringEngine = steering.NewEngine(cfg.SteeringDir)
		if err := steeringEngine.LoadRules(); err != nil {
			return fmt.Errorf("load steering rules: %w", err)
		}
		if err := steeringEngine.StartWatching(); err != nil {
			log.WithError(err).Warn("Steering hot reload unavailable")
		}
		defer steeringEngine.Stop()
	}

	monitor := health.NewMonitor(cfg.Health, func(id capability.ID) float64 {
		if c := registry.Contract(id); c != nil {
			return float64(reliability.BudgetForClass(c.Class).Milliseconds())
		}
		return float64(reliability.BudgetParse.Milliseconds())
	})

	auditLog := audit.NewLog(cfg.Audit)
	defer auditLog.Close()

	var replayStore *replay.Store
	if cfg.Replay.Enabled {
		replayStore, err = replay.NewStore(cfg.Replay.Path, cfg.Replay.RetentionDays)
		if err != nil {
			return fmt.Errorf("create replay store: %w", err)
		}
		if err := replayStore.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize replay store: %w", err)
		}
		defer replayStore.Close()
	}

	eng, err := engine.New(engine.Options{
		Registry:  registry,
		Settings:  settingsStore,
		Steering:  steeringEngine,
		Redaction: redact.NewPolicy(),
		Limiter:   ratelimit.NewLimiter(cfg.RateLimit),
		Circuits:  reliability.NewProviderReliability(cfg.Breaker),
		Validator: invariant.NewValidator(),
		Monitor:   monitor,
		Audit:     auditLog,
		Fallback:  heuristics,
		Replay:    replayStore,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	server, err := api.NewServer(api.Options{
		Engine:   eng,
		Monitor:  monitor,
		Audit:    auditLog,
		Settings: settingsStore,
		Steering: steeringEngine,
		Replay:   replayStore,
		Debug:    cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}

	return server.Run(ctx, cfg.Host, cfg.Port)
}
