// Command cortex-engine runs the Orchestrator and its HTTP control surface
// as a single long-running process, the way the teacher's cmd/cortex runs
// its scheduler and API server side by side.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cortex-work/engine/internal/api"
	"github.com/cortex-work/engine/internal/approval"
	"github.com/cortex-work/engine/internal/budget"
	"github.com/cortex-work/engine/internal/buildworker"
	"github.com/cortex-work/engine/internal/config"
	"github.com/cortex-work/engine/internal/engine"
	"github.com/cortex-work/engine/internal/ledger"
	"github.com/cortex-work/engine/internal/phase"
	"github.com/cortex-work/engine/internal/router"
	"github.com/cortex-work/engine/internal/store"
	"github.com/cortex-work/engine/internal/textgen"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildRouter wires one router.Router for the given mode and registers a
// live textgen.CLIAdapter for every configured provider, so selective and
// live modes have something real to fall back to besides the mock. It also
// records the cheapest configured provider by blended input/output rate,
// so cost-control escalation (SPEC_FULL.md supplemental feature 1) has a
// concrete provider to steer toward.
func buildRouter(cfg *config.Config, logger *slog.Logger) *router.Router {
	r := router.New(router.Mode(cfg.Router.Mode), textgen.NewMockAdapter("mock"))

	cheapest := ""
	cheapestRate := -1.0
	for name, p := range cfg.Router.Providers {
		adapter := textgen.NewCLIAdapter(name, p.Model, textgen.CLIConfig{
			Command:         p.CLI,
			Flags:           p.Flags,
			InputPriceMtok:  p.CostInputPerMtok,
			OutputPriceMtok: p.CostOutputPerMtok,
			Timeout:         p.Timeout.Duration,
			RateLimitPerSec: p.RateLimitPerSec,
		})
		r.RegisterAdapter(name, adapter)
		r.SetProviderEnabled(name, cfg.Router.Enabled[name])
		logger.Info("registered provider adapter", "provider", name, "model", p.Model, "enabled", cfg.Router.Enabled[name])

		rate := p.CostInputPerMtok + p.CostOutputPerMtok
		if cheapestRate < 0 || rate < cheapestRate {
			cheapest, cheapestRate = name, rate
		}
	}
	if cheapest != "" {
		r.SetCheapestProvider(cheapest)
		logger.Info("cheapest provider for cost-control escalation", "provider", cheapest)
	}
	return r
}

// buildWorker selects the build/review backend per cfg.Worker.Backend,
// falling back to the mock worker (and logging why) if a live backend
// fails to initialize, matching the teacher's resolver.CreateDispatcher
// fail-closed-to-something-safe posture.
func buildWorker(cfg *config.Config, logger *slog.Logger) buildworker.Worker {
	switch cfg.Worker.Backend {
	case "docker":
		w, err := buildworker.NewDockerWorker(cfg.Worker.DockerImage)
		if err != nil {
			logger.Error("failed to start docker worker, falling back to mock", "error", err)
			return buildworker.NewMockWorker()
		}
		return w
	case "temporal":
		w, err := buildworker.NewTemporalWorker(cfg.Worker.TemporalHostPort, cfg.Worker.TemporalTimeout.Duration)
		if err != nil {
			logger.Error("failed to dial temporal, falling back to mock", "error", err)
			return buildworker.NewMockWorker()
		}
		return w
	default:
		return buildworker.NewMockWorker()
	}
}

func main() {
	configPath := flag.String("config", "cortex-engine.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("cortex-engine starting", "config", *configPath)

	cfgMgr, err := config.LoadManager(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	logger = configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	dbPath := config.ExpandHome(cfg.General.StateDB)
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	led := ledger.New()
	guard := budget.New(led, cfg.Budget)
	rtr := buildRouter(cfg, logger.With("component", "router"))
	worker := buildWorker(cfg, logger.With("component", "buildworker"))
	exec := phase.New(led, guard, rtr, worker, logger.With("component", "phase"))
	exec.Decisions = st
	exec.ForceConservativePct = cfg.General.ForceConservativeAtWeeklyUsagePct
	exec.AttemptCooldown = cfg.General.PhaseAttemptCooldown.Duration
	approvalQueue := approval.New(st)

	orch := engine.New(cfgMgr, *configPath, st, led, guard, exec, approvalQueue, logger.With("component", "engine"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	apiSrv, err := api.NewServer(cfgMgr, st, led, orch, logger.With("component", "api"))
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	defer apiSrv.Close()

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("cortex-engine running", "bind", cfg.API.Bind, "router_mode", cfg.Router.Mode, "worker_backend", cfg.Worker.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			if err := orch.ReloadConfig(); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			guard.UpdateBudgets(cfgMgr.Get().Budget)
			rtr.UpdateConfig(router.Mode(cfgMgr.Get().Router.Mode))
			logger.Info("config reloaded")
		default:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			if err := orch.Stop(); err != nil {
				logger.Error("error stopping orchestrator", "error", err)
			}
			logger.Info("cortex-engine stopped", "shutdown_duration", time.Since(shutdownStart).String())
			return
		}
	}
}
