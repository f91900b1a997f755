// Command decisionengine is the composition root: it loads configuration, opens the
// artifact repository (filesystem or SQL), the cache, and the event bus, wires them
// into an internal/engine.Engine, and serves it over HTTP until an interrupt or
// terminate signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riskguard/decisionengine/internal/adapters"
	"github.com/riskguard/decisionengine/internal/api"
	"github.com/riskguard/decisionengine/internal/bus"
	"github.com/riskguard/decisionengine/internal/cache"
	"github.com/riskguard/decisionengine/internal/domain"
	"github.com/riskguard/decisionengine/internal/engine"
	"github.com/riskguard/decisionengine/internal/loader"
	"github.com/riskguard/decisionengine/internal/repository"
	"github.com/riskguard/decisionengine/internal/worker"
)

// version is the build-time version string, set via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	tier := flag.String("tier", os.Getenv("DECISIONENGINE_TIER"), "deployment tier: community or pro")
	flag.Parse()

	cfg := loadConfig(*tier)
	applyEnvOverrides(cfg)

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(cfg)
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	cch, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer cch.Close()

	evtBus, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to open event bus", "error", err)
		os.Exit(1)
	}
	defer evtBus.Close()

	deps := adapters.Deps{
		Counter: adapters.NewCacheCounter(cch),
		KV:      adapters.NewCacheKV(cch),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	eng := engine.New(repo, deps, cfg.Engine.DefaultPipelineID, cfg.Engine.RequestTimeout, cfg.Engine.MaxParallelCalls)

	server := api.NewServer(cfg.Server, eng, repo, cch, evtBus, version)

	// The async worker mirrors POST /evaluate over the event bus, for tiers that
	// submit decisions by publishing to domain.TopicDecisionRequested rather than
	// waiting on the HTTP response.
	w := worker.NewWorker(evtBus, eng)
	if err := w.Start(worker.Config{TenantIDs: cfg.Engine.WorkerTenantIDs}); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}
	defer w.Stop()

	go func() {
		slog.Info("decision engine listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	slog.Info("decision engine stopped")
}

func loadConfig(tier string) *domain.Config {
	switch tier {
	case "pro":
		return domain.ProConfig()
	default:
		return domain.DefaultConfig()
	}
}

// applyEnvOverrides layers a handful of environment variables over the tier default,
// the same override surface the teacher's composition root exposed for container
// deployments that configure entirely through env.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("DECISIONENGINE_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Server.Port)
	}
	if v := os.Getenv("DECISIONENGINE_LIBRARY_DIR"); v != "" {
		cfg.Engine.LibraryDir = v
		cfg.Repository.Driver = "filesystem"
	}
	if v := os.Getenv("DECISIONENGINE_DEFAULT_PIPELINE"); v != "" {
		cfg.Engine.DefaultPipelineID = v
	}
	if v := os.Getenv("DECISIONENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DECISIONENGINE_SQLITE_PATH"); v != "" {
		cfg.Repository.Driver = "sqlite"
		cfg.Repository.SQLitePath = v
	}
}

// openRepository constructs the artifact repository. "filesystem" is handled directly
// here via internal/loader.FSRepository rather than through internal/repository.New,
// since a filesystem-backed library has no SQL connection to open; any other driver
// goes through internal/repository.New (sqlite/postgres).
func openRepository(cfg *domain.Config) (domain.Repository, error) {
	if cfg.Repository.Driver == "filesystem" {
		dir := cfg.Engine.LibraryDir
		if dir == "" {
			dir = "./library"
		}
		return loader.NewFSRepository(dir)
	}
	return repository.New(cfg.Repository)
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func printBanner(cfg *domain.Config) {
	fmt.Fprintf(os.Stdout, "decisionengine %s (tier=%s, repository=%s, library=%s)\n",
		version, cfg.Tier, cfg.Repository.Driver, cfg.Engine.LibraryDir)
}
