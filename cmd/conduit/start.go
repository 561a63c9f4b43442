package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/build"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/doctor"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/host"
	"github.com/mattjoyce/conduit/internal/inspect"
	"github.com/mattjoyce/conduit/internal/journal"
	"github.com/mattjoyce/conduit/internal/lock"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/storage"
	"github.com/mattjoyce/conduit/internal/webhook"
	"github.com/mattjoyce/conduit/internal/workpool"
)

func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	idle := fs.Bool("idle", false, "Do not start the worker until asked to")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("conduit starting", "version", version, "config", path)

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	store := journal.NewStore(db)

	hub := events.NewHub(256)
	hostHub := host.New(hub, store)

	deps := bridge.Deps{
		Locator:    build.New(cfg.Worker),
		Recipients: hostHub,
		Commands:   hostHub,
		Journal:    store,
		Logger:     log.WithComponent("bridge"),
		WorkerArgs: cfg.Worker.Args,
	}

	var pool *workpool.Pool
	if cfg.Pool.Enabled {
		pool = workpool.New(cfg.Pool.Workers, cfg.Pool.QueueSize)
		deps.Submitter = pool
		logger.Info("shared task pool enabled", "workers", cfg.Pool.Workers, "queue_size", cfg.Pool.QueueSize)
	}

	b := bridge.New(cfg.Bridge, deps)

	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		server := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, b, hub, store, log.WithComponent("api"))
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	if len(cfg.Webhooks.Endpoints) > 0 {
		whCfg, err := webhook.FromConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("invalid webhook configuration", "error", err)
			return 1
		}
		wh := webhook.New(whCfg, b, log.WithComponent("webhook"))
		go func() {
			if err := wh.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
	}

	if !*idle {
		// A failed start leaves the bridge stopped; the API can retry.
		_ = b.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	logger.Info("conduit running (press Ctrl+C to stop)", "state", b.State().String())

	code := 0
loop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, restarting worker")
				if err := b.Restart(ctx); err != nil {
					logger.Error("restart failed", "error", err)
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig.String())
			break loop
		case err := <-errCh:
			logger.Error("component failed", "error", err)
			code = 1
			break loop
		}
	}

	b.Stop()
	cancel()
	if pool != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Bridge.PoolGrace+cfg.Bridge.PoolForce)
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("task pool did not drain", "error", err)
		}
		done()
	}
	logger.Info("conduit stopped")
	return code
}

func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	force := fs.Bool("force", false, "Rebuild even when the sources are unchanged")
	timeout := fs.Duration("timeout", 5*time.Minute, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, "text")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	compiler := build.New(cfg.Worker)
	var out string
	if cfg.Worker.Executable != "" {
		out, err = compiler.Locate(ctx)
	} else {
		out, err = compiler.Build(ctx, *force)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		return 1
	}
	if cfg.Worker.Executable == "" {
		fmt.Printf("sources: %d\n", compiler.Count())
	}
	fmt.Printf("worker: %s\n", out)
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("error", "text")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := doctor.New(cfg, nil).Validate(ctx)

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: conduit inspect [--config PATH] [--json] <session-id>")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()
	store := journal.NewStore(db)

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, store, fs.Arg(0))
	} else {
		out, err = inspect.BuildReport(ctx, store, fs.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return 0
}
