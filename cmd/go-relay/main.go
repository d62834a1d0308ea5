package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/a-essam23/go-relay/internal/api"
	"github.com/a-essam23/go-relay/internal/blob"
	"github.com/a-essam23/go-relay/internal/engine"
	"github.com/a-essam23/go-relay/internal/polls"
	"github.com/a-essam23/go-relay/internal/router"
	"github.com/a-essam23/go-relay/internal/server"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/a-essam23/go-relay/internal/telemetry"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/a-essam23/go-relay/pkg/state/statemanager"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", slog.Any("error", err))
	}

	bootLogger, _ := logging.New(logging.LevelInfo)
	cfg, err := config.Load(bootLogger, *configPath)
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		bootLogger.Error("Invalid log level", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	tp, err := telemetry.Init(ctx, logger, cfg.Telemetry)
	switch {
	case errors.Is(err, telemetry.ErrNoExporter):
		logger.Info("Tracing disabled")
	case err != nil:
		return err
	}
	defer tp.Flush()

	st, err := store.Open(ctx, logger, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	blobs, err := blob.NewLocalStore(logger, cfg.Uploads.Dir, cfg.Uploads.PublicPath, cfg.Uploads.MaxBytes)
	if err != nil {
		return err
	}

	registry := engine.New(logger)
	registry.RegisterCore(&engine.RegisterCoreOptions{JWTsecret: cfg.Server.Auth.JWTSecret})
	steps, err := registry.Compile(cfg.Events)
	if err != nil {
		return err
	}
	logger.Info("Modifier engine initialized.", slog.Int("events", len(steps)))

	stateManager := statemanager.NewInMemoryManager(logger)
	calls := statemanager.NewInMemoryCallTracker(logger, statemanager.BusyPolicy(cfg.Calls.BusyPolicy))
	aggregator := polls.NewAggregator(logger, st)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eventRouter := router.NewEventRouter(logger, stateManager, calls, aggregator, router.Options{
		Steps:   steps,
		Metrics: router.NewMetrics(reg, stateManager, calls),
	})

	known := eventRouter.Events()
	for name := range cfg.Events {
		if _, found := slices.BinarySearch(known, name); !found {
			logger.Warn("Configured event has no handler", slog.String("event", name))
		}
	}

	app := server.NewApp(ctx, logger, cfg, server.Deps{
		StateManager: stateManager,
		Router:       eventRouter,
		API:          api.New(logger, st, aggregator, blobs, eventRouter),
		Store:        st,
		Gatherer:     reg,
		Uploads:      blobs,
	})
	return app.Run()
}
