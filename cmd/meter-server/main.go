package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"meterhub/internal/adminapi"
	"meterhub/internal/config"
	"meterhub/internal/dispatch"
	"meterhub/internal/metrics"
	"meterhub/internal/microservices/tcp"
	"meterhub/internal/sinks"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed_to_load_config", "error", err.Error())
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid_config", "error", err.Error())
		return 1
	}

	// Setup structured logging
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	set, err := sinks.OpenEnabled(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed_to_open_sinks", "error", err.Error())
		return 1
	}
	defer func() {
		if err := set.Close(); err != nil {
			logger.Warn("failed_to_close_sinks", "error", err.Error())
		}
	}()

	coordinator := dispatch.NewCoordinator(set.Sinks(), m, logger)
	server := tcp.NewServer(cfg.ListenAddr(), coordinator, cfg.Session(), m, logger)

	logger.Info("starting_meter_server",
		"tcp_addr", cfg.ListenAddr(),
		"admin_addr", cfg.AdminAddr(),
		"sinks", set.Names(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if addr := cfg.AdminAddr(); addr != "" {
		opts := adminapi.Options{
			Sessions:  server.Manager,
			SinkNames: set.Names(),
			Metrics:   m,
			JWTSecret: cfg.AdminJWTSecret,
			Logger:    logger,
		}
		if r := set.Redis(); r != nil {
			opts.Cache = r
		}
		admin := adminapi.NewServer(opts)
		g.Go(func() error {
			return admin.Run(gctx, addr)
		})
	}

	exitCode := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server_error", "error", err.Error())
		exitCode = 1
	}

	// sessions are gone, let sink calls still running finish before closing sinks
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := coordinator.Wait(waitCtx); err != nil {
		logger.Warn("sink_drain_timeout", "error", err.Error())
	}

	logger.Info("server_stopped_gracefully")
	return exitCode
}
