package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mredag/eformLockerRoom-sub013/internal/admission"
	"github.com/mredag/eformLockerRoom-sub013/internal/archive"
	"github.com/mredag/eformLockerRoom-sub013/internal/broadcast"
	"github.com/mredag/eformLockerRoom-sub013/internal/commands"
	"github.com/mredag/eformLockerRoom-sub013/internal/config"
	"github.com/mredag/eformLockerRoom-sub013/internal/events"
	"github.com/mredag/eformLockerRoom-sub013/internal/eventstore"
	"github.com/mredag/eformLockerRoom-sub013/internal/metrics"
	"github.com/mredag/eformLockerRoom-sub013/internal/queue"
	"github.com/mredag/eformLockerRoom-sub013/internal/queue/postgres"
	"github.com/mredag/eformLockerRoom-sub013/internal/server"
	"github.com/mredag/eformLockerRoom-sub013/internal/session"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the lockerd HTTP, WebSocket and gRPC servers",
	GroupID: "server",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, logger)
	},
}

// newLogger builds the process logger from LOCKERD_LOG_LEVEL and
// LOCKERD_LOG_FORMAT.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// buildValidator assembles the session validator chain: the static token
// first, then Redis. The returned close func releases the Redis client.
func buildValidator(cfg *config.Config, logger *slog.Logger) (session.Validator, func() error, error) {
	var chain session.Chain
	closeFn := func() error { return nil }

	if cfg.AuthToken != "" {
		chain = append(chain, session.NewTokenValidator(cfg.AuthToken))
	}
	if cfg.RedisAddr != "" {
		rv, err := session.NewRedisValidator(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis session validator: %w", err)
		}
		chain = append(chain, rv)
		closeFn = rv.Close
		logger.Info("redis session validation enabled", "addr", cfg.RedisAddr)
	}

	switch len(chain) {
	case 0:
		for _, ns := range cfg.Namespaces {
			if ns.RequireAuth {
				logger.Warn("namespace requires auth but no session validator is configured; all sessions will be refused",
					"namespace", ns.Path)
			}
		}
		return session.DenyAll{}, closeFn, nil
	case 1:
		return chain[0], closeFn, nil
	}
	return chain, closeFn, nil
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	checks := make(map[string]server.Pinger)

	// Command queue.
	var q queue.Queue
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		q = pg
		checks["queue"] = pg
		logger.Info("command queue: postgres")
	} else {
		q = queue.NewMemory()
		logger.Info("command queue: in-memory (LOCKERD_DATABASE_URL not set)")
	}

	validator, closeValidator, err := buildValidator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeValidator()

	// Event publisher.
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("event mirror enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = events.NoopPublisher{}
		logger.Info("event mirror disabled (LOCKERD_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	store := eventstore.New(eventstore.Options{
		DefaultTTL:    cfg.EventTTL,
		MaxEvents:     cfg.EventStoreMax,
		SweepInterval: cfg.EventSweepInterval,
		Metrics:       m,
		Logger:        logger,
	})
	store.Start()
	defer store.Stop()

	gate := admission.New(q, admission.Options{
		TTL:           cfg.LockTTL,
		MaxResourceID: cfg.MaxLockerID,
		Metrics:       m,
		Logger:        logger,
	})

	engine := broadcast.NewEngine(broadcast.Options{
		Store:          store,
		Validator:      validator,
		Publisher:      publisher,
		SweepInterval:  cfg.SweepInterval,
		IdleTimeout:    cfg.IdleTimeout,
		ReplayWindow:   cfg.ReplayWindow,
		ReplayLimit:    cfg.ReplayLimit,
		EventTTL:       cfg.EventTTL,
		LatencySamples: cfg.LatencySamples,
		OnSweep:        func() { gate.Sweep() },
		Metrics:        m,
		Logger:         logger,
	})
	for _, ns := range cfg.Namespaces {
		engine.CreateNamespace(ns.Path, ns.RequireAuth)
	}
	engine.Start()

	dispatcher := commands.NewDispatcher(gate, q, engine, logger)

	// Ingest bridge.
	bridgeCtx, stopBridge := context.WithCancel(ctx)
	bridgeDone := make(chan struct{})
	if cfg.NATSURL != "" {
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to create ingest subscriber", "err", err)
			close(bridgeDone)
		} else {
			bridge := events.NewBridge(engine, logger)
			go func() {
				defer close(bridgeDone)
				if err := bridge.Run(bridgeCtx, sub); err != nil {
					logger.Error("ingest bridge error", "err", err)
				}
				sub.Close()
			}()
		}
	} else {
		close(bridgeDone)
	}

	// Archive scheduler.
	var scheduler *archive.Scheduler
	if cfg.ArchiveEnabled() {
		dest, err := archive.NewS3Destination(ctx,
			cfg.ArchiveS3Bucket,
			cfg.ArchiveS3Key,
			cfg.ArchiveS3Region,
			cfg.ArchiveS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			scheduler = archive.NewScheduler(store, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
			scheduler.Start()
			logger.Info("archive scheduler started",
				"interval", cfg.ArchiveInterval, "bucket", cfg.ArchiveS3Bucket, "key", cfg.ArchiveS3Key)
		}
	}

	// gRPC health.
	health := server.NewHealthServer()
	grpcServer := server.NewGRPCServer(health, cfg.AuthToken)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopBridge()
		engine.Shutdown()
		return err
	}

	srv := server.New(server.Deps{
		Engine:     engine,
		Store:      store,
		Gate:       gate,
		Dispatcher: dispatcher,
		Checks:     checks,
		Metrics:    m,
		Gatherer:   reg,
		Logger:     logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	logger.Info("lockerd started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"namespaces", len(cfg.Namespaces),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", "err", runErr)
	}

	// Graceful shutdown.
	health.Shutdown()

	stopBridge()
	<-bridgeDone
	logger.Info("ingest bridge stopped")

	// WebSocket connections are hijacked and not tracked by http.Server.
	engine.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	if scheduler != nil {
		scheduler.Stop()
		logger.Info("archive scheduler stopped")
	}

	logger.Info("shutdown complete", "commands_in_flight", dispatcher.InFlight())
	return runErr
}
