package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/live-auction/internal/api"
	"github.com/jensholdgaard/live-auction/internal/auction"
	"github.com/jensholdgaard/live-auction/internal/auth"
	"github.com/jensholdgaard/live-auction/internal/clock"
	"github.com/jensholdgaard/live-auction/internal/config"
	"github.com/jensholdgaard/live-auction/internal/health"
	"github.com/jensholdgaard/live-auction/internal/leader"
	"github.com/jensholdgaard/live-auction/internal/store"
	"github.com/jensholdgaard/live-auction/internal/team"
	"github.com/jensholdgaard/live-auction/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/live-auction/internal/store/memory"
	_ "github.com/jensholdgaard/live-auction/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Telemetry.ServiceVersion = version

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	registry := auction.NewRegistry(repos, cfg.Bidding.WriteTimeout, logger, tp.TracerProvider, clk)
	arbiter, err := auction.NewArbiter(registry, cfg.Bidding, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating arbiter: %w", err)
	}
	status, err := auction.NewStatusController(registry, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating status controller: %w", err)
	}
	apiServer := api.NewServer(api.Services{
		Registry: registry,
		Arbiter:  arbiter,
		Status:   status,
		Notifier: auction.NewNotifier(registry, logger),
		Auth:     auth.NewService(repos.Accounts, repos.Teams, cfg.Auth, logger, tp.TracerProvider, clk),
		Teams:    team.NewManager(repos.Teams, logger, tp.TracerProvider),
	}, logger, tp.TracerProvider)

	// Health endpoints run on all replicas.
	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)
	healthMux := http.NewServeMux()
	healthHandler.Register(healthMux)
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.InfoContext(ctx, "starting health server", slog.Int("port", cfg.Server.HealthPort))
		if listenErr := healthServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "health server error", slog.Any("error", listenErr))
		}
	}()

	// serveAuthority is the work only the leader runs: it owns the
	// authoritative auction state and accepts bids.
	serveAuthority := func(ctx context.Context) {
		n, recoverErr := registry.Recover(ctx)
		if recoverErr != nil {
			logger.ErrorContext(ctx, "auction state recovery failed", slog.Any("error", recoverErr))
			cancel()
			return
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer,
			ReadHeaderTimeout: 10 * time.Second,
			// Streams end when leadership or the process ends.
			BaseContext: func(net.Listener) context.Context { return ctx },
		}
		serveErr := make(chan error, 1)
		go func() {
			serveErr <- srv.ListenAndServe()
		}()

		healthHandler.SetRole(health.RoleAuthority)
		logger.InfoContext(ctx, "auctiond is the bid authority",
			slog.String("version", version),
			slog.Int("port", cfg.Server.Port),
			slog.Int("players", n),
		)

		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "api server error", slog.Any("error", err))
			}
			cancel()
		}

		healthHandler.SetRole(health.RoleStandby)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown error", slog.Any("error", err))
		}
	}

	if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, leader.Callbacks{
		OnStartedLeading: serveAuthority,
		OnStoppedLeading: func() {
			logger.Info("no longer the bid authority, shutting down...")
			cancel()
		},
	}); leaderErr != nil {
		return fmt.Errorf("leader election: %w", leaderErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
