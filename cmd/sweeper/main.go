package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngenohkevin/circulation/internal/config"
	"github.com/ngenohkevin/circulation/internal/database"
	"github.com/ngenohkevin/circulation/internal/database/postgres"
	"github.com/ngenohkevin/circulation/internal/events"
	"github.com/ngenohkevin/circulation/internal/services"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	policy := cfg.Policy.ToPolicy()

	// Initialize database connection
	db, err := database.New(cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize Redis connection
	redis, err := database.NewRedis(cfg)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redis.Close()

	// Initialize store, publisher and services
	store := postgres.New(db.Pool)
	publisher := events.NewRedisPublisher(redis.Client, cfg.Redis.Stream)

	registry := services.NewCopyRegistry(store, publisher, logger)
	reservations := services.NewReservationService(store, registry, publisher, policy, logger)
	ledger := services.NewBorrowingLedger(store, registry, reservations, publisher, policy, logger)

	// The lending entry points are a library API consumed by the hosting
	// transport layer; this binary drives the time-based sweeps.
	sweeper := services.NewSweeper(ledger, reservations, cfg.Sweeper.Interval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run the maintenance sweeper in the background
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	slog.Info("Circulation core started", "sweep_interval", cfg.Sweeper.Interval)

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down...")

	cancel()
	<-done

	slog.Info("Circulation core exited")
}
