package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tillbridge/tillbridge/internal/auth"
	"github.com/tillbridge/tillbridge/internal/checkpoint"
	"github.com/tillbridge/tillbridge/internal/config"
	"github.com/tillbridge/tillbridge/internal/db"
	"github.com/tillbridge/tillbridge/internal/engine"
	"github.com/tillbridge/tillbridge/internal/extract"
	"github.com/tillbridge/tillbridge/internal/httpapi"
	"github.com/tillbridge/tillbridge/internal/load"
	"github.com/tillbridge/tillbridge/internal/metrics"
	"github.com/tillbridge/tillbridge/internal/sched"
	"github.com/tillbridge/tillbridge/internal/status"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// connectionProbe refreshes the hub's endpoint states before each pass so the
// status API reflects reality even between failures.
func connectionProbe(pool *pgxpool.Pool, client *mongo.Client, hub *status.Hub) func(ctx context.Context) {
	return func(ctx context.Context) {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := pool.Ping(probeCtx); err != nil {
			log.Warn().Err(err).Msg("source database unreachable")
			hub.SetSource(status.ConnDisconnected)
		} else {
			hub.SetSource(status.ConnConnected)
		}

		if err := client.Ping(probeCtx, readpref.Primary()); err != nil {
			log.Warn().Err(err).Msg("target database unreachable")
			hub.SetTarget(status.ConnDisconnected)
		} else {
			hub.SetTarget(status.ConnConnected)
		}
	}
}

func main() {
	// .env is optional, for local runs.
	_ = godotenv.Load()

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "tillbridge").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load(env("TILLBRIDGE_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Str("device_id", cfg.DeviceID).Msg("configuration loaded")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Source database
	pool, err := db.OpenSource(rootCtx, cfg.Source.ConnectionString)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	// Target database
	client, err := db.OpenTarget(rootCtx, cfg.Target.ConnectionString, db.MongoTimeouts{
		Socket:          time.Duration(cfg.Target.SocketTimeoutSeconds) * time.Second,
		ServerSelection: time.Duration(cfg.Target.ServerSelectionTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mongo")
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	// Checkpoint table lives next to the data it tracks.
	checkpoints := checkpoint.NewStore(pool)
	if err := checkpoints.EnsureSchema(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure checkpoint schema")
	}

	hub := status.NewHub(cfg.DeviceID)
	hub.SetServer(status.ServerRunning)
	hub.SetSource(status.ConnConnected)
	hub.SetTarget(status.ConnConnected)
	hub.Successf("tillbridge started on device %s", cfg.DeviceID)

	eng := &engine.Engine{
		DeviceID:    cfg.DeviceID,
		Config:      cfg,
		Checkpoints: checkpoints,
		Target:      load.NewLoader(client.Database(cfg.Target.DatabaseName)),
		Extractors:  extract.All(pool),
		Hub:         hub,
		Metrics:     metrics.New(nil),
	}

	scheduler := sched.New(eng, cfg.Interval())
	scheduler.Hub = hub
	scheduler.Probe = connectionProbe(pool, client, hub)
	scheduler.SetEnabled(true)
	go scheduler.Run(rootCtx)

	// HTTP server setup
	api := &httpapi.Server{
		Cfg:         cfg,
		Hub:         hub,
		Extractors:  eng.Extractors,
		Checkpoints: checkpoints,
		Scheduler:   scheduler,
		Bulk:        eng,
		Lifetime:    rootCtx,
	}
	authCfg := auth.Cfg{HS256Secret: cfg.HTTP.JWTSecret}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Routes(authCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	hub.SetServer(status.ServerStopped)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
