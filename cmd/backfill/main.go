// Command backfill walks the full transaction history into the target once
// and exits. Interrupting it is safe; the next run resumes from the last
// completed week.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/checkpoint"
	"github.com/tillbridge/tillbridge/internal/config"
	"github.com/tillbridge/tillbridge/internal/db"
	"github.com/tillbridge/tillbridge/internal/engine"
	"github.com/tillbridge/tillbridge/internal/extract"
	"github.com/tillbridge/tillbridge/internal/load"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (JSON)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Parse()

	// .env is optional, for local runs.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.With().Str("service", "tillbridge-backfill").Logger()
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	path := *configPath
	if path == "" {
		path = env("TILLBRIDGE_CONFIG", "")
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.OpenSource(ctx, cfg.Source.ConnectionString)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	client, err := db.OpenTarget(ctx, cfg.Target.ConnectionString, db.MongoTimeouts{
		Socket:          time.Duration(cfg.Target.SocketTimeoutSeconds) * time.Second,
		ServerSelection: time.Duration(cfg.Target.ServerSelectionTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mongo")
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	checkpoints := checkpoint.NewStore(pool)
	if err := checkpoints.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure checkpoint schema")
	}

	eng := &engine.Engine{
		DeviceID:    cfg.DeviceID,
		Config:      cfg,
		Checkpoints: checkpoints,
		Target:      load.NewLoader(client.Database(cfg.Target.DatabaseName)),
		Extractors:  extract.All(pool),
	}

	res, err := eng.BackfillTransactions(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("backfill failed")
	}

	log.Info().
		Int("synced", res.Synced).
		Dur("elapsed", res.Duration).
		Msg("backfill finished")
}
