// Command server boots the matching engine's HTTP surface: it loads
// configuration from the environment, opens the PostgreSQL persistence
// gateway, starts the snapshot loop, and serves the HTTP API until
// SIGINT/SIGTERM, mirroring the teacher's signal.NotifyContext shutdown
// pattern.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"matchcore/internal/config"
	"matchcore/internal/engine"
	"matchcore/internal/httpapi"
	"matchcore/internal/persistence"
	"matchcore/internal/snapshot"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database connection")
	}
	defer db.Close()

	gateway, err := persistence.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize persistence gateway")
	}
	defer gateway.Close()

	eng := engine.NewMatchingEngine(gateway)

	loop := &snapshot.Loop{
		Source:   eng,
		Sink:     snapshot.LogSink,
		Interval: cfg.SnapshotInterval,
		Depth:    cfg.DepthDefaultLevels,
		Workers:  cfg.SnapshotWorkerCount,
	}
	loop.Start(ctx)
	defer loop.Stop()

	srv := httpapi.NewServer(fmt.Sprintf(":%d", cfg.Port), cfg.APIKey, eng)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("http server exited with error")
	}

	log.Info().Msg("server stopped")
}
