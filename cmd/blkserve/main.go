package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/blkio/internal/config"
	"github.com/danmuck/blkio/internal/observability"
	"github.com/danmuck/blkio/internal/target"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/blkserve/config.toml", "target config.toml")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	observability.InitLogger("blkserve", lvl)

	cfg, err := config.LoadTargetConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load target config")
	}
	log.Info().Str("path", *configPath).Msg("loaded target config")

	server, err := target.New(config.TargetServerConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build target")
	}
	if err := server.Listen(); err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info().
		Str("id", cfg.ID).
		Str("addr", server.Addr()).
		Str("admin", cfg.AdminAddr).
		Int("devices", len(cfg.Devices)).
		Msg("blkserve started")
	if err := server.Serve(ctx); err != nil {
		log.Fatal().Err(err).Msg("blkserve stopped")
	}
	log.Info().Msg("blkserve stopped")
}
