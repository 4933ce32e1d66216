package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"envmon/internal/config"
	"envmon/internal/logger"
	"envmon/internal/monitor"
)

func main() {
	configPath := flag.String("config", os.Getenv("ENVMON_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		logger.Logger.Error().Err(err).Msg("monitor exited")
		os.Exit(1)
	}
	logger.Logger.Info().Msg("exited")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return monitor.New(cfg).Run(ctx)
}
