package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/room4-2/ordercall/app"
	"github.com/room4-2/ordercall/config"
	"github.com/room4-2/ordercall/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Configure(logging.Config{Level: cfg.LogLevel})
	logger := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}

	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("close failed")
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("server error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
