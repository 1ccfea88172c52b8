package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hl-oracle-maker/internal/app"
	"hl-oracle-maker/internal/config"
	"hl-oracle-maker/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to env file with wallet credentials")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer log.Sync()
	log.Info("config loaded",
		zap.String("path", *configPath),
		zap.String("market", cfg.Maker.Market),
		zap.Float64("order_size", cfg.Maker.OrderSize),
		zap.Float64("max_position", cfg.Maker.MaxPosition))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("quoting agent initialized", zap.String("market", cfg.Maker.Market))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("quoting agent terminated", zap.Error(err))
		os.Exit(1)
	}
}
