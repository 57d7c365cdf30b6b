package main

import (
	"context"
	"flag"

	"github.com/joho/godotenv"
	"github.com/you/mev-bot/internal/config"
	"github.com/you/mev-bot/internal/engine"
	"github.com/you/mev-bot/internal/metrics"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "force dry-run mode")
	flag.Parse()

	// optional .env for secrets referenced by the config
	_ = godotenv.Load()

	logger, err := engine.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if *dryRun {
		cfg.DryRun = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, logger)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize engine", zap.Error(err))
	}

	logger.Info("engine starting", zap.Bool("dry_run", cfg.DryRun))
	eng.Run(ctx)
}
