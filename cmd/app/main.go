package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Backtest/internal/di"
	"Backtest/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path (.yaml or .toml)")
	once := flag.Bool("once", false, "replay the configured strategies once and exit")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *once {
		cfg.Server.Enabled = false
		cfg.Queue.Enabled = false
	}

	log.Printf("env=%s feed=%s store=%s strategies=%d", cfg.Environment, cfg.Feed.Source, cfg.Results.Store, len(cfg.Strategies))

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run application (blocks until signal unless nothing is served)
	if err := app.Run(ctx); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
