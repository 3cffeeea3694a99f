package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"loom/internal/config"
	"loom/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, cleanup, err := buildDaemon(cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap daemon: %v", err)
	}
	defer cleanup()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}
	defer d.Close()

	<-ctx.Done()
	logger.Info("loomd shutting down")
}
