// Command sender runs the entity item API and publishes its outbox to the broker.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/oagudo/outboxsync/internal/app"
	"github.com/oagudo/outboxsync/internal/config"
)

func main() {
	// Config
	if _, err := os.Stat(".env"); err == nil {
		err = godotenv.Load()
		if err != nil {
			log.Fatalf("config error: %s", err)
		}
	}

	cfg, err := config.NewSender()
	if err != nil {
		log.Fatalf("config error: %s", err)
	}

	logger, err := cfg.Log.NewLogger(os.Stdout)
	if err != nil {
		log.Fatalf("config error: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run
	if err := app.RunSender(ctx, cfg, logger); err != nil {
		logger.Error("sender service failed", "err", err)
		os.Exit(1)
	}
}
