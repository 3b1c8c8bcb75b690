// Command receiver consumes entity item events into the projection and serves it.
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

	cfg, err := config.NewReceiver()
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
	if err := app.RunReceiver(ctx, cfg, logger); err != nil {
		logger.Error("receiver service failed", "err", err)
		os.Exit(1)
	}
}
