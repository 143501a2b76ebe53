package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/app"
	"github.com/rental-marketplace/backend/internal/config"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, false, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()
	if a.InMemory() {
		log.Fatal("worker needs POSTGRES_DSN; in-memory state is only visible to the API process")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	log.Info("worker started",
		zap.Duration("expiry_interval", cfg.ExpirySweepInterval),
		zap.Duration("retry_interval", cfg.EffectRetryInterval),
	)
	a.RunSweeps(ctx, cfg, log)
}
