package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/db"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/services"
)

// notify-bridge forwards transition events from Redis to the notification
// service, one request per recipient.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RedisURL == "" {
		log.Fatal("notify-bridge needs REDIS_URL")
	}
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	notifier := services.NewNotificationClient(cfg.NotificationServiceURL, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	err = subscriber.SubscribeAll(ctx, func(event events.Event) {
		if len(events.Recipients(event)) == 0 {
			return
		}
		log.Info("forwarding event", zap.String("type", event.Type))
		_ = notifier.Notify(ctx, event)
	}, events.StreamEngagement, events.StreamSearchJob, events.StreamEscrow)
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
