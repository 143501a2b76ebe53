package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/app"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/events"
	apphttp "github.com/rental-marketplace/backend/internal/http"
	"github.com/rental-marketplace/backend/internal/http/handlers"
	"github.com/rental-marketplace/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, true, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	// A single in-memory process has no separate worker or bridge.
	if a.InMemory() {
		log.Warn("running sweeps in-process")
		go a.RunSweeps(ctx, cfg, log)
		if cfg.NotificationServiceURL != "" {
			forwardNotifications(ctx, a.Subscriber, services.NewNotificationClient(cfg.NotificationServiceURL, log), log)
		}
	}

	wsHub := handlers.NewWSHub(cfg, a.Subscriber, log)
	wsHub.Start(ctx)

	server := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(server, cfg, log, a.Redis, apphttp.Handlers{
		Auth:        handlers.NewAuthHandler(cfg, log),
		Engagement:  handlers.NewEngagementHandler(a.Engagements, log),
		SearchJob:   handlers.NewSearchJobHandler(a.SearchJobs, a.Deadlines, log),
		Escrow:      handlers.NewEscrowHandler(a.Ledger, a.Engagements, a.SearchJobs, log),
		Arbitration: handlers.NewArbitrationHandler(a.Arbitration, log),
		Meta:        handlers.NewMetaHandler(a.Tiers),
		WS:          wsHub,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = server.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.Bool("in_memory", a.InMemory()))
	if err := server.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func forwardNotifications(ctx context.Context, sub events.Subscriber, notifier *services.NotificationClient, log *zap.Logger) {
	for _, stream := range []string{events.StreamEngagement, events.StreamSearchJob, events.StreamEscrow} {
		err := sub.Subscribe(ctx, stream, func(event events.Event) {
			go func() { _ = notifier.Notify(ctx, event) }()
		})
		if err != nil {
			log.Error("notification subscribe failed", zap.String("stream", stream), zap.Error(err))
		}
	}
}
