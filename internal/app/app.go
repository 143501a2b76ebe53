// Package app wires stores, collaborators and services for the binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/db"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/outbox"
	"github.com/rental-marketplace/backend/internal/repositories"
	"github.com/rental-marketplace/backend/internal/services"
)

type App struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Publisher  events.Publisher
	Subscriber events.Subscriber
	Tiers      models.TierCatalog

	Effects     *services.EffectDispatcher
	Ledger      *services.LedgerService
	Engagements *services.EngagementService
	SearchJobs  *services.SearchJobService
	Deadlines   *services.DeadlineService
	Arbitration *services.ArbitrationService
}

// InMemory reports whether state lives only in this process.
func (a *App) InMemory() bool { return a.Pool == nil }

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// Build connects to Postgres and Redis when configured and falls back to the
// in-memory stores, in-process locks and events otherwise.
func Build(ctx context.Context, cfg *config.Config, migrate bool, log *zap.Logger) (*App, error) {
	a := &App{}

	tiers := models.DefaultTiers()
	if cfg.TiersFile != "" {
		loaded, err := config.LoadTiers(cfg.TiersFile)
		if err != nil {
			return nil, fmt.Errorf("load tiers: %w", err)
		}
		tiers = loaded
	}
	a.Tiers = tiers

	var (
		engagements services.EngagementStore
		jobs        services.SearchJobStore
		escrow      services.EscrowStore
		audit       services.AuditStore
		txs         services.TxRunner
	)
	if cfg.PostgresDSN != "" {
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.Pool = pool
		if migrate {
			if err := db.RunMigrations(ctx, pool, os.DirFS(cfg.MigrationsDir), log); err != nil {
				a.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		engagements = repositories.NewEngagementRepo(pool)
		jobs = repositories.NewSearchJobRepo(pool)
		escrow = repositories.NewEscrowRepo(pool)
		audit = repositories.NewAuditRepo(pool)
		txs = repositories.NewTxManager(pool)
	} else {
		engagements = repositories.NewMemoryEngagementRepo()
		jobs = repositories.NewMemorySearchJobRepo()
		escrow = repositories.NewMemoryEscrowRepo()
		audit = repositories.NewMemoryAuditRepo()
		txs = repositories.NewMemoryTxManager()
	}

	var (
		locker lock.Locker
		queue  outbox.Queue
	)
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = rdb
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, log)
		queue = outbox.NewRedisQueue(rdb)
		a.Publisher = events.NewRedisPublisher(rdb, log)
		a.Subscriber = events.NewRedisSubscriber(rdb, log)
	} else {
		mem := events.NewMemoryPublisher()
		locker = lock.NewLocalLocker()
		queue = outbox.NewMemoryQueue()
		a.Publisher = mem
		a.Subscriber = mem
	}

	// Interfaces stay nil when a collaborator is not configured.
	var (
		gateway services.PaymentGateway
		booking services.BookingMaterializer
	)
	if cfg.PaymentGatewayURL != "" {
		gateway = services.NewPaymentClient(cfg.PaymentGatewayURL, log)
	}
	if cfg.BookingServiceURL != "" {
		booking = services.NewBookingClient(cfg.BookingServiceURL, log)
	}

	a.Effects = services.NewEffectDispatcher(gateway, booking, queue, a.Publisher, log)
	a.Effects.SetMaxAttempts(cfg.EffectMaxAttempts)
	a.Ledger = services.NewLedgerService(escrow, txs, locker, a.Effects, a.Publisher, log)
	a.Engagements = services.NewEngagementService(engagements, a.Ledger, a.Effects, locker, audit, a.Publisher, log)
	a.SearchJobs = services.NewSearchJobService(jobs, a.Ledger, tiers, locker, audit, a.Publisher, log)
	a.Deadlines = services.NewDeadlineService(jobs, a.SearchJobs, locker, audit, a.Publisher, log)
	a.Arbitration = services.NewArbitrationService(jobs, a.Ledger, locker, audit, a.Publisher, log)
	return a, nil
}

const drainBatch = 100

// RunSweeps forfeits overdue jobs and retries deferred effects on their
// configured intervals until ctx is done.
func (a *App) RunSweeps(ctx context.Context, cfg *config.Config, log *zap.Logger) {
	expiryTicker := time.NewTicker(cfg.ExpirySweepInterval)
	retryTicker := time.NewTicker(cfg.EffectRetryInterval)
	defer expiryTicker.Stop()
	defer retryTicker.Stop()

	for {
		select {
		case <-expiryTicker.C:
			n, err := a.Deadlines.Sweep(ctx, time.Now().UTC())
			if err != nil {
				log.Error("expiry sweep failed", zap.Error(err))
			}
			if n > 0 {
				log.Info("expiry sweep forfeited jobs", zap.Int("count", n))
			}
		case <-retryTicker.C:
			n, err := a.Effects.Drain(ctx, drainBatch)
			if err != nil {
				log.Error("effect drain failed", zap.Error(err))
			}
			if n > 0 {
				log.Info("deferred effects completed", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
