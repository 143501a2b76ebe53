package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/http/handlers"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/rbac"
)

type Handlers struct {
	Auth        *handlers.AuthHandler
	Engagement  *handlers.EngagementHandler
	SearchJob   *handlers.SearchJobHandler
	Escrow      *handlers.EscrowHandler
	Arbitration *handlers.ArbitrationHandler
	Meta        *handlers.MetaHandler
	WS          *handlers.WSHub
}

// SetupRouter mounts every route. rdb may be nil, in which case requests are
// not rate limited.
func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	limit := func(c *fiber.Ctx) error { return c.Next() }
	if rdb != nil {
		limit = middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute)
	}

	// Public, limited per IP
	api.Post("/auth/assertion", limit, h.Auth.ExchangeAssertion)
	api.Get("/meta/tiers", limit, h.Meta.GetTiers)

	// The limiter follows auth so protected routes are limited per user.
	protected := api.Group("", middleware.AuthMiddleware(cfg, log), limit)
	perm := func(p string) fiber.Handler { return middleware.RequirePermission(cfg, p, log) }

	// Engagements
	protected.Post("/engagements", perm(rbac.PermCreateEngagement), h.Engagement.Create)
	protected.Get("/engagements", h.Engagement.List)
	protected.Get("/engagements/:id", h.Engagement.Get)
	protected.Post("/engagements/:id/propose", perm(rbac.PermNegotiate), h.Engagement.Propose)
	protected.Post("/engagements/:id/counter", perm(rbac.PermNegotiate), h.Engagement.Counter)
	protected.Post("/engagements/:id/edit", perm(rbac.PermNegotiate), h.Engagement.Edit)
	protected.Post("/engagements/:id/accept", perm(rbac.PermNegotiate), h.Engagement.Accept)
	protected.Post("/engagements/:id/reject", perm(rbac.PermNegotiate), h.Engagement.Reject)

	// Search jobs
	protected.Post("/search-jobs", perm(rbac.PermCreateSearchJob), h.SearchJob.Submit)
	protected.Get("/search-jobs", h.SearchJob.List)
	protected.Get("/search-jobs/:id", h.SearchJob.Get)
	protected.Post("/search-jobs/:id/request-payment", perm(rbac.PermManageSearchJob), h.SearchJob.RequestPayment)
	protected.Post("/search-jobs/:id/deposit", perm(rbac.PermManageSearchJob), h.SearchJob.PayDeposit)
	protected.Post("/search-jobs/:id/bids", perm(rbac.PermBid), h.SearchJob.SubmitBid)
	protected.Post("/search-jobs/:id/bids/withdraw", perm(rbac.PermBid), h.SearchJob.WithdrawBid)
	protected.Post("/search-jobs/:id/bids/:bidId/accept", perm(rbac.PermManageSearchJob), h.SearchJob.AcceptBid)
	protected.Post("/search-jobs/:id/evidence", perm(rbac.PermDeliver), h.SearchJob.SubmitEvidence)
	protected.Post("/search-jobs/:id/confirm", perm(rbac.PermManageSearchJob), h.SearchJob.Confirm)
	protected.Post("/search-jobs/:id/dispute", perm(rbac.PermManageSearchJob), h.SearchJob.Dispute)
	protected.Post("/search-jobs/:id/cancel", perm(rbac.PermManageSearchJob), h.SearchJob.Cancel)
	protected.Post("/search-jobs/:id/extensions", perm(rbac.PermDeliver), h.SearchJob.RequestExtension)
	protected.Post("/search-jobs/:id/extensions/:extId/resolve", perm(rbac.PermManageSearchJob), h.SearchJob.ResolveExtension)

	// Escrow
	protected.Get("/escrow/:id", perm(rbac.PermViewEscrow), h.Escrow.Get)

	// Arbitration
	admin := protected.Group("/admin", perm(rbac.PermArbitrate))
	admin.Get("/disputes", h.Arbitration.ListDisputes)
	admin.Get("/disputes/:id/history", h.Arbitration.History)
	admin.Post("/disputes/:id/decide", h.Arbitration.Decide)

	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WS.HandleWS))
}
