package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"paylink/internal/handler"
	"paylink/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	LinkHandler    *handler.LinkHandler
	WebhookHandler *handler.WebhookHandler
	AdminHandler   *handler.AdminHandler
	RedisClient    redis.UniversalClient
	NewRelicApp    *newrelic.Application
	Gatherer       prometheus.Gatherer
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.Correlation())
	router.Use(middleware.RequestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		// Merchant routes. Mutations honor Idempotency-Key.
		links := v1.Group("/links")
		links.Use(middleware.Idempotency(deps.RedisClient))
		{
			links.POST("", deps.LinkHandler.CreateLink)
			links.GET("/:id", deps.LinkHandler.GetLink)
			links.POST("/:id/open", deps.LinkHandler.OpenLink)
			links.POST("/:id/cancel", deps.LinkHandler.CancelLink)
			links.GET("/:id/events", deps.LinkHandler.ListEvents)
			links.GET("/:id/ledger", deps.LinkHandler.GetLedger)
			links.POST("/:id/hedera/transactions", deps.WebhookHandler.HederaTransaction)
		}

		// Provider callbacks. Replays are handled by the confirmation
		// engine itself, not the response cache.
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/stripe", deps.WebhookHandler.Stripe)
			webhooks.POST("/wise", deps.WebhookHandler.Wise)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/sync/run", deps.AdminHandler.RunSync)
			admin.POST("/sync/reset-failed", deps.AdminHandler.ResetFailed)
			admin.POST("/sync/backfill", deps.AdminHandler.Backfill)
			admin.POST("/ledger/reconcile", deps.AdminHandler.Reconcile)
			admin.GET("/ledger/:id/balance", deps.AdminHandler.Balance)
			admin.POST("/links/expire", deps.AdminHandler.ExpireLinks)
			admin.GET("/consistency", deps.AdminHandler.Consistency)
			admin.GET("/locks/:id", deps.AdminHandler.GetLock)
		}
	}

	return router
}
