package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/statetrail/internal/http/handler"
	"basegraph.app/statetrail/internal/http/handler/webhook"
	"basegraph.app/statetrail/internal/mapper"
	"basegraph.app/statetrail/internal/replay"
	"basegraph.app/statetrail/internal/service"
	"basegraph.app/statetrail/internal/signature"
)

type RouterConfig struct {
	APIKey      string
	TraceHeader string
	Verifier    *signature.Verifier
	ReplayGuard replay.Guard
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/schema/webhook", handler.WebhookSchema)

	linearHandler := webhook.NewLinearWebhookHandler(cfg.Verifier, cfg.ReplayGuard, mapper.NewLinearEventMapper(), services.Ingest(), cfg.TraceHeader)
	WebhookRouter(router.Group("/webhooks"), linearHandler)

	v1 := router.Group("/api/v1")
	v1.Use(handler.RequireAPIKey(cfg.APIKey))
	{
		issueHandler := handler.NewIssueHandler(services.Issues())
		IssueRouter(v1.Group("/issues"), issueHandler)

		metricsHandler := handler.NewMetricsHandler(services.Metrics())
		MetricsRouter(v1, metricsHandler)
	}
}
