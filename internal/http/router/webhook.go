package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/statetrail/internal/http/handler/webhook"
)

func WebhookRouter(rg *gin.RouterGroup, h *webhook.LinearWebhookHandler) {
	rg.POST("/linear", h.HandleEvent)
}
