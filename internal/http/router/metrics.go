package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/statetrail/internal/http/handler"
)

func MetricsRouter(rg *gin.RouterGroup, h *handler.MetricsHandler) {
	rg.GET("/metrics/transitions", h.Transitions)
	rg.GET("/stats", h.Stats)
}
