package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/statetrail/internal/http/handler"
)

func IssueRouter(rg *gin.RouterGroup, h *handler.IssueHandler) {
	rg.GET("", h.List)
	// Catch-all so state names may contain "/".
	rg.GET("/state/*state", h.ListByState)
	rg.GET("/:identifier", h.Get)
	rg.GET("/:identifier/transitions", h.Transitions)
}
