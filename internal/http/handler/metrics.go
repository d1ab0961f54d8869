package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/statetrail/common"
	"basegraph.app/statetrail/internal/http/dto"
	"basegraph.app/statetrail/internal/service"
)

type MetricsHandler struct {
	service service.MetricsService
}

func NewMetricsHandler(service service.MetricsService) *MetricsHandler {
	return &MetricsHandler{service: service}
}

// Transitions accepts states, current_state and visited query parameters.
// states and visited are comma separated.
func (h *MetricsHandler) Transitions(c *gin.Context) {
	ctx := c.Request.Context()

	q := service.MetricsQuery{
		TrackedStates: common.SplitList(c.Query("states")),
		CurrentState:  c.Query("current_state"),
		Visited:       common.SplitList(c.Query("visited")),
	}

	report, err := h.service.Transitions(ctx, q)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compute transition metrics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute metrics"})
		return
	}

	c.JSON(http.StatusOK, dto.TransitionMetricsResponse{
		Status:        "success",
		TrackedStates: report.TrackedStates,
		CohortSize:    report.CohortSize,
		Transitions:   report.Transitions,
	})
}

func (h *MetricsHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	summary, err := h.service.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compute stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{Status: "success", Summary: *summary})
}
