package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"basegraph.app/statetrail/internal/http/dto"
	"basegraph.app/statetrail/internal/service"
	"basegraph.app/statetrail/internal/store"
)

type IssueHandler struct {
	service service.IssueQueryService
}

func NewIssueHandler(service service.IssueQueryService) *IssueHandler {
	return &IssueHandler{service: service}
}

func (h *IssueHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	issues, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list issues", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list issues"})
		return
	}

	c.JSON(http.StatusOK, dto.IssueListResponse{
		Status: "success",
		Count:  len(issues),
		Issues: issues,
	})
}

func (h *IssueHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	identifier := c.Param("identifier")

	issue, err := h.service.Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get issue", "error", err, "identifier", identifier)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get issue"})
		return
	}

	c.JSON(http.StatusOK, dto.IssueResponse{Status: "success", Issue: issue})
}

func (h *IssueHandler) ListByState(c *gin.Context) {
	ctx := c.Request.Context()
	state := strings.TrimPrefix(c.Param("state"), "/")
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}

	issues, err := h.service.ListByState(ctx, state)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list issues by state", "error", err, "state", state)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list issues"})
		return
	}

	c.JSON(http.StatusOK, dto.StateIssuesResponse{
		Status: "success",
		State:  state,
		Count:  len(issues),
		Issues: issues,
	})
}

func (h *IssueHandler) Transitions(c *gin.Context) {
	ctx := c.Request.Context()
	identifier := c.Param("identifier")

	transitions, err := h.service.Transitions(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to list transitions", "error", err, "identifier", identifier)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transitions"})
		return
	}

	c.JSON(http.StatusOK, dto.TransitionLogResponse{
		Status:      "success",
		Identifier:  identifier,
		Count:       len(transitions),
		Transitions: transitions,
	})
}
