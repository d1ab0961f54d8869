package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/statetrail/common/logger"
	"basegraph.app/statetrail/internal/http/dto"
	"basegraph.app/statetrail/internal/mapper"
	"basegraph.app/statetrail/internal/model"
	"basegraph.app/statetrail/internal/replay"
	"basegraph.app/statetrail/internal/service"
	"basegraph.app/statetrail/internal/signature"
	"basegraph.app/statetrail/internal/store"
)

// maxBodyBytes caps the webhook body read into memory.
const maxBodyBytes = 1 << 20

type LinearWebhookHandler struct {
	verifier    *signature.Verifier
	guard       replay.Guard
	mapper      mapper.EventMapper
	ingest      service.IngestService
	traceHeader string
}

func NewLinearWebhookHandler(verifier *signature.Verifier, guard replay.Guard, mapper mapper.EventMapper, ingest service.IngestService, traceHeader string) *LinearWebhookHandler {
	return &LinearWebhookHandler{
		verifier:    verifier,
		guard:       guard,
		mapper:      mapper,
		ingest:      ingest,
		traceHeader: traceHeader,
	}
}

func (h *LinearWebhookHandler) HandleEvent(c *gin.Context) {
	sc := logger.StartSpanFromTraceID(c.Request.Context(), c.GetHeader(h.traceHeader), "webhook.linear")
	defer sc.End()

	headers := signature.Headers{
		Signature: c.GetHeader(signature.HeaderSignature),
		MessageID: c.GetHeader(signature.HeaderID),
		Timestamp: c.GetHeader(signature.HeaderTimestamp),
	}
	ctx := logger.WithLogFields(sc.Context(), logger.LogFields{
		MessageID: logger.Ptr(headers.MessageID),
		Component: "statetrail.webhook",
	})

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.WarnContext(ctx, "webhook body too large", "limit_bytes", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	verified, err := h.verifier.VerifyRequest(body, headers)
	if err != nil {
		slog.WarnContext(ctx, "rejected webhook", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	if verified.Substituted {
		slog.WarnContext(ctx, "webhook timestamp missing, substituted current time; replay protection is off for this request")
	}

	claimed := false
	if h.guard != nil && headers.MessageID != "" {
		if err := h.guard.Claim(ctx, headers.MessageID); err != nil {
			if errors.Is(err, replay.ErrReplayed) {
				slog.WarnContext(ctx, "replayed webhook delivery")
				c.JSON(http.StatusConflict, gin.H{"error": "message already processed"})
				return
			}
			slog.ErrorContext(ctx, "replay check failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
			return
		}
		claimed = true
	}
	release := func() {
		if !claimed {
			return
		}
		if err := h.guard.Release(context.WithoutCancel(ctx), headers.MessageID); err != nil {
			slog.WarnContext(ctx, "failed to release message id", "error", err)
		}
	}

	event, err := h.mapper.Map(ctx, body)
	if err != nil {
		release()
		var verr *mapper.ValidationError
		if errors.As(err, &verr) {
			slog.WarnContext(ctx, "invalid webhook payload", "field", verr.Field, "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "field": verr.Field})
			return
		}
		slog.ErrorContext(ctx, "failed to map webhook payload", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid payload"})
		return
	}

	result, err := h.ingest.Ingest(ctx, event)
	if errors.Is(err, store.ErrIDConflict) {
		// Redelivery carries the same payload, so the claim is kept.
		slog.WarnContext(ctx, "issue id already bound to another identifier", "error", err, "issue_id", event.Issue.ID)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		release()
		sc.RecordError(err)
		slog.ErrorContext(ctx, "failed to process webhook event", "error", err, "action", event.Action)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, response(event, result))
}

func response(event model.IssueEvent, result *service.IngestResult) dto.WebhookResponse {
	resp := dto.WebhookResponse{
		Status:     "success",
		Action:     string(result.Outcome),
		Identifier: result.Identifier,
	}
	id := event.Issue.Identifier
	switch result.Outcome {
	case model.OutcomeCreated:
		resp.Message = fmt.Sprintf("Issue %s created", id)
	case model.OutcomeAlreadyExists:
		resp.Status = "info"
		resp.Message = fmt.Sprintf("Issue %s already exists", id)
	case model.OutcomeUpdated:
		resp.Message = fmt.Sprintf("Issue %s state updated", id)
	case model.OutcomeUnchanged:
		resp.Status = "info"
		resp.Message = fmt.Sprintf("Issue %s state unchanged", id)
	case model.OutcomeFellBackToCreate:
		resp.Message = fmt.Sprintf("Issue %s created from update", id)
	default:
		resp.Status = "info"
		resp.Message = fmt.Sprintf("Unhandled action type: %s", event.Action)
	}
	return resp
}
