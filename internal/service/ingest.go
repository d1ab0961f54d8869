package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/statetrail/common/logger"
	"basegraph.app/statetrail/internal/model"
	"basegraph.app/statetrail/internal/queue"
	"basegraph.app/statetrail/internal/store"
)

type IngestResult struct {
	Outcome    model.Outcome
	Identifier string
	Transition *model.StateTransition
	Published  bool
}

// IngestService applies validated webhook events to the issue store.
type IngestService interface {
	Ingest(ctx context.Context, event model.IssueEvent) (*IngestResult, error)
}

type ingestService struct {
	issues   store.IssueStore
	producer queue.Producer
	logger   *slog.Logger
}

func NewIngestService(issues store.IssueStore, producer queue.Producer, logger *slog.Logger) IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	if producer == nil {
		producer = queue.NewNoopProducer()
	}
	return &ingestService{
		issues:   issues,
		producer: producer,
		logger:   logger,
	}
}

func (s *ingestService) Ingest(ctx context.Context, event model.IssueEvent) (*IngestResult, error) {
	sc := logger.StartSpan(ctx, "ingest.apply_event",
		trace.WithAttributes(
			attribute.String("event.action", string(event.Action)),
			attribute.String("issue.identifier", event.Issue.Identifier),
		))
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		Action:    logger.Ptr(string(event.Action)),
		Component: "statetrail.ingest",
	})

	var (
		change model.Change
		err    error
	)
	switch event.Action {
	case model.ActionCreate:
		change, err = s.issues.CreateIssue(ctx, event.Issue)
	case model.ActionUpdate:
		change, err = s.issues.UpdateState(ctx, event.Update())
	default:
		s.logger.InfoContext(ctx, "ignoring webhook action")
		return &IngestResult{Outcome: model.OutcomeIgnored}, nil
	}
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("applying %s event: %w", event.Action, err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Identifier: logger.Ptr(event.Issue.Identifier),
		State:      logger.Ptr(event.Issue.StateName),
	})
	sc.SetAttributes(attribute.String("ingest.outcome", string(change.Outcome)))

	result := &IngestResult{
		Outcome:    change.Outcome,
		Identifier: event.Issue.Identifier,
		Transition: change.Transition,
	}
	if change.Transition == nil {
		s.logger.InfoContext(ctx, "event applied without state change", "outcome", change.Outcome, "title", logger.Truncate(event.Issue.Title, 80))
		return result, nil
	}

	// The write is committed; a publish failure must not fail the delivery.
	if err := s.producer.Publish(ctx, queue.NewTransitionMessage(*change.Transition, sc.TraceID())); err != nil {
		s.logger.WarnContext(ctx, "publishing transition failed", "error", err, "transition_id", change.Transition.ID)
	} else {
		result.Published = true
	}

	s.logger.InfoContext(ctx, "event applied",
		"outcome", change.Outcome,
		"from_state", change.Transition.FromState,
		"to_state", change.Transition.ToState)
	return result, nil
}
