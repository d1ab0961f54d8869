package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/statetrail/common/logger"
	"basegraph.app/statetrail/internal/metrics"
	"basegraph.app/statetrail/internal/model"
	"basegraph.app/statetrail/internal/store"
)

// MetricsQuery selects the cohort and the tracked states. Empty fields fall
// back to all issues and the configured tracked states.
type MetricsQuery struct {
	TrackedStates []string
	CurrentState  string
	Visited       []string
}

type TransitionReport struct {
	TrackedStates []string
	CohortSize    int
	Transitions   map[string]model.TransitionMetric
}

type MetricsService interface {
	Transitions(ctx context.Context, q MetricsQuery) (*TransitionReport, error)
	Stats(ctx context.Context) (*metrics.Summary, error)
}

type metricsService struct {
	issues        store.IssueStore
	engine        *metrics.Engine
	trackedStates []string
}

func NewMetricsService(issues store.IssueStore, engine *metrics.Engine, trackedStates []string) MetricsService {
	if engine == nil {
		engine = metrics.NewEngine()
	}
	return &metricsService{
		issues:        issues,
		engine:        engine,
		trackedStates: trackedStates,
	}
}

func (s *metricsService) Transitions(ctx context.Context, q MetricsQuery) (*TransitionReport, error) {
	tracked := q.TrackedStates
	if len(tracked) == 0 {
		tracked = s.trackedStates
	}

	sc := logger.StartSpan(ctx, "metrics.compute_transitions",
		trace.WithAttributes(attribute.StringSlice("metrics.tracked_states", tracked)))
	defer sc.End()
	ctx = sc.Context()

	var (
		cohort []model.IssueRecord
		err    error
	)
	if q.CurrentState != "" {
		cohort, err = s.issues.ListByCurrentState(ctx, q.CurrentState)
	} else {
		cohort, err = s.issues.ListAll(ctx)
	}
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("loading cohort: %w", err)
	}
	cohort = metrics.FilterVisited(cohort, q.Visited)
	sc.SetAttributes(attribute.Int("metrics.cohort_size", len(cohort)))

	res := s.engine.Compute(cohort, tracked)
	return &TransitionReport{
		TrackedStates: tracked,
		CohortSize:    len(cohort),
		Transitions:   res.Transitions,
	}, nil
}

func (s *metricsService) Stats(ctx context.Context) (*metrics.Summary, error) {
	sc := logger.StartSpan(ctx, "metrics.stats")
	defer sc.End()

	cohort, err := s.issues.ListAll(sc.Context())
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("loading issues: %w", err)
	}
	summary := s.engine.Summarize(cohort, s.trackedStates)
	return &summary, nil
}
