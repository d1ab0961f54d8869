package service

import (
	"log/slog"

	"basegraph.app/statetrail/internal/metrics"
	"basegraph.app/statetrail/internal/queue"
	"basegraph.app/statetrail/internal/store"
)

type Services struct {
	issues        store.IssueStore
	producer      queue.Producer
	engine        *metrics.Engine
	trackedStates []string
	logger        *slog.Logger
}

func NewServices(issues store.IssueStore, producer queue.Producer, trackedStates []string, logger *slog.Logger) *Services {
	return &Services{
		issues:        issues,
		producer:      producer,
		engine:        metrics.NewEngine(),
		trackedStates: trackedStates,
		logger:        logger,
	}
}

func (s *Services) Ingest() IngestService {
	return NewIngestService(s.issues, s.producer, s.logger)
}

func (s *Services) Issues() IssueQueryService {
	return NewIssueQueryService(s.issues)
}

func (s *Services) Metrics() MetricsService {
	return NewMetricsService(s.issues, s.engine, s.trackedStates)
}
