package dto

import (
	"basegraph.app/statetrail/internal/metrics"
	"basegraph.app/statetrail/internal/model"
)

type TransitionMetricsResponse struct {
	Status        string                            `json:"status"`
	TrackedStates []string                          `json:"tracked_states"`
	CohortSize    int                               `json:"cohort_size"`
	Transitions   map[string]model.TransitionMetric `json:"transitions"`
}

type StatsResponse struct {
	Status string `json:"status"`
	metrics.Summary
}
