package model

import "time"

type TransitionKind string

const (
	TransitionKindCreated          TransitionKind = "created"
	TransitionKindUpdated          TransitionKind = "updated"
	TransitionKindFellBackToCreate TransitionKind = "fell_back_to_create"
)

// StateTransition is an append-only log entry written alongside every state
// change. Unlike StateHistory it keeps repeated visits to the same state.
type StateTransition struct {
	ID         int64          `json:"id,string"`
	Identifier string         `json:"identifier"`
	FromState  string         `json:"from_state,omitempty"`
	ToState    string         `json:"to_state"`
	Kind       TransitionKind `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// TransitionMetric aggregates the durations of one (From, To) state pair.
type TransitionMetric struct {
	From     string  `json:"from_state"`
	To       string  `json:"to_state"`
	Count    int     `json:"count"`
	AvgHours float64 `json:"avg_hours"`
	MinHours float64 `json:"min_hours"`
	MaxHours float64 `json:"max_hours"`
}
