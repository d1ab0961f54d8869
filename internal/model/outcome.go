package model

// Outcome is the reportable result of applying an event. None of these are
// errors; AlreadyExists and Unchanged are the idempotent no-op cases.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeAlreadyExists    Outcome = "already_exists"
	OutcomeUpdated          Outcome = "updated"
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeFellBackToCreate Outcome = "fell_back_to_create"
	OutcomeIgnored          Outcome = "ignored"
)

// Changed reports whether the outcome wrote a new state to the store.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeFellBackToCreate:
		return true
	}
	return false
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Change is what a store write reports: the outcome and, when state changed,
// the transition that was logged with it.
type Change struct {
	Outcome    Outcome
	Transition *StateTransition
}
