package model

import (
	"sort"
	"time"
)

// StateHistory maps a state name to the most recent time the issue was
// observed entering it. Revisiting a state overwrites the earlier timestamp.
// Timestamps keep the UTC offset they were received with.
type StateHistory map[string]time.Time

// StateAt is a single (state, timestamp) observation.
type StateAt struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

func (h StateHistory) Clone() StateHistory {
	out := make(StateHistory, len(h))
	for state, at := range h {
		out[state] = at
	}
	return out
}

// Entries returns the history as a slice ordered by timestamp, ties broken by
// state name so the result is stable for display.
func (h StateHistory) Entries() []StateAt {
	out := make([]StateAt, 0, len(h))
	for state, at := range h {
		out = append(out, StateAt{State: state, At: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].State < out[j].State
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Visited reports whether any of the given states appears in the history.
func (h StateHistory) Visited(states map[string]struct{}) bool {
	for state := range h {
		if _, ok := states[state]; ok {
			return true
		}
	}
	return false
}

type IssueRecord struct {
	ID           string       `json:"id"`
	Identifier   string       `json:"identifier"`
	TeamID       string       `json:"team_id"`
	TeamName     string       `json:"team_name"`
	Title        string       `json:"title"`
	CreatedAt    time.Time    `json:"created_at"`
	StateHistory StateHistory `json:"state_history"`
	CurrentState string       `json:"current_state"`
	LastUpdated  time.Time    `json:"last_updated"`
}

// NewIssue carries the fields needed to create a record from a create event.
type NewIssue struct {
	ID         string
	Identifier string
	TeamID     string
	TeamName   string
	Title      string
	StateName  string
	CreatedAt  time.Time
}

// Record builds the initial record: a single history entry for the initial
// state at CreatedAt.
func (n NewIssue) Record() IssueRecord {
	return IssueRecord{
		ID:           n.ID,
		Identifier:   n.Identifier,
		TeamID:       n.TeamID,
		TeamName:     n.TeamName,
		Title:        n.Title,
		CreatedAt:    n.CreatedAt.UTC(),
		StateHistory: StateHistory{n.StateName: n.CreatedAt},
		CurrentState: n.StateName,
		LastUpdated:  n.CreatedAt.UTC(),
	}
}

// StateUpdate is an update event applied to the record with Identifier.
// Issue seeds the record when the identifier is unknown.
type StateUpdate struct {
	Identifier string
	StateName  string
	Title      string
	UpdatedAt  time.Time
	Issue      NewIssue
}

// FallbackRecord builds the record for an update whose identifier is unknown.
// Only the updated state is recorded; no earlier states are invented.
func (u StateUpdate) FallbackRecord() IssueRecord {
	seed := u.Issue
	seed.Identifier = u.Identifier
	seed.StateName = u.StateName
	seed.Title = u.Title
	rec := seed.Record()

	rec.StateHistory = StateHistory{u.StateName: u.UpdatedAt}
	rec.LastUpdated = u.UpdatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = u.UpdatedAt.UTC()
	}
	return rec
}

// Apply returns the record after the update and whether anything changed. A
// repeat of the current state changes nothing, not even LastUpdated.
func (u StateUpdate) Apply(current IssueRecord) (IssueRecord, bool) {
	if current.CurrentState == u.StateName {
		return current, false
	}
	next := current
	next.StateHistory = current.StateHistory.Clone()
	next.StateHistory[u.StateName] = u.UpdatedAt
	next.CurrentState = u.StateName
	next.LastUpdated = u.UpdatedAt.UTC()
	next.Title = u.Title
	return next, true
}

// IssueEvent is a validated inbound event. For unknown actions only Action is
// set.
type IssueEvent struct {
	Action    Action
	Issue     NewIssue
	UpdatedAt time.Time
}

// Update converts an update event into the store's input. Issue.CreatedAt may
// be zero, in which case a fallback create uses UpdatedAt.
func (e IssueEvent) Update() StateUpdate {
	return StateUpdate{
		Identifier: e.Issue.Identifier,
		StateName:  e.Issue.StateName,
		Title:      e.Issue.Title,
		UpdatedAt:  e.UpdatedAt,
		Issue:      e.Issue,
	}
}
