package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"basegraph.app/statetrail/common/id"
	"basegraph.app/statetrail/internal/model"
)

// maxUpdateAttempts bounds the read-decide-write cycle of UpdateState.
const maxUpdateAttempts = 3

type attemptFn func(ctx context.Context) (model.Change, error)

// retryOnConflict reruns fn while it reports ErrConcurrentUpdate. A fallback
// create that lost its insert race returns ErrConcurrentUpdate too, so the
// next attempt finds the row and takes the update path.
func retryOnConflict(ctx context.Context, fn attemptFn) (model.Change, error) {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var change model.Change
		change, err = fn(ctx)
		if !errors.Is(err, ErrConcurrentUpdate) {
			return change, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Change{}, ctxErr
		}
	}
	return model.Change{}, err
}

func newTransition(identifier, from, to string, kind model.TransitionKind, at time.Time) model.StateTransition {
	return model.StateTransition{
		ID:         id.New(),
		Identifier: identifier,
		FromState:  from,
		ToState:    to,
		Kind:       kind,
		OccurredAt: at.UTC(),
	}
}

func createdChange(rec model.IssueRecord) model.Change {
	t := newTransition(rec.Identifier, "", rec.CurrentState, model.TransitionKindCreated, rec.CreatedAt)
	return model.Change{Outcome: model.OutcomeCreated, Transition: &t}
}

func fallbackChange(rec model.IssueRecord) model.Change {
	t := newTransition(rec.Identifier, "", rec.CurrentState, model.TransitionKindFellBackToCreate, rec.LastUpdated)
	return model.Change{Outcome: model.OutcomeFellBackToCreate, Transition: &t}
}

func updatedChange(from string, rec model.IssueRecord) model.Change {
	t := newTransition(rec.Identifier, from, rec.CurrentState, model.TransitionKindUpdated, rec.LastUpdated)
	return model.Change{Outcome: model.OutcomeUpdated, Transition: &t}
}

func sortTransitions(ts []model.StateTransition) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].OccurredAt.Equal(ts[j].OccurredAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].OccurredAt.Before(ts[j].OccurredAt)
	})
}
