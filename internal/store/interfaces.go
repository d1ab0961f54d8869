package store

import (
	"context"
	"errors"

	"basegraph.app/statetrail/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConcurrentUpdate is returned when a write lost a race against another
// writer for the same identifier and retries were exhausted.
var ErrConcurrentUpdate = errors.New("concurrent update")

// ErrIDConflict is returned when a write carries a tracker id that is
// already stored under a different identifier. Retrying cannot succeed.
var ErrIDConflict = errors.New("issue id is bound to another identifier")

// IssueStore defines the contract for issue state history. Every method is a
// single atomic unit.
type IssueStore interface {
	// CreateIssue inserts the record built from issue. An existing identifier
	// yields OutcomeAlreadyExists and leaves the stored record untouched. An id
	// held by another identifier yields ErrIDConflict.
	CreateIssue(ctx context.Context, issue model.NewIssue) (model.Change, error)
	// UpdateState applies update, creating the record from update.Issue when
	// the identifier is unknown.
	UpdateState(ctx context.Context, update model.StateUpdate) (model.Change, error)
	GetByIdentifier(ctx context.Context, identifier string) (*model.IssueRecord, error)
	// ListAll returns every record, most recently updated first.
	ListAll(ctx context.Context) ([]model.IssueRecord, error)
	// ListByCurrentState matches state exactly, most recently updated first.
	ListByCurrentState(ctx context.Context, state string) ([]model.IssueRecord, error)
	// ListTransitions returns the transition log of identifier, oldest first.
	ListTransitions(ctx context.Context, identifier string) ([]model.StateTransition, error)
}
