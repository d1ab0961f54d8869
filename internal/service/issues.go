package service

import (
	"context"

	"basegraph.app/statetrail/internal/model"
	"basegraph.app/statetrail/internal/store"
)

// IssueQueryService is the read side used by the reporting API.
type IssueQueryService interface {
	List(ctx context.Context) ([]model.IssueRecord, error)
	Get(ctx context.Context, identifier string) (*model.IssueRecord, error)
	ListByState(ctx context.Context, state string) ([]model.IssueRecord, error)
	Transitions(ctx context.Context, identifier string) ([]model.StateTransition, error)
}

type issueQueryService struct {
	issues store.IssueStore
}

func NewIssueQueryService(issues store.IssueStore) IssueQueryService {
	return &issueQueryService{issues: issues}
}

func (s *issueQueryService) List(ctx context.Context) ([]model.IssueRecord, error) {
	return s.issues.ListAll(ctx)
}

func (s *issueQueryService) Get(ctx context.Context, identifier string) (*model.IssueRecord, error) {
	return s.issues.GetByIdentifier(ctx, identifier)
}

func (s *issueQueryService) ListByState(ctx context.Context, state string) ([]model.IssueRecord, error) {
	return s.issues.ListByCurrentState(ctx, state)
}

// Transitions returns ErrNotFound for an unknown identifier rather than an
// empty log, so callers can tell the two apart.
func (s *issueQueryService) Transitions(ctx context.Context, identifier string) ([]model.StateTransition, error) {
	if _, err := s.issues.GetByIdentifier(ctx, identifier); err != nil {
		return nil, err
	}
	return s.issues.ListTransitions(ctx, identifier)
}
