package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"basegraph.app/statetrail/internal/model"
)

// MemoryStore keeps records in process. Writes to one identifier are
// serialized by a per-identifier lock.
type MemoryStore struct {
	mu          sync.RWMutex
	issues      map[string]model.IssueRecord
	owners      map[string]string // tracker id -> identifier
	transitions map[string][]model.StateTransition

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		issues:      make(map[string]model.IssueRecord),
		owners:      make(map[string]string),
		transitions: make(map[string][]model.StateTransition),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) lock(identifier string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[identifier]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identifier] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *MemoryStore) CreateIssue(ctx context.Context, issue model.NewIssue) (model.Change, error) {
	if err := ctx.Err(); err != nil {
		return model.Change{}, err
	}
	unlock := s.lock(issue.Identifier)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[issue.Identifier]; ok {
		return model.Change{Outcome: model.OutcomeAlreadyExists}, nil
	}
	rec := issue.Record()
	if err := s.claimIDLocked(rec); err != nil {
		return model.Change{}, fmt.Errorf("creating issue %s: %w", issue.Identifier, err)
	}
	change := createdChange(rec)
	s.put(rec, *change.Transition)
	return change, nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, update model.StateUpdate) (model.Change, error) {
	if err := ctx.Err(); err != nil {
		return model.Change{}, err
	}
	unlock := s.lock(update.Identifier)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.issues[update.Identifier]
	if !ok {
		rec := update.FallbackRecord()
		if err := s.claimIDLocked(rec); err != nil {
			return model.Change{}, fmt.Errorf("updating issue %s: %w", update.Identifier, err)
		}
		change := fallbackChange(rec)
		s.put(rec, *change.Transition)
		return change, nil
	}

	next, changed := update.Apply(current)
	if !changed {
		return model.Change{Outcome: model.OutcomeUnchanged}, nil
	}
	change := updatedChange(current.CurrentState, next)
	s.put(next, *change.Transition)
	return change, nil
}

// claimIDLocked binds rec.ID to rec.Identifier. mu must be held.
func (s *MemoryStore) claimIDLocked(rec model.IssueRecord) error {
	if owner, ok := s.owners[rec.ID]; ok && owner != rec.Identifier {
		return fmt.Errorf("%w: id %s", ErrIDConflict, rec.ID)
	}
	s.owners[rec.ID] = rec.Identifier
	return nil
}

// put must be called with mu held.
func (s *MemoryStore) put(rec model.IssueRecord, t model.StateTransition) {
	s.issues[rec.Identifier] = rec
	s.transitions[rec.Identifier] = append(s.transitions[rec.Identifier], t)
}

func (s *MemoryStore) GetByIdentifier(ctx context.Context, identifier string) (*model.IssueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.issues[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	rec.StateHistory = rec.StateHistory.Clone()
	return &rec, nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]model.IssueRecord, error) {
	return s.list(func(model.IssueRecord) bool { return true }), nil
}

func (s *MemoryStore) ListByCurrentState(ctx context.Context, state string) ([]model.IssueRecord, error) {
	return s.list(func(r model.IssueRecord) bool { return r.CurrentState == state }), nil
}

func (s *MemoryStore) list(keep func(model.IssueRecord) bool) []model.IssueRecord {
	s.mu.RLock()
	out := make([]model.IssueRecord, 0, len(s.issues))
	for _, rec := range s.issues {
		if keep(rec) {
			rec.StateHistory = rec.StateHistory.Clone()
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].Identifier < out[j].Identifier
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

func (s *MemoryStore) ListTransitions(ctx context.Context, identifier string) ([]model.StateTransition, error) {
	s.mu.RLock()
	out := append([]model.StateTransition{}, s.transitions[identifier]...)
	s.mu.RUnlock()
	sortTransitions(out)
	return out, nil
}
