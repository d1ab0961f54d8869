package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"basegraph.app/statetrail/core/db"
	"basegraph.app/statetrail/internal/model"
)

const (
	uniqueViolation  = "23505"
	issuesPrimaryKey = "issues_pkey"
)

const issueColumns = `id, identifier, team_id, team_name, title, created_at, state_history, current_state, last_updated`

// PostgresStore persists records through pgx. UpdateState locks the row with
// SELECT ... FOR UPDATE and guards the write with the state it read.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) CreateIssue(ctx context.Context, issue model.NewIssue) (model.Change, error) {
	rec := issue.Record()
	var change model.Change
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		inserted, err := insertIssue(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			change = model.Change{Outcome: model.OutcomeAlreadyExists}
			return nil
		}
		change = createdChange(rec)
		return insertTransition(ctx, tx, *change.Transition)
	})
	if err != nil {
		return model.Change{}, fmt.Errorf("creating issue %s: %w", issue.Identifier, err)
	}
	return change, nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, update model.StateUpdate) (model.Change, error) {
	change, err := retryOnConflict(ctx, func(ctx context.Context) (model.Change, error) {
		return s.updateOnce(ctx, update)
	})
	if err != nil {
		return model.Change{}, fmt.Errorf("updating issue %s: %w", update.Identifier, err)
	}
	return change, nil
}

func (s *PostgresStore) updateOnce(ctx context.Context, update model.StateUpdate) (model.Change, error) {
	var change model.Change
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE identifier = $1 FOR UPDATE`, update.Identifier)
		current, err := scanIssue(row)
		if errors.Is(err, ErrNotFound) {
			rec := update.FallbackRecord()
			inserted, err := insertIssue(ctx, tx, rec)
			if err != nil {
				return err
			}
			if !inserted {
				return ErrConcurrentUpdate
			}
			change = fallbackChange(rec)
			return insertTransition(ctx, tx, *change.Transition)
		}
		if err != nil {
			return err
		}

		next, changed := update.Apply(*current)
		if !changed {
			change = model.Change{Outcome: model.OutcomeUnchanged}
			return nil
		}

		history, err := json.Marshal(next.StateHistory)
		if err != nil {
			return fmt.Errorf("encoding state history: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE issues
			SET state_history = $2, current_state = $3, last_updated = $4, title = $5
			WHERE identifier = $1 AND current_state = $6`,
			next.Identifier, history, next.CurrentState, next.LastUpdated, next.Title, current.CurrentState)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentUpdate
		}
		change = updatedChange(current.CurrentState, next)
		return insertTransition(ctx, tx, *change.Transition)
	})
	if err != nil {
		return model.Change{}, err
	}
	return change, nil
}

func (s *PostgresStore) GetByIdentifier(ctx context.Context, identifier string) (*model.IssueRecord, error) {
	row := s.db.Pool().QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE identifier = $1`, identifier)
	return scanIssue(row)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]model.IssueRecord, error) {
	return s.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY last_updated DESC, identifier`)
}

func (s *PostgresStore) ListByCurrentState(ctx context.Context, state string) ([]model.IssueRecord, error) {
	return s.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE current_state = $1 ORDER BY last_updated DESC, identifier`, state)
}

func (s *PostgresStore) ListTransitions(ctx context.Context, identifier string) ([]model.StateTransition, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, identifier, from_state, to_state, kind, occurred_at
		FROM issue_state_transitions
		WHERE identifier = $1
		ORDER BY occurred_at, id`, identifier)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	defer rows.Close()

	out := []model.StateTransition{}
	for rows.Next() {
		var t model.StateTransition
		var kind string
		if err := rows.Scan(&t.ID, &t.Identifier, &t.FromState, &t.ToState, &kind, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		t.Kind = model.TransitionKind(kind)
		t.OccurredAt = t.OccurredAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) queryIssues(ctx context.Context, query string, args ...any) ([]model.IssueRecord, error) {
	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	out := []model.IssueRecord{}
	for rows.Next() {
		rec, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// insertIssue reports false when the identifier already exists. An id held by
// another identifier is ErrIDConflict.
func insertIssue(ctx context.Context, tx pgx.Tx, rec model.IssueRecord) (bool, error) {
	history, err := json.Marshal(rec.StateHistory)
	if err != nil {
		return false, fmt.Errorf("encoding state history: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identifier) DO NOTHING`,
		rec.ID, rec.Identifier, rec.TeamID, rec.TeamName, rec.Title,
		rec.CreatedAt, history, rec.CurrentState, rec.LastUpdated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == issuesPrimaryKey {
			return false, fmt.Errorf("%w: id %s", ErrIDConflict, rec.ID)
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func insertTransition(ctx context.Context, tx pgx.Tx, t model.StateTransition) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO issue_state_transitions (id, identifier, from_state, to_state, kind, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Identifier, t.FromState, t.ToState, string(t.Kind), t.OccurredAt)
	return err
}

func scanIssue(row pgx.Row) (*model.IssueRecord, error) {
	var rec model.IssueRecord
	var history []byte
	err := row.Scan(&rec.ID, &rec.Identifier, &rec.TeamID, &rec.TeamName, &rec.Title,
		&rec.CreatedAt, &history, &rec.CurrentState, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(history, &rec.StateHistory); err != nil {
		return nil, fmt.Errorf("decoding state history of %s: %w", rec.Identifier, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastUpdated = rec.LastUpdated.UTC()
	return &rec, nil
}
