package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"basegraph.app/statetrail/internal/model"
)

// sqliteTimeLayout is fixed width so that text order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type issueRow struct {
	bun.BaseModel `bun:"table:issues,alias:i"`

	ID           string `bun:"id,pk"`
	Identifier   string `bun:"identifier,unique,notnull"`
	TeamID       string `bun:"team_id,notnull"`
	TeamName     string `bun:"team_name"`
	Title        string `bun:"title"`
	CreatedAt    string `bun:"created_at,notnull"`
	StateHistory string `bun:"state_history,notnull"`
	CurrentState string `bun:"current_state,notnull"`
	LastUpdated  string `bun:"last_updated,notnull"`
}

type transitionRow struct {
	bun.BaseModel `bun:"table:issue_state_transitions,alias:t"`

	ID         int64  `bun:"id,pk"`
	Identifier string `bun:"identifier,notnull"`
	FromState  string `bun:"from_state,notnull"`
	ToState    string `bun:"to_state,notnull"`
	Kind       string `bun:"kind,notnull"`
	OccurredAt string `bun:"occurred_at,notnull"`
}

// SQLiteStore persists records through bun on SQLite. SQLite serializes
// writers, so the state guard on UPDATE is enough to detect a lost race.
type SQLiteStore struct {
	db *bun.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &SQLiteStore{db: bun.NewDB(sqlDB, sqlitedialect.New())}
	if err := s.Migrate(ctx); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*issueRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating issues table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*transitionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating transitions table: %w", err)
	}
	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*issueRow)(nil), "idx_issues_identifier", []string{"identifier"}},
		{(*issueRow)(nil), "idx_issues_current_state", []string{"current_state", "last_updated DESC"}},
		{(*transitionRow)(nil), "idx_issue_state_transitions_identifier", []string{"identifier", "occurred_at"}},
	}
	for _, idx := range indexes {
		q := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).IfNotExists()
		for _, col := range idx.columns {
			q = q.ColumnExpr(col)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue model.NewIssue) (model.Change, error) {
	rec := issue.Record()
	var change model.Change
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		inserted, err := insertIssueRow(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			change = model.Change{Outcome: model.OutcomeAlreadyExists}
			return nil
		}
		change = createdChange(rec)
		return insertTransitionRow(ctx, tx, *change.Transition)
	})
	if err != nil {
		return model.Change{}, fmt.Errorf("creating issue %s: %w", issue.Identifier, err)
	}
	return change, nil
}

func (s *SQLiteStore) UpdateState(ctx context.Context, update model.StateUpdate) (model.Change, error) {
	change, err := retryOnConflict(ctx, func(ctx context.Context) (model.Change, error) {
		return s.updateOnce(ctx, update)
	})
	if err != nil {
		return model.Change{}, fmt.Errorf("updating issue %s: %w", update.Identifier, err)
	}
	return change, nil
}

func (s *SQLiteStore) updateOnce(ctx context.Context, update model.StateUpdate) (model.Change, error) {
	var change model.Change
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := findIssueRow(ctx, tx, update.Identifier)
		if errors.Is(err, ErrNotFound) {
			rec := update.FallbackRecord()
			inserted, err := insertIssueRow(ctx, tx, rec)
			if err != nil {
				return err
			}
			if !inserted {
				return ErrConcurrentUpdate
			}
			change = fallbackChange(rec)
			return insertTransitionRow(ctx, tx, *change.Transition)
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
		res, err := tx.NewUpdate().
			Model((*issueRow)(nil)).
			Set("state_history = ?", string(history)).
			Set("current_state = ?", next.CurrentState).
			Set("last_updated = ?", formatTime(next.LastUpdated)).
			Set("title = ?", next.Title).
			Where("identifier = ?", next.Identifier).
			Where("current_state = ?", current.CurrentState).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConcurrentUpdate
		}
		change = updatedChange(current.CurrentState, next)
		return insertTransitionRow(ctx, tx, *change.Transition)
	})
	if err != nil {
		return model.Change{}, err
	}
	return change, nil
}

func (s *SQLiteStore) GetByIdentifier(ctx context.Context, identifier string) (*model.IssueRecord, error) {
	return findIssueRow(ctx, s.db, identifier)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]model.IssueRecord, error) {
	return s.listIssues(ctx, func(q *bun.SelectQuery) *bun.SelectQuery { return q })
}

func (s *SQLiteStore) ListByCurrentState(ctx context.Context, state string) ([]model.IssueRecord, error) {
	return s.listIssues(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("current_state = ?", state)
	})
}

func (s *SQLiteStore) listIssues(ctx context.Context, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]model.IssueRecord, error) {
	var rows []issueRow
	q := filter(s.db.NewSelect().Model(&rows)).
		OrderExpr("last_updated DESC").
		OrderExpr("identifier ASC")
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	out := make([]model.IssueRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, identifier string) ([]model.StateTransition, error) {
	var rows []transitionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("identifier = ?", identifier).
		OrderExpr("occurred_at ASC").
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	out := make([]model.StateTransition, 0, len(rows))
	for _, row := range rows {
		at, err := parseTime(row.OccurredAt)
		if err != nil {
			return nil, err
		}
		out = append(out, model.StateTransition{
			ID:         row.ID,
			Identifier: row.Identifier,
			FromState:  row.FromState,
			ToState:    row.ToState,
			Kind:       model.TransitionKind(row.Kind),
			OccurredAt: at,
		})
	}
	return out, nil
}

func findIssueRow(ctx context.Context, db bun.IDB, identifier string) (*model.IssueRecord, error) {
	row := new(issueRow)
	err := db.NewSelect().Model(row).Where("identifier = ?", identifier).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// insertIssueRow reports false when the identifier already exists. An id held
// by another identifier is ErrIDConflict.
func insertIssueRow(ctx context.Context, tx bun.Tx, rec model.IssueRecord) (bool, error) {
	if _, err := findIssueRow(ctx, tx, rec.Identifier); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	row, err := newIssueRow(rec)
	if err != nil {
		return false, err
	}
	res, err := tx.NewInsert().Model(row).On("CONFLICT (identifier) DO NOTHING").Exec(ctx)
	if err != nil {
		if isIDConstraint(err) {
			return false, fmt.Errorf("%w: id %s", ErrIDConflict, rec.ID)
		}
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func isIDConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey:
		return true
	case sqlite3.ErrConstraintUnique:
		return strings.Contains(sqliteErr.Error(), "issues.id")
	}
	return false
}

func insertTransitionRow(ctx context.Context, tx bun.Tx, t model.StateTransition) error {
	row := &transitionRow{
		ID:         t.ID,
		Identifier: t.Identifier,
		FromState:  t.FromState,
		ToState:    t.ToState,
		Kind:       string(t.Kind),
		OccurredAt: formatTime(t.OccurredAt),
	}
	_, err := tx.NewInsert().Model(row).Exec(ctx)
	return err
}

func newIssueRow(rec model.IssueRecord) (*issueRow, error) {
	history, err := json.Marshal(rec.StateHistory)
	if err != nil {
		return nil, fmt.Errorf("encoding state history: %w", err)
	}
	return &issueRow{
		ID:           rec.ID,
		Identifier:   rec.Identifier,
		TeamID:       rec.TeamID,
		TeamName:     rec.TeamName,
		Title:        rec.Title,
		CreatedAt:    formatTime(rec.CreatedAt),
		StateHistory: string(history),
		CurrentState: rec.CurrentState,
		LastUpdated:  formatTime(rec.LastUpdated),
	}, nil
}

func (r *issueRow) toModel() (model.IssueRecord, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.IssueRecord{}, err
	}
	lastUpdated, err := parseTime(r.LastUpdated)
	if err != nil {
		return model.IssueRecord{}, err
	}
	var history model.StateHistory
	if err := json.Unmarshal([]byte(r.StateHistory), &history); err != nil {
		return model.IssueRecord{}, fmt.Errorf("decoding state history of %s: %w", r.Identifier, err)
	}
	return model.IssueRecord{
		ID:           r.ID,
		Identifier:   r.Identifier,
		TeamID:       r.TeamID,
		TeamName:     r.TeamName,
		Title:        r.Title,
		CreatedAt:    createdAt,
		StateHistory: history,
		CurrentState: r.CurrentState,
		LastUpdated:  lastUpdated,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", value, err)
	}
	return t, nil
}
