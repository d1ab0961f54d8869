package mapper

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"basegraph.app/statetrail/internal/model"
)

type LinearEventMapper struct{}

func NewLinearEventMapper() *LinearEventMapper {
	return &LinearEventMapper{}
}

type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func (m *LinearEventMapper) Map(ctx context.Context, body []byte) (model.IssueEvent, error) {
	env, err := unwrap(body)
	if err != nil {
		return model.IssueEvent{}, err
	}

	action := model.Action(env.Action)
	if action != model.ActionCreate && action != model.ActionUpdate {
		return model.IssueEvent{Action: action}, nil
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return model.IssueEvent{}, missing("data")
	}
	var p IssuePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return model.IssueEvent{}, &ValidationError{Field: "data", Reason: "is not a valid issue object"}
	}
	return toEvent(action, p)
}

// unwrap accepts {action, data} and the relayed form {data: {action, data}}.
func unwrap(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, &ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	if env.Action != "" || len(env.Data) == 0 {
		return env, nil
	}

	var inner envelope
	if err := json.Unmarshal(env.Data, &inner); err == nil && inner.Action != "" {
		return inner, nil
	}
	return env, nil
}

func toEvent(action model.Action, p IssuePayload) (model.IssueEvent, error) {
	required := []struct {
		field string
		value string
	}{
		{"id", p.ID},
		{"identifier", p.Identifier},
		{"title", p.Title},
		{"teamId", p.TeamID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return model.IssueEvent{}, missing(r.field)
		}
	}
	if p.Team == nil || p.Team.Name == "" {
		return model.IssueEvent{}, missing("team.name")
	}
	if p.State == nil || p.State.Name == "" {
		return model.IssueEvent{}, missing("state.name")
	}

	ev := model.IssueEvent{
		Action: action,
		Issue: model.NewIssue{
			ID:         p.ID,
			Identifier: p.Identifier,
			TeamID:     p.TeamID,
			TeamName:   p.Team.Name,
			Title:      p.Title,
			StateName:  p.State.Name,
		},
	}

	var err error
	switch action {
	case model.ActionCreate:
		if ev.Issue.CreatedAt, err = parseTimestamp("createdAt", p.CreatedAt, true); err != nil {
			return model.IssueEvent{}, err
		}
	case model.ActionUpdate:
		if ev.UpdatedAt, err = parseTimestamp("updatedAt", p.UpdatedAt, true); err != nil {
			return model.IssueEvent{}, err
		}
		// createdAt is optional on updates; it seeds a fallback create.
		if ev.Issue.CreatedAt, err = parseTimestamp("createdAt", p.CreatedAt, false); err != nil {
			return model.IssueEvent{}, err
		}
	}
	return ev, nil
}

func parseTimestamp(field, value string, required bool) (time.Time, error) {
	if value == "" {
		if required {
			return time.Time{}, missing(field)
		}
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}
