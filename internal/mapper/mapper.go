package mapper

import (
	"context"
	"fmt"

	"basegraph.app/statetrail/internal/model"
)

// EventMapper turns a raw webhook body into a validated event.
type EventMapper interface {
	Map(ctx context.Context, body []byte) (model.IssueEvent, error)
}

// ValidationError names the first payload field that is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

// WebhookBody is the inbound body. The schema endpoint is generated from it.
type WebhookBody struct {
	Action string       `json:"action" jsonschema:"required,description=create or update; other actions are acknowledged and ignored"`
	Data   IssuePayload `json:"data" jsonschema:"required"`
}

type IssuePayload struct {
	ID         string        `json:"id" jsonschema:"required"`
	Identifier string        `json:"identifier" jsonschema:"required,example=ENG-123"`
	Title      string        `json:"title" jsonschema:"required"`
	TeamID     string        `json:"teamId" jsonschema:"required"`
	Team       *TeamPayload  `json:"team" jsonschema:"required"`
	State      *StatePayload `json:"state" jsonschema:"required"`
	CreatedAt  string        `json:"createdAt,omitempty" jsonschema:"format=date-time,description=required for create"`
	UpdatedAt  string        `json:"updatedAt,omitempty" jsonschema:"format=date-time,description=required for update"`
}

type TeamPayload struct {
	Name string `json:"name" jsonschema:"required"`
}

type StatePayload struct {
	Name string `json:"name" jsonschema:"required"`
}
