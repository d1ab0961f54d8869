package dto

import "basegraph.app/statetrail/internal/model"

type IssueListResponse struct {
	Status string              `json:"status"`
	Count  int                 `json:"count"`
	Issues []model.IssueRecord `json:"issues"`
}

type IssueResponse struct {
	Status string             `json:"status"`
	Issue  *model.IssueRecord `json:"issue"`
}

type StateIssuesResponse struct {
	Status string              `json:"status"`
	State  string              `json:"state"`
	Count  int                 `json:"count"`
	Issues []model.IssueRecord `json:"issues"`
}

type TransitionLogResponse struct {
	Status      string                  `json:"status"`
	Identifier  string                  `json:"identifier"`
	Count       int                     `json:"count"`
	Transitions []model.StateTransition `json:"transitions"`
}
