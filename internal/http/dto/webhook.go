package dto

type WebhookResponse struct {
	Status     string `json:"status"`
	Action     string `json:"action"`
	Message    string `json:"message"`
	Identifier string `json:"identifier,omitempty"`
}
