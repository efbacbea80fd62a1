package transport

import "time"

// ── Requests ──────────────────────────────────────────────────────────────────

// UpsertAgentRequest sets an agent's display name and exposure limit.
type UpsertAgentRequest struct {
	Name string  `json:"name" validate:"required,min=1,max=200"`
	OEL  float64 `json:"oel" validate:"required,gt=0"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

// AgentResponse is an agent's entry in the directory.
type AgentResponse struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	OEL       float64   `json:"oel"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AgentListResponse lists an organization's agents.
type AgentListResponse struct {
	Items      []AgentResponse `json:"items"`
	DefaultOEL float64         `json:"defaultOel"`
}
