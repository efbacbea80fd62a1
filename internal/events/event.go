// Package events defines the exposure domain events. The bus itself lives in
// platform/events; its types are aliased here so modules need one import.
package events

import (
	"exposure_backend/platform/events"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Exposure Domain Events
// =============================================================================

// GroupCommitted is published after an exposure group document was written.
type GroupCommitted struct {
	BaseEvent
	OrganizationID     uuid.UUID `json:"organizationId"`
	GroupID            string    `json:"groupId"`
	GroupName          string    `json:"groupName"`
	Operation          string    `json:"operation"`
	SampleCount        int       `json:"sampleCount"`
	TopAgentKey        string    `json:"topAgentKey"`
	TopAgentName       string    `json:"topAgentName"`
	ExceedanceFraction float64   `json:"exceedanceFraction"`
	AIHARating         int       `json:"aihaRating"`
}

func (e GroupCommitted) EventName() string { return "exposure.group.committed" }

// GroupDeleted is published after a mutation left a group without rows.
type GroupDeleted struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	GroupID        string    `json:"groupId"`
	Operation      string    `json:"operation"`
}

func (e GroupDeleted) EventName() string { return "exposure.group.deleted" }

// JobFinished is published when a batch job or an undo settles its status.
type JobFinished struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	JobID          string    `json:"jobId"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	Failures       int64     `json:"failures"`
}

func (e JobFinished) EventName() string { return "exposure.job.finished" }

// =============================================================================
// Agent Directory Events
// =============================================================================

// AgentOELChanged is published when an agent's exposure limit is created or updated.
type AgentOELChanged struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	AgentKey       string    `json:"agentKey"`
	OEL            float64   `json:"oel"`
}

func (e AgentOELChanged) EventName() string { return "agents.oel.changed" }
