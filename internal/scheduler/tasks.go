package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskUndoImport = "exposure.undo_import"

const TaskRemoveAgents = "exposure.remove_agents"

const TaskRecomputeGroups = "exposure.recompute_groups"

type UndoImportPayload struct {
	OrganizationID string `json:"organizationId"`
	JobID          string `json:"jobId"`
}

type AgentRemovalPayload struct {
	GroupID  string `json:"groupId"`
	AgentKey string `json:"agentKey"`
}

type RemoveAgentsPayload struct {
	OrganizationID string                `json:"organizationId"`
	Removals       []AgentRemovalPayload `json:"removals"`
}

type RecomputeGroupsPayload struct {
	OrganizationID string   `json:"organizationId"`
	GroupIDs       []string `json:"groupIds"`
	// Reason is logged by the worker, e.g. "oel-changed:lead".
	Reason string `json:"reason,omitempty"`
}

func NewUndoImportTask(payload UndoImportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskUndoImport, data), nil
}

func ParseUndoImportPayload(task *asynq.Task) (UndoImportPayload, error) {
	var payload UndoImportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return UndoImportPayload{}, err
	}
	return payload, nil
}

func NewRemoveAgentsTask(payload RemoveAgentsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRemoveAgents, data), nil
}

func ParseRemoveAgentsPayload(task *asynq.Task) (RemoveAgentsPayload, error) {
	var payload RemoveAgentsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RemoveAgentsPayload{}, err
	}
	return payload, nil
}

func NewRecomputeGroupsTask(payload RecomputeGroupsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecomputeGroups, data), nil
}

func ParseRecomputeGroupsPayload(task *asynq.Task) (RecomputeGroupsPayload, error) {
	var payload RecomputeGroupsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RecomputeGroupsPayload{}, err
	}
	return payload, nil
}
