package transport

import "exposure_backend/internal/exposure/domain"

// ── Requests ──────────────────────────────────────────────────────────────────

// ImportGroup is one exposure group of an import batch.
type ImportGroup struct {
	Name    string             `json:"name" validate:"required,max=300"`
	Samples []domain.RawSample `json:"samples" validate:"required,min=1"`
}

// ImportBatchRequest is one batch of a possibly chunked import. Batches of the
// same import share JobID.
type ImportBatchRequest struct {
	JobID  string        `json:"jobId" validate:"omitempty,max=100,excludesall=:/"`
	Groups []ImportGroup `json:"groups" validate:"required,min=1,dive"`
}

// AgentRemoval names one agent to strip from one group.
type AgentRemoval struct {
	GroupID  string `json:"groupId" validate:"required"`
	AgentKey string `json:"agentKey" validate:"required,max=120"`
}

// RemoveAgentsRequest removes agents from groups.
type RemoveAgentsRequest struct {
	Removals []AgentRemoval `json:"removals" validate:"required,min=1,dive"`
}

// DeleteSamplesRequest deletes the rows of one group matched by any criterion.
type DeleteSamplesRequest struct {
	Criteria []domain.DeletionCriterion `json:"criteria" validate:"required,min=1"`
}

// RecomputeRequest forces recomputation of the listed groups.
type RecomputeRequest struct {
	GroupIDs []string `json:"groupIds" validate:"required,min=1,max=1000,dive,required"`
}

// ListAuditRequest filters the audit log.
type ListAuditRequest struct {
	GroupID string `form:"groupId"`
	Limit   int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

// GroupError reports one group that failed inside a batch.
type GroupError struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName,omitempty"`
	Error     string `json:"error"`
}

// ImportBatchResponse reports one processed import batch.
type ImportBatchResponse struct {
	OK              bool         `json:"ok"`
	JobID           string       `json:"jobId"`
	RowsWritten     int64        `json:"rowsWritten"`
	GroupsProcessed int64        `json:"groupsProcessed"`
	Failures        int64        `json:"failures"`
	Status          string       `json:"status"`
	Errors          []GroupError `json:"errors"`
}

// UndoImportResponse reports a finished undo.
type UndoImportResponse struct {
	OK             bool         `json:"ok"`
	JobID          string       `json:"jobId"`
	RevertedGroups int64        `json:"revertedGroups"`
	Removed        int64        `json:"removed"`
	Restored       int64        `json:"restored"`
	GroupsDeleted  int64        `json:"groupsDeleted"`
	Failures       int64        `json:"failures"`
	Legacy         bool         `json:"legacy"`
	Status         string       `json:"status"`
	Errors         []GroupError `json:"errors"`
}

// RemoveAgentsResponse reports an agent removal batch.
type RemoveAgentsResponse struct {
	OK            bool         `json:"ok"`
	JobID         string       `json:"jobId"`
	RemovedAgents int64        `json:"removedAgents"`
	GroupsDeleted int64        `json:"groupsDeleted"`
	Failures      int64        `json:"failures"`
	Status        string       `json:"status"`
	Errors        []GroupError `json:"errors"`
}

// Deletion statuses.
const (
	DeletionStatusDeleted      = "deleted"
	DeletionStatusPartial      = "partial"
	DeletionStatusNotFound     = "not_found"
	DeletionStatusGroupDeleted = "group_deleted"
)

// DeleteSamplesResponse reports a sample deletion.
type DeleteSamplesResponse struct {
	Removed int    `json:"removed"`
	Status  string `json:"status"`
	// NotFound holds the indexes of criteria that matched no row.
	NotFound []int `json:"notFound"`
}

// RecomputeResponse reports a forced recomputation.
type RecomputeResponse struct {
	OK       bool         `json:"ok"`
	JobID    string       `json:"jobId"`
	Count    int64        `json:"count"`
	Failures int64        `json:"failures"`
	Status   string       `json:"status"`
	Errors   []GroupError `json:"errors"`
}

// AcceptedResponse acknowledges work handed to the task queue.
type AcceptedResponse struct {
	JobID  string `json:"jobId,omitempty"`
	TaskID string `json:"taskId"`
	Queue  string `json:"queue"`
}
