package handler

import (
	"context"
	"net/http"
	"strconv"

	"exposure_backend/internal/exposure/service"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/scheduler"
	"exposure_backend/internal/summary"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/httpkit"
	"exposure_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgQueueUnavailable = "task queue not configured"
)

// Handler handles HTTP requests for exposure groups and their batch jobs.
type Handler struct {
	svc     *service.Service
	summary *summary.Service
	queue   scheduler.Enqueuer
	val     *validator.Validator
}

// New creates a new exposure handler. queue may be nil; async requests are then rejected.
func New(svc *service.Service, sum *summary.Service, queue scheduler.Enqueuer, val *validator.Validator) *Handler {
	return &Handler{svc: svc, summary: sum, queue: queue, val: val}
}

// ImportBatch merges one batch of sample rows.
// POST /api/v1/exposure/imports
func (h *Handler) ImportBatch(c *gin.Context) {
	var req transport.ImportBatchRequest
	if !h.bind(c, &req) {
		return
	}
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}

	result, err := h.svc.ImportBatch(c.Request.Context(), orgID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	respondBatch(c, result.Failures, "some groups failed to import", result)
}

// UndoImport reverses an import job. With ?async=true the undo is queued.
// POST /api/v1/exposure/imports/:jobId/undo
func (h *Handler) UndoImport(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.val.Var(jobID, "required,max=100,excludesall=:/"); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}

	if isAsync(c) {
		h.enqueue(c, jobID, func(ctx context.Context) (scheduler.Enqueued, error) {
			return h.queue.EnqueueUndoImport(ctx, scheduler.UndoImportPayload{
				OrganizationID: orgID.String(),
				JobID:          jobID,
			})
		})
		return
	}

	result, err := h.svc.UndoImport(c.Request.Context(), orgID, jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	respondBatch(c, result.Failures, "some groups failed to revert", result)
}

// RemoveAgents removes agents from groups. With ?async=true the removal is queued.
// POST /api/v1/exposure/agents/remove
func (h *Handler) RemoveAgents(c *gin.Context) {
	var req transport.RemoveAgentsRequest
	if !h.bind(c, &req) {
		return
	}
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}

	if isAsync(c) {
		h.enqueue(c, "", func(ctx context.Context) (scheduler.Enqueued, error) {
			payload := scheduler.RemoveAgentsPayload{OrganizationID: orgID.String()}
			for _, r := range req.Removals {
				payload.Removals = append(payload.Removals, scheduler.AgentRemovalPayload{GroupID: r.GroupID, AgentKey: r.AgentKey})
			}
			return h.queue.EnqueueRemoveAgents(ctx, payload)
		})
		return
	}

	result, err := h.svc.RemoveAgents(c.Request.Context(), orgID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	respondBatch(c, result.Failures, "some groups failed", result)
}

// DeleteSamples removes matching rows from one group.
// POST /api/v1/exposure/groups/:groupId/samples/delete
func (h *Handler) DeleteSamples(c *gin.Context) {
	var req transport.DeleteSamplesRequest
	if !h.bind(c, &req) {
		return
	}
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}

	result, err := h.svc.DeleteSamples(c.Request.Context(), orgID, c.Param("groupId"), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Recompute forces recomputation of the listed groups. With ?async=true it is queued.
// POST /api/v1/exposure/groups/recompute
func (h *Handler) Recompute(c *gin.Context) {
	var req transport.RecomputeRequest
	if !h.bind(c, &req) {
		return
	}
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}

	if isAsync(c) {
		h.enqueue(c, "", func(ctx context.Context) (scheduler.Enqueued, error) {
			return h.queue.EnqueueRecomputeGroups(ctx, scheduler.RecomputeGroupsPayload{
				OrganizationID: orgID.String(),
				GroupIDs:       req.GroupIDs,
				Reason:         "manual",
			})
		})
		return
	}

	result, err := h.svc.RecomputeBatch(c.Request.Context(), orgID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	respondBatch(c, result.Failures, "some groups failed to recompute", result)
}

// GetGroup returns one group document.
// GET /api/v1/exposure/groups/:groupId
func (h *Handler) GetGroup(c *gin.Context) {
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}
	result, err := h.svc.GetGroup(c.Request.Context(), orgID, c.Param("groupId"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetSummary returns the organization summary.
// GET /api/v1/exposure/summary
func (h *Handler) GetSummary(c *gin.Context) {
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}
	result, err := h.summary.Get(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetJob returns a job with its counters and undo state.
// GET /api/v1/exposure/jobs/:jobId
func (h *Handler) GetJob(c *gin.Context) {
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}
	result, err := h.svc.GetJob(c.Request.Context(), orgID, c.Param("jobId"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListAudit returns audit records, optionally for one group.
// GET /api/v1/exposure/audit
func (h *Handler) ListAudit(c *gin.Context) {
	var req transport.ListAuditRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}

	result, err := h.svc.ListAudit(c.Request.Context(), orgID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": result})
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

func (h *Handler) enqueue(c *gin.Context, jobID string, fn func(ctx context.Context) (scheduler.Enqueued, error)) {
	if h.queue == nil {
		httpkit.Error(c, http.StatusServiceUnavailable, msgQueueUnavailable, nil)
		return
	}
	queued, err := fn(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Accepted(c, transport.AcceptedResponse{JobID: jobID, TaskID: queued.TaskID, Queue: queued.Queue})
}

// respondBatch answers 207 with the full report when any group failed.
func respondBatch(c *gin.Context, failures int64, message string, result any) {
	if failures > 0 {
		httpkit.HandleError(c, apperr.PartialFailure(message, result))
		return
	}
	httpkit.OK(c, result)
}

func isAsync(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.DefaultQuery("async", "false"))
	return err == nil && v
}
