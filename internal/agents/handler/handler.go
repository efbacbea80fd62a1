package handler

import (
	"net/http"

	"exposure_backend/internal/agents/service"
	"exposure_backend/internal/agents/transport"
	"exposure_backend/platform/httpkit"
	"exposure_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidKey       = "invalid agent key"
)

// Handler handles HTTP requests for the agent directory.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new agents handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// List returns the organization's agents.
// GET /api/v1/agents
func (h *Handler) List(c *gin.Context) {
	orgID, ok := httpkit.MustGetOrganizationID(c)
	if !ok {
		return
	}
	result, err := h.svc.List(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Upsert sets an agent's exposure limit.
// PUT /api/v1/admin/agents/:key
func (h *Handler) Upsert(c *gin.Context) {
	key := c.Param("key")
	if err := h.val.Var(key, "required,max=120,slug"); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidKey, nil)
		return
	}
	var req transport.UpsertAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
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

	result, err := h.svc.Upsert(c.Request.Context(), orgID, key, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
