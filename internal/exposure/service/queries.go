package service

import (
	"context"
	"strings"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/jobs"
	"exposure_backend/platform/apperr"

	"github.com/google/uuid"
)

const defaultAuditLimit = 100

// GetGroup returns a group document.
func (s *Service) GetGroup(ctx context.Context, organizationID uuid.UUID, groupID string) (*domain.GroupDocument, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, apperr.Validation("groupId is required")
	}
	return s.repo.GetGroup(ctx, organizationID, groupID)
}

// GetJob returns a job document with its counters and undo state.
func (s *Service) GetJob(ctx context.Context, organizationID uuid.UUID, jobID string) (*jobs.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, apperr.Validation("jobId is required")
	}
	return s.tracker.Get(ctx, organizationID, jobID)
}

// ListAudit returns the newest audit records, oldest first.
func (s *Service) ListAudit(ctx context.Context, organizationID uuid.UUID, req transport.ListAuditRequest) ([]audit.Record, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	return s.audit.List(ctx, organizationID, strings.TrimSpace(req.GroupID), limit)
}
