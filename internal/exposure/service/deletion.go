package service

import (
	"context"
	"strings"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/platform/apperr"

	"github.com/google/uuid"
)

// DeleteSamples removes the rows of one group matched by any criterion. A
// criterion must match every field it sets; one that matches no row is
// reported in NotFound.
func (s *Service) DeleteSamples(ctx context.Context, organizationID uuid.UUID, groupID string, req transport.DeleteSamplesRequest) (*transport.DeleteSamplesResponse, error) {
	groupID = strings.TrimSpace(groupID)
	if organizationID == uuid.Nil {
		return nil, apperr.Validation("organization is required")
	}
	if groupID == "" {
		return nil, apperr.Validation("groupId is required")
	}
	if len(req.Criteria) == 0 {
		return nil, apperr.Validation("at least one criterion is required")
	}

	dir, err := s.loadDirectory(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	var del domain.DeletionResult
	res, err := s.commitGroup(ctx, organizationID, dir, groupMutation{
		op:      audit.TypeSampleDeletion,
		groupID: groupID,
		mutate: func(doc *domain.GroupDocument, _ bool) (*change, error) {
			del = domain.DeleteMatching(doc.Results, req.Criteria)
			if del.Removed == 0 {
				return &change{noop: true}, nil
			}
			return &change{
				results: del.Results,
				metadata: map[string]any{
					"removed":  del.Removed,
					"criteria": len(req.Criteria),
					"notFound": del.NotFound,
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if res.missing {
		return nil, apperr.NotFound("exposure group not found")
	}

	notFound := del.NotFound
	if notFound == nil {
		notFound = []int{}
	}
	out := &transport.DeleteSamplesResponse{Removed: del.Removed, NotFound: notFound}
	switch {
	case res.deleted:
		out.Status = transport.DeletionStatusGroupDeleted
	case del.Removed == 0:
		out.Status = transport.DeletionStatusNotFound
	case len(del.NotFound) > 0:
		out.Status = transport.DeletionStatusPartial
	default:
		out.Status = transport.DeletionStatusDeleted
	}
	return out, nil
}
