package service

import (
	"context"
	"fmt"
	"strings"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/jobs"
	"exposure_backend/platform/apperr"

	"github.com/google/uuid"
)

// removalUnit strips one or more agents from one group.
type removalUnit struct {
	unit
	agentKeys []string
}

// RemoveAgents deletes every row of the given agents from the given groups.
// Groups left without rows are deleted.
func (s *Service) RemoveAgents(ctx context.Context, organizationID uuid.UUID, req transport.RemoveAgentsRequest) (*transport.RemoveAgentsResponse, error) {
	if organizationID == uuid.Nil {
		return nil, apperr.Validation("organization is required")
	}
	if len(req.Removals) == 0 {
		return nil, apperr.Validation("at least one removal is required")
	}

	index := map[string]int{}
	units := make([]removalUnit, 0, len(req.Removals))
	for i, r := range req.Removals {
		groupID := strings.TrimSpace(r.GroupID)
		if groupID == "" || strings.TrimSpace(r.AgentKey) == "" {
			return nil, apperr.Validation(fmt.Sprintf("removal %d needs a groupId and an agentKey", i))
		}
		key := domain.Slugify(r.AgentKey)
		j, ok := index[groupID]
		if !ok {
			j = len(units)
			index[groupID] = j
			units = append(units, removalUnit{unit: unit{groupID: groupID}})
		}
		units[j].agentKeys = appendUnique(units[j].agentKeys, key)
	}

	jobID := uuid.NewString()
	dir, err := s.loadDirectory(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.Start(ctx, organizationID, jobID, jobs.KindAgentRemoval); err != nil {
		return nil, err
	}

	counters := s.tracker.Counters(organizationID, jobID, jobs.KindAgentRemoval)
	errs := runBatch(ctx, s, audit.TypeAgentRemoval, counters, units,
		func(u removalUnit) unit { return u.unit },
		func(ctx context.Context, u removalUnit) (map[string]int64, error) {
			return s.removeAgentsFromGroup(ctx, organizationID, jobID, dir, u)
		})
	status := s.finishJob(ctx, organizationID, jobID, jobs.KindAgentRemoval, counters, false)

	failures := counters.Total(jobs.CounterFailures)
	return &transport.RemoveAgentsResponse{
		OK:            failures == 0,
		JobID:         jobID,
		RemovedAgents: counters.Total(jobs.CounterRemovedAgents),
		GroupsDeleted: counters.Total(jobs.CounterGroupsDeleted),
		Failures:      failures,
		Status:        string(status),
		Errors:        errs,
	}, nil
}

func (s *Service) removeAgentsFromGroup(ctx context.Context, organizationID uuid.UUID, jobID string, dir domain.OELSource, u removalUnit) (map[string]int64, error) {
	var removedAgents, removedRows int
	res, err := s.commitGroup(ctx, organizationID, dir, groupMutation{
		op:      audit.TypeAgentRemoval,
		groupID: u.groupID,
		jobID:   jobID,
		mutate: func(doc *domain.GroupDocument, _ bool) (*change, error) {
			removedAgents, removedRows = 0, 0
			results := doc.Results
			for _, key := range u.agentKeys {
				_, hadSnapshot := doc.LatestExceedanceFractionByAgent[key]
				var n int
				results, n = domain.RemoveAgentRows(results, key)
				if n > 0 || hadSnapshot {
					removedAgents++
				}
				removedRows += n
			}
			if removedAgents == 0 {
				return &change{noop: true}, nil
			}
			return &change{
				results: results,
				metadata: map[string]any{
					"agentKeys":   u.agentKeys,
					"removedRows": removedRows,
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if res.missing {
		return nil, errGroupNotFound
	}

	deltas := map[string]int64{
		jobs.CounterGroupsProcessed: 1,
		jobs.CounterRemovedAgents:   int64(removedAgents),
		jobs.CounterRemoved:         int64(removedRows),
	}
	if res.deleted {
		deltas[jobs.CounterGroupsDeleted] = 1
	}
	return deltas, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
