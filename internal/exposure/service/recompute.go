package service

import (
	"context"
	"strings"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/jobs"
	"exposure_backend/platform/apperr"

	"github.com/google/uuid"
)

// RecomputeBatch recomputes the listed groups from their stored rows, bypassing
// the change gate. Per-agent snapshots whose inputs are unchanged are still reused.
func (s *Service) RecomputeBatch(ctx context.Context, organizationID uuid.UUID, req transport.RecomputeRequest) (*transport.RecomputeResponse, error) {
	if organizationID == uuid.Nil {
		return nil, apperr.Validation("organization is required")
	}
	seen := map[string]struct{}{}
	units := make([]unit, 0, len(req.GroupIDs))
	for _, id := range req.GroupIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, apperr.Validation("groupIds must not contain empty values")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		units = append(units, unit{groupID: id})
	}
	if len(units) == 0 {
		return nil, apperr.Validation("at least one groupId is required")
	}

	jobID := uuid.NewString()
	dir, err := s.loadDirectory(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.Start(ctx, organizationID, jobID, jobs.KindRecompute); err != nil {
		return nil, err
	}

	counters := s.tracker.Counters(organizationID, jobID, jobs.KindRecompute)
	errs := runBatch(ctx, s, audit.TypeRecompute, counters, units,
		func(u unit) unit { return u },
		func(ctx context.Context, u unit) (map[string]int64, error) {
			return s.recomputeGroup(ctx, organizationID, jobID, dir, u)
		})
	status := s.finishJob(ctx, organizationID, jobID, jobs.KindRecompute, counters, false)

	failures := counters.Total(jobs.CounterFailures)
	return &transport.RecomputeResponse{
		OK:       failures == 0,
		JobID:    jobID,
		Count:    counters.Total(jobs.CounterGroupsProcessed),
		Failures: failures,
		Status:   string(status),
		Errors:   errs,
	}, nil
}

func (s *Service) recomputeGroup(ctx context.Context, organizationID uuid.UUID, jobID string, dir domain.OELSource, u unit) (map[string]int64, error) {
	res, err := s.commitGroup(ctx, organizationID, dir, groupMutation{
		op:      audit.TypeRecompute,
		groupID: u.groupID,
		jobID:   jobID,
		mutate: func(doc *domain.GroupDocument, _ bool) (*change, error) {
			rows := make([]domain.SampleRecord, 0, len(doc.Results))
			for _, r := range doc.Results {
				rows = append(rows, domain.NormalizeStored(r))
			}
			return &change{results: domain.Finalize(rows)}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if res.missing {
		return nil, errGroupNotFound
	}
	deltas := map[string]int64{jobs.CounterGroupsProcessed: 1}
	if res.deleted {
		deltas[jobs.CounterGroupsDeleted] = 1
	}
	return deltas, nil
}

// GroupsWithAgent lists the IDs of groups holding rows or a snapshot of agentKey.
func (s *Service) GroupsWithAgent(ctx context.Context, organizationID uuid.UUID, agentKey string) ([]string, error) {
	groups, err := s.repo.ListGroups(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, g := range groups {
		if _, ok := g.LatestExceedanceFractionByAgent[agentKey]; ok {
			ids = append(ids, g.ID)
			continue
		}
		for _, r := range g.Results {
			if r.AgentKey == agentKey {
				ids = append(ids, g.ID)
				break
			}
		}
	}
	return ids, nil
}

// Subscribe recomputes the affected groups whenever an agent's exposure limit changes.
func (s *Service) Subscribe(bus events.Bus) {
	bus.Subscribe(events.AgentOELChanged{}.EventName(), events.HandlerFunc(s.handleOELChanged))
}

func (s *Service) handleOELChanged(ctx context.Context, event events.Event) error {
	e, ok := event.(events.AgentOELChanged)
	if !ok {
		return nil
	}
	ids, err := s.GroupsWithAgent(ctx, e.OrganizationID, e.AgentKey)
	if err != nil || len(ids) == 0 {
		return err
	}
	resp, err := s.RecomputeBatch(ctx, e.OrganizationID, transport.RecomputeRequest{GroupIDs: ids})
	if err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("groups recomputed after OEL change",
			"agent_key", e.AgentKey, "count", resp.Count, "failures", resp.Failures)
	}
	return nil
}
