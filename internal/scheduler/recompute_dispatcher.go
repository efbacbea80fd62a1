package scheduler

import (
	"context"

	"exposure_backend/internal/events"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
)

const recomputeChunkSize = 200

// GroupFinder lists the groups that hold an agent.
type GroupFinder interface {
	GroupsWithAgent(ctx context.Context, organizationID uuid.UUID, agentKey string) ([]string, error)
}

// RecomputeDispatcher queues recomputation of every group affected by an agent
// exposure limit change.
type RecomputeDispatcher struct {
	groups GroupFinder
	queue  Enqueuer
	log    *logger.Logger
}

func NewRecomputeDispatcher(groups GroupFinder, queue Enqueuer, log *logger.Logger) *RecomputeDispatcher {
	return &RecomputeDispatcher{groups: groups, queue: queue, log: log}
}

// Subscribe registers the dispatcher for agent limit changes.
func (d *RecomputeDispatcher) Subscribe(bus events.Bus) {
	bus.Subscribe(events.AgentOELChanged{}.EventName(), events.HandlerFunc(d.handle))
}

func (d *RecomputeDispatcher) handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.AgentOELChanged)
	if !ok {
		return nil
	}
	ids, err := d.groups.GroupsWithAgent(ctx, e.OrganizationID, e.AgentKey)
	if err != nil {
		return err
	}

	for start := 0; start < len(ids); start += recomputeChunkSize {
		end := min(start+recomputeChunkSize, len(ids))
		queued, err := d.queue.EnqueueRecomputeGroups(ctx, RecomputeGroupsPayload{
			OrganizationID: e.OrganizationID.String(),
			GroupIDs:       ids[start:end],
			Reason:         "oel-changed:" + e.AgentKey,
		})
		if err != nil {
			d.log.Warn("recompute enqueue failed", "agent_key", e.AgentKey, "groups", end-start, "error", err)
			return err
		}
		d.log.Debug("recompute queued", "agent_key", e.AgentKey, "task_id", queued.TaskID, "groups", end-start)
	}
	return nil
}
