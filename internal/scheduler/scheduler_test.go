package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exposure_backend/internal/events"
	"exposure_backend/internal/jobs"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func TestTaskPayloadRoundTrip(t *testing.T) {
	task, err := NewRemoveAgentsTask(RemoveAgentsPayload{
		OrganizationID: "org",
		Removals:       []AgentRemovalPayload{{GroupID: "g1", AgentKey: "lead"}},
	})
	if err != nil {
		t.Fatalf("NewRemoveAgentsTask: %v", err)
	}
	if task.Type() != TaskRemoveAgents {
		t.Fatalf("unexpected task type %s", task.Type())
	}
	payload, err := ParseRemoveAgentsPayload(task)
	if err != nil {
		t.Fatalf("ParseRemoveAgentsPayload: %v", err)
	}
	if len(payload.Removals) != 1 || payload.Removals[0].AgentKey != "lead" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, err := ParseUndoImportPayload(asynq.NewTask(TaskUndoImport, []byte("{"))); err == nil {
		t.Fatalf("expected malformed payload to fail")
	}
}

func TestClassifySkipsRetryForClientErrors(t *testing.T) {
	if err := classify(apperr.NotFound("job not found")); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected not found to skip retry")
	}
	if err := classify(apperr.FailedPrecondition("nothing to undo")); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected failed precondition to skip retry")
	}
	if err := classify(errors.New("connection reset")); errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected infrastructure errors to be retried")
	}
}

type stubPurger struct {
	cutoff time.Time
	kinds  []jobs.Kind
}

func (p *stubPurger) PurgeFinished(_ context.Context, cutoff time.Time, kinds ...jobs.Kind) (int, error) {
	p.cutoff = cutoff
	p.kinds = kinds
	return 2, nil
}

func TestJobCleanupKeepsImportJobs(t *testing.T) {
	purger := &stubPurger{}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewJobCleanup(purger, logger.New("development"), time.Minute, 24*time.Hour)
	c.now = func() time.Time { return now }

	if deleted := c.cleanup(context.Background()); deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	if !purger.cutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", purger.cutoff)
	}
	for _, k := range purger.kinds {
		if k == jobs.KindImport {
			t.Fatalf("import jobs must not be purged")
		}
	}
}

type stubGroups []string

func (g stubGroups) GroupsWithAgent(context.Context, uuid.UUID, string) ([]string, error) {
	return g, nil
}

type recordingQueue struct {
	mu       sync.Mutex
	payloads []RecomputeGroupsPayload
}

func (q *recordingQueue) EnqueueUndoImport(context.Context, UndoImportPayload) (Enqueued, error) {
	return Enqueued{}, nil
}

func (q *recordingQueue) EnqueueRemoveAgents(context.Context, RemoveAgentsPayload) (Enqueued, error) {
	return Enqueued{}, nil
}

func (q *recordingQueue) EnqueueRecomputeGroups(_ context.Context, p RecomputeGroupsPayload) (Enqueued, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return Enqueued{TaskID: "t", Queue: "default"}, nil
}

func TestRecomputeDispatcherChunksGroups(t *testing.T) {
	ids := make(stubGroups, recomputeChunkSize+5)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	queue := &recordingQueue{}
	log := logger.New("development")
	bus := events.NewInMemoryBus(log)
	NewRecomputeDispatcher(ids, queue, log).Subscribe(bus)

	err := bus.PublishSync(context.Background(), events.AgentOELChanged{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: uuid.New(),
		AgentKey:       "lead",
		OEL:            0.1,
	})
	if err != nil {
		t.Fatalf("PublishSync: %v", err)
	}
	if len(queue.payloads) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(queue.payloads))
	}
	if len(queue.payloads[0].GroupIDs) != recomputeChunkSize || len(queue.payloads[1].GroupIDs) != 5 {
		t.Fatalf("unexpected chunk sizes %d and %d", len(queue.payloads[0].GroupIDs), len(queue.payloads[1].GroupIDs))
	}
	if queue.payloads[0].Reason != "oel-changed:lead" {
		t.Fatalf("unexpected reason %q", queue.payloads[0].Reason)
	}
}
