package scheduler

import (
	"context"
	"fmt"

	"exposure_backend/internal/exposure/transport"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/config"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ExposureRunner executes the queued exposure batch operations.
type ExposureRunner interface {
	UndoImport(ctx context.Context, organizationID uuid.UUID, jobID string) (*transport.UndoImportResponse, error)
	RemoveAgents(ctx context.Context, organizationID uuid.UUID, req transport.RemoveAgentsRequest) (*transport.RemoveAgentsResponse, error)
	RecomputeBatch(ctx context.Context, organizationID uuid.UUID, req transport.RecomputeRequest) (*transport.RecomputeResponse, error)
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	exposure ExposureRunner
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, exposure ExposureRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := &Worker{
		server:   server,
		mux:      asynq.NewServeMux(),
		exposure: exposure,
		log:      log,
	}
	w.register()
	return w, nil
}

func (w *Worker) register() {
	w.mux.HandleFunc(TaskUndoImport, w.handleUndoImport)
	w.mux.HandleFunc(TaskRemoveAgents, w.handleRemoveAgents)
	w.mux.HandleFunc(TaskRecomputeGroups, w.handleRecomputeGroups)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleUndoImport(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseUndoImportPayload(task)
	if err != nil {
		return skipRetry(err)
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return skipRetry(err)
	}

	resp, err := w.exposure.UndoImport(ctx, orgID, payload.JobID)
	if err != nil {
		return classify(err)
	}
	w.log.Info("undo import finished",
		"job_id", payload.JobID,
		"reverted_groups", resp.RevertedGroups,
		"removed", resp.Removed,
		"restored", resp.Restored,
		"failures", resp.Failures,
	)
	return nil
}

func (w *Worker) handleRemoveAgents(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRemoveAgentsPayload(task)
	if err != nil {
		return skipRetry(err)
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return skipRetry(err)
	}

	req := transport.RemoveAgentsRequest{Removals: make([]transport.AgentRemoval, 0, len(payload.Removals))}
	for _, r := range payload.Removals {
		req.Removals = append(req.Removals, transport.AgentRemoval{GroupID: r.GroupID, AgentKey: r.AgentKey})
	}
	resp, err := w.exposure.RemoveAgents(ctx, orgID, req)
	if err != nil {
		return classify(err)
	}
	w.log.Info("agent removal finished",
		"job_id", resp.JobID,
		"removed_agents", resp.RemovedAgents,
		"groups_deleted", resp.GroupsDeleted,
		"failures", resp.Failures,
	)
	return nil
}

func (w *Worker) handleRecomputeGroups(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRecomputeGroupsPayload(task)
	if err != nil {
		return skipRetry(err)
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return skipRetry(err)
	}

	resp, err := w.exposure.RecomputeBatch(ctx, orgID, transport.RecomputeRequest{GroupIDs: payload.GroupIDs})
	if err != nil {
		return classify(err)
	}
	w.log.Info("recompute finished",
		"job_id", resp.JobID,
		"reason", payload.Reason,
		"count", resp.Count,
		"failures", resp.Failures,
	)
	return nil
}

// classify lets asynq retry infrastructure errors only. Per-group failures are
// already recorded on the job document and never fail the task.
func classify(err error) error {
	switch apperr.GetKind(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindFailedPrecondition, apperr.KindBadRequest:
		return skipRetry(err)
	}
	return err
}

func skipRetry(err error) error {
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}
