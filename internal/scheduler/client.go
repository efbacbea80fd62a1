package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"exposure_backend/platform/apperr"
	"exposure_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	undoTimeout      = 30 * time.Minute
	batchTaskTimeout = 15 * time.Minute
	maxTaskRetries   = 3
)

// Enqueued identifies a queued task.
type Enqueued struct {
	TaskID string
	Queue  string
}

type Client struct {
	client *asynq.Client
	queue  string
}

// Enqueuer queues exposure batch operations for the worker.
type Enqueuer interface {
	EnqueueUndoImport(ctx context.Context, payload UndoImportPayload) (Enqueued, error)
	EnqueueRemoveAgents(ctx context.Context, payload RemoveAgentsPayload) (Enqueued, error)
	EnqueueRecomputeGroups(ctx context.Context, payload RecomputeGroupsPayload) (Enqueued, error)
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueUndoImport queues an undo. Only one undo per job can be pending.
func (c *Client) EnqueueUndoImport(ctx context.Context, payload UndoImportPayload) (Enqueued, error) {
	task, err := NewUndoImportTask(payload)
	if err != nil {
		return Enqueued{}, err
	}
	return c.enqueue(ctx, task,
		asynq.TaskID("undo:"+payload.OrganizationID+":"+payload.JobID),
		asynq.Timeout(undoTimeout),
	)
}

func (c *Client) EnqueueRemoveAgents(ctx context.Context, payload RemoveAgentsPayload) (Enqueued, error) {
	task, err := NewRemoveAgentsTask(payload)
	if err != nil {
		return Enqueued{}, err
	}
	return c.enqueue(ctx, task, asynq.Timeout(batchTaskTimeout))
}

func (c *Client) EnqueueRecomputeGroups(ctx context.Context, payload RecomputeGroupsPayload) (Enqueued, error) {
	task, err := NewRecomputeGroupsTask(payload)
	if err != nil {
		return Enqueued{}, err
	}
	return c.enqueue(ctx, task, asynq.Timeout(batchTaskTimeout))
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (Enqueued, error) {
	if c == nil || c.client == nil {
		return Enqueued{}, fmt.Errorf("task queue not configured")
	}
	opts = append(opts, asynq.Queue(c.queue), asynq.MaxRetry(maxTaskRetries))
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return Enqueued{}, apperr.Wrap(apperr.KindConflict, "task already queued", err)
	}
	if err != nil {
		return Enqueued{}, err
	}
	return Enqueued{TaskID: info.ID, Queue: info.Queue}, nil
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
