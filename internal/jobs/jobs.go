// Package jobs tracks long-running batch operations: their status, their
// progress counters and the bounded worker pool that drives them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exposure_backend/platform/apperr"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
)

// Collection holds one document per job.
const Collection = "jobs"

// Kind identifies what a job does.
type Kind string

const (
	KindImport       Kind = "import"
	KindAgentRemoval Kind = "agent-removal"
	KindRecompute    Kind = "recompute"
)

// Status is the outcome state of a job or of its undo.
type Status string

const (
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed-with-errors"
)

// Phase tells whether an undo is still iterating groups.
type Phase string

const (
	PhaseRunning Phase = "running"
	PhaseDone    Phase = "done"
)

// UndoState is the undo section of an import job.
type UndoState struct {
	Phase      Phase            `json:"phase"`
	Status     Status           `json:"status"`
	Counters   map[string]int64 `json:"counters"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
}

// Job is the persisted job document.
type Job struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organizationId"`
	Kind           Kind             `json:"kind"`
	Status         Status           `json:"status"`
	Counters       map[string]int64 `json:"counters"`
	Undo           *UndoState       `json:"undo,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

var (
	countersPath     = docstore.P("counters")
	undoCountersPath = docstore.P("undo", "counters")
)

// Ref addresses a job document.
func Ref(organizationID uuid.UUID, jobID string) docstore.Ref {
	return docstore.NewRef(Collection, organizationID.String(), jobID)
}

// Tracker creates job documents and hands out their counters.
type Tracker struct {
	store      docstore.Store
	flushEvery int
	log        *logger.Logger
	now        func() time.Time
}

// NewTracker creates a tracker flushing counters every flushEvery units.
func NewTracker(store docstore.Store, flushEvery int, log *logger.Logger) *Tracker {
	return &Tracker{store: store, flushEvery: flushEvery, log: log, now: time.Now}
}

// Start creates the job document, or marks an existing one running again when a
// later batch of the same job arrives.
func (t *Tracker) Start(ctx context.Context, organizationID uuid.UUID, jobID string, kind Kind) error {
	ref := Ref(organizationID, jobID)
	now := t.now().UTC()
	err := t.store.RunInTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var existing Job
		err := tx.Get(ctx, ref, &existing)
		if errors.Is(err, docstore.ErrNotFound) {
			return tx.Set(ctx, ref, Job{
				ID:             jobID,
				OrganizationID: organizationID.String(),
				Kind:           kind,
				Status:         StatusRunning,
				Counters:       map[string]int64{},
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
		if err != nil {
			return err
		}
		if existing.Kind != kind {
			return apperr.Conflict(fmt.Sprintf("job %s is a %s job", jobID, existing.Kind))
		}
		return tx.Apply(ctx, ref, docstore.NewPatch().
			Set(docstore.P("status"), StatusRunning).
			Set(docstore.P("updatedAt"), now))
	})
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	return nil
}

// StartUndo opens the undo phase of an import job, creating a stub job document
// for imports that predate job tracking.
func (t *Tracker) StartUndo(ctx context.Context, organizationID uuid.UUID, jobID string) error {
	now := t.now().UTC()
	patch := docstore.NewPatch().
		Set(docstore.P("id"), jobID).
		Set(docstore.P("organizationId"), organizationID.String()).
		Set(docstore.P("kind"), KindImport).
		Set(docstore.P("undo"), UndoState{
			Phase:     PhaseRunning,
			Status:    StatusRunning,
			Counters:  map[string]int64{},
			StartedAt: now,
		}).
		Set(docstore.P("updatedAt"), now)
	if err := t.store.Apply(ctx, Ref(organizationID, jobID), patch); err != nil {
		return fmt.Errorf("start undo %s: %w", jobID, err)
	}
	return nil
}

// Counters returns buffered counters for the job's main section.
func (t *Tracker) Counters(organizationID uuid.UUID, jobID string, kind Kind) *Counters {
	c := NewCounters(t.store, Ref(organizationID, jobID), countersPath, t.flushEvery)
	t.logFlushes(c, string(kind), jobID, CounterRowsWritten)
	return c
}

// UndoCounters returns buffered counters for the job's undo section.
func (t *Tracker) UndoCounters(organizationID uuid.UUID, jobID string) *Counters {
	c := NewCounters(t.store, Ref(organizationID, jobID), undoCountersPath, t.flushEvery)
	t.logFlushes(c, "undo", jobID, CounterRemoved)
	return c
}

func (t *Tracker) logFlushes(c *Counters, kind, jobID, written string) {
	if t.log == nil {
		return
	}
	c.OnFlush(func(totals map[string]int64) {
		t.log.JobProgress(kind, jobID, totals[CounterProcessed], totals[written], totals[CounterFailures])
	})
}

// Finish flushes c and settles the job status from the persisted failure count.
func (t *Tracker) Finish(ctx context.Context, organizationID uuid.UUID, jobID string, c *Counters) (Status, error) {
	if err := c.Flush(ctx); err != nil {
		return "", fmt.Errorf("flush job %s: %w", jobID, err)
	}
	ref := Ref(organizationID, jobID)
	var status Status
	err := t.store.RunInTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var job Job
		if err := tx.Get(ctx, ref, &job); err != nil {
			return err
		}
		status = settle(job.Counters)
		return tx.Apply(ctx, ref, docstore.NewPatch().
			Set(docstore.P("status"), status).
			Set(docstore.P("updatedAt"), t.now().UTC()))
	})
	if err != nil {
		return "", fmt.Errorf("finish job %s: %w", jobID, err)
	}
	return status, nil
}

// FinishUndo flushes c, marks the undo phase done and settles its status.
func (t *Tracker) FinishUndo(ctx context.Context, organizationID uuid.UUID, jobID string, c *Counters) (Status, error) {
	if err := c.Flush(ctx); err != nil {
		return "", fmt.Errorf("flush undo %s: %w", jobID, err)
	}
	ref := Ref(organizationID, jobID)
	var status Status
	err := t.store.RunInTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var job Job
		if err := tx.Get(ctx, ref, &job); err != nil {
			return err
		}
		var counters map[string]int64
		if job.Undo != nil {
			counters = job.Undo.Counters
		}
		status = settle(counters)
		now := t.now().UTC()
		return tx.Apply(ctx, ref, docstore.NewPatch().
			Set(docstore.P("undo", "phase"), PhaseDone).
			Set(docstore.P("undo", "status"), status).
			Set(docstore.P("undo", "finishedAt"), now).
			Set(docstore.P("updatedAt"), now))
	})
	if err != nil {
		return "", fmt.Errorf("finish undo %s: %w", jobID, err)
	}
	return status, nil
}

// Get loads a job document.
func (t *Tracker) Get(ctx context.Context, organizationID uuid.UUID, jobID string) (*Job, error) {
	var job Job
	err := t.store.Get(ctx, Ref(organizationID, jobID), &job)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, apperr.NotFound("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}

func settle(counters map[string]int64) Status {
	if counters[CounterFailures] > 0 {
		return StatusCompletedWithErrors
	}
	return StatusCompleted
}
