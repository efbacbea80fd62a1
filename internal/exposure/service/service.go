// Package service runs the exposure merge engine against the document store:
// one transaction per exposure group, a bounded worker pool per batch, and
// buffered job counters.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"exposure_backend/internal/archive"
	"exposure_backend/internal/audit"
	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/repository"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/jobs"
	"exposure_backend/internal/plantjob"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
)

// Config tunes batch processing.
type Config struct {
	Workers    int
	FlushEvery int
	DefaultOEL float64
}

// DirectoryProvider resolves an organization's agent exposure limits.
type DirectoryProvider interface {
	Directory(ctx context.Context, organizationID uuid.UUID) (domain.OELMap, error)
}

// Service provides the exposure engine operations.
type Service struct {
	store     docstore.Store
	repo      *repository.Repository
	tracker   *jobs.Tracker
	audit     *audit.Log
	directory DirectoryProvider
	extractor plantjob.Extractor
	archiver  archive.Archiver
	eventBus  events.Bus
	metrics   *Metrics
	log       *logger.Logger
	cfg       Config
	now       func() time.Time
}

// New creates the exposure service.
func New(store docstore.Store, cfg Config, log *logger.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = jobs.DefaultWorkers
	}
	if cfg.FlushEvery < 1 {
		cfg.FlushEvery = 150
	}
	if cfg.DefaultOEL <= 0 {
		cfg.DefaultOEL = domain.DefaultOEL
	}
	return &Service{
		store:     store,
		repo:      repository.New(store),
		tracker:   jobs.NewTracker(store, cfg.FlushEvery, log),
		audit:     audit.New(store),
		extractor: plantjob.Passthrough{},
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetDirectory injects the agent directory.
func (s *Service) SetDirectory(d DirectoryProvider) {
	s.directory = d
}

// SetExtractor replaces the plant/job extractor.
func (s *Service) SetExtractor(e plantjob.Extractor) {
	s.extractor = e
}

// SetArchiver enables archiving of raw import batches.
func (s *Service) SetArchiver(a archive.Archiver) {
	s.archiver = a
}

// SetEventBus enables group and job events.
func (s *Service) SetEventBus(bus events.Bus) {
	s.eventBus = bus
}

// SetMetrics enables Prometheus instrumentation.
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
}

// loadDirectory fetches the agent directory once per job.
func (s *Service) loadDirectory(ctx context.Context, organizationID uuid.UUID) (domain.OELSource, error) {
	if s.directory == nil {
		return domain.OELMap{}, nil
	}
	dir, err := s.directory.Directory(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load agent directory: %w", err)
	}
	return dir, nil
}

// unit is one group of a batch.
type unit struct {
	groupID   string
	groupName string
}

// batchErrors collects per-group failures from concurrent workers.
type batchErrors struct {
	mu   sync.Mutex
	list []transport.GroupError
}

func (b *batchErrors) add(u unit, err error) {
	b.mu.Lock()
	b.list = append(b.list, transport.GroupError{GroupID: u.groupID, GroupName: u.groupName, Error: err.Error()})
	b.mu.Unlock()
}

func (b *batchErrors) sorted() []transport.GroupError {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.GroupError, len(b.list))
	copy(out, b.list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// runBatch processes items through the worker pool. fn returns the counter
// increments of one successful group. A failing group is logged, counted and
// listed; it never stops the others. Groups left undispatched when ctx ends are
// listed as failures too.
func runBatch[T any](ctx context.Context, s *Service, op audit.Type, counters *jobs.Counters, items []T, unitOf func(T) unit, fn func(ctx context.Context, item T) (map[string]int64, error)) []transport.GroupError {
	var errs batchErrors
	dispatched, poolErr := jobs.RunPool(ctx, s.cfg.Workers, items, func(ctx context.Context, item T) {
		u := unitOf(item)
		counters.Add(jobs.CounterProcessed, 1)
		deltas, err := fn(ctx, item)
		if err != nil {
			counters.Add(jobs.CounterFailures, 1)
			errs.add(u, err)
			s.metrics.groupFailed(string(op))
			if s.log != nil {
				s.log.WithContext(ctx).GroupFailure(string(op), u.groupID, err)
			}
		} else {
			for name, delta := range deltas {
				counters.Add(name, delta)
			}
		}
		if err := counters.UnitDone(ctx); err != nil && s.log != nil {
			s.log.Warn("job counter flush failed", "operation", string(op), "error", err)
		}
	})
	if poolErr != nil {
		for _, item := range items[dispatched:] {
			counters.Add(jobs.CounterFailures, 1)
			errs.add(unitOf(item), fmt.Errorf("not processed: %w", poolErr))
		}
	}
	return errs.sorted()
}

// finishJob settles the job status outside the caller's deadline and announces it.
func (s *Service) finishJob(ctx context.Context, organizationID uuid.UUID, jobID string, kind jobs.Kind, counters *jobs.Counters, undo bool) jobs.Status {
	ctx = context.WithoutCancel(ctx)
	var (
		status jobs.Status
		err    error
	)
	if undo {
		status, err = s.tracker.FinishUndo(ctx, organizationID, jobID, counters)
	} else {
		status, err = s.tracker.Finish(ctx, organizationID, jobID, counters)
	}
	if err != nil {
		if s.log != nil {
			s.log.Error("failed to finish job", "job_id", jobID, "error", err)
		}
		status = jobs.StatusCompletedWithErrors
		if counters.Total(jobs.CounterFailures) == 0 {
			status = jobs.StatusCompleted
		}
	}
	if s.eventBus != nil {
		s.eventBus.Publish(ctx, events.JobFinished{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: organizationID,
			JobID:          jobID,
			Kind:           string(kind),
			Status:         string(status),
			Failures:       counters.Total(jobs.CounterFailures),
		})
	}
	return status
}

// Tracker exposes job tracking for read endpoints.
func (s *Service) Tracker() *jobs.Tracker {
	return s.tracker
}

var errGroupNotFound = errors.New("exposure group not found")
