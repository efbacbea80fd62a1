package service

import (
	"context"
	"fmt"
	"strings"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/repository"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/jobs"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/docstore"

	"github.com/google/uuid"
)

// undoUnit is one group to revert, with the reversal data its import recorded.
type undoUnit struct {
	unit
	entry *repository.UndoGroup
}

// UndoImport reverses every batch of an import job. Groups without recorded
// reversal data (imports that predate it) fall back to dropping the job's rows.
func (s *Service) UndoImport(ctx context.Context, organizationID uuid.UUID, jobID string) (*transport.UndoImportResponse, error) {
	jobID = strings.TrimSpace(jobID)
	if organizationID == uuid.Nil {
		return nil, apperr.Validation("organization is required")
	}
	if jobID == "" {
		return nil, apperr.Validation("jobId is required")
	}

	units, legacy, err := s.undoTargets(ctx, organizationID, jobID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		if _, err := s.tracker.Get(ctx, organizationID, jobID); err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return nil, apperr.NotFound("import job not found")
			}
			return nil, err
		}
		return nil, apperr.FailedPrecondition("import job has nothing left to undo")
	}

	dir, err := s.loadDirectory(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.StartUndo(ctx, organizationID, jobID); err != nil {
		return nil, err
	}

	counters := s.tracker.UndoCounters(organizationID, jobID)
	errs := runBatch(ctx, s, audit.TypeUndoImport, counters, units,
		func(u undoUnit) unit { return u.unit },
		func(ctx context.Context, u undoUnit) (map[string]int64, error) {
			return s.undoGroup(ctx, organizationID, jobID, dir, u)
		})
	status := s.finishJob(ctx, organizationID, jobID, jobs.KindImport, counters, true)

	failures := counters.Total(jobs.CounterFailures)
	return &transport.UndoImportResponse{
		OK:             failures == 0,
		JobID:          jobID,
		RevertedGroups: counters.Total(jobs.CounterGroupsProcessed),
		Removed:        counters.Total(jobs.CounterRemoved),
		Restored:       counters.Total(jobs.CounterRestored),
		GroupsDeleted:  counters.Total(jobs.CounterGroupsDeleted),
		Failures:       failures,
		Legacy:         legacy,
		Status:         string(status),
		Errors:         errs,
	}, nil
}

// undoTargets lists the groups to revert. Without recorded metadata it scans
// every group for rows tagged with the job.
func (s *Service) undoTargets(ctx context.Context, organizationID uuid.UUID, jobID string) ([]undoUnit, bool, error) {
	entries, err := s.repo.ListUndoGroups(ctx, organizationID, jobID)
	if err != nil {
		return nil, false, err
	}
	if len(entries) > 0 {
		units := make([]undoUnit, 0, len(entries))
		for i := range entries {
			e := &entries[i]
			units = append(units, undoUnit{unit: unit{groupID: e.GroupID, groupName: e.GroupName}, entry: e})
		}
		return units, false, nil
	}

	groups, err := s.repo.ListGroups(ctx, organizationID)
	if err != nil {
		return nil, true, err
	}
	var units []undoUnit
	for _, g := range groups {
		for _, r := range g.Results {
			if r.JobID() == jobID {
				units = append(units, undoUnit{unit: unit{groupID: g.ID, groupName: g.Name}})
				break
			}
		}
	}
	return units, true, nil
}

func (s *Service) undoGroup(ctx context.Context, organizationID uuid.UUID, jobID string, dir domain.OELSource, u undoUnit) (map[string]int64, error) {
	var (
		replaced map[string]domain.SampleRecord
		baseline *domain.Baseline
	)
	if u.entry != nil {
		replaced = u.entry.Replaced
		b := u.entry.Baseline
		baseline = &b
	}

	var removed, restored int
	res, err := s.commitGroup(ctx, organizationID, dir, groupMutation{
		op:        audit.TypeUndoImport,
		groupID:   u.groupID,
		groupName: u.groupName,
		jobID:     jobID,
		// A group deleted after the import can come back from its replaced rows.
		create: len(replaced) > 0,
		mutate: func(doc *domain.GroupDocument, exists bool) (*change, error) {
			rv := domain.RevertImport(doc.Results, jobID, replaced)
			removed, restored = rv.Removed, rv.Restored
			ch := &change{
				results:  rv.Results,
				baseline: baseline,
				metadata: map[string]any{
					"removed":  rv.Removed,
					"restored": rv.Restored,
				},
				afterTx: func(ctx context.Context, tx docstore.Tx, _ *commitResult) error {
					if u.entry == nil {
						return nil
					}
					return tx.Delete(ctx, repository.UndoGroupRef(organizationID, jobID, u.groupID))
				},
			}
			if rv.Removed == 0 && rv.Restored == 0 {
				ch.noop = true
			}
			return ch, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if res.missing {
		if u.entry != nil {
			if err := s.store.Delete(ctx, repository.UndoGroupRef(organizationID, jobID, u.groupID)); err != nil {
				return nil, fmt.Errorf("drop undo metadata: %w", err)
			}
		}
		return map[string]int64{jobs.CounterGroupsProcessed: 1}, nil
	}

	deltas := map[string]int64{
		jobs.CounterGroupsProcessed: 1,
		jobs.CounterRemoved:         int64(removed),
		jobs.CounterRestored:        int64(restored),
	}
	if res.deleted {
		deltas[jobs.CounterGroupsDeleted] = 1
	}
	return deltas, nil
}
