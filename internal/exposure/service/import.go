package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/repository"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/jobs"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/docstore"

	"github.com/google/uuid"
)

// importUnit is one group of an import batch; groups whose names map to the
// same ID are folded into one unit.
type importUnit struct {
	unit
	samples []domain.SampleRecord
}

// ImportBatch merges one batch of groups into their documents. Batches sharing
// req.JobID form one import that can be undone as a whole.
func (s *Service) ImportBatch(ctx context.Context, organizationID uuid.UUID, req transport.ImportBatchRequest) (*transport.ImportBatchResponse, error) {
	if organizationID == uuid.Nil {
		return nil, apperr.Validation("organization is required")
	}
	if len(req.Groups) == 0 {
		return nil, apperr.Validation("at least one group is required")
	}
	for i, g := range req.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return nil, apperr.Validation(fmt.Sprintf("group %d has no name", i))
		}
		if len(g.Samples) == 0 {
			return nil, apperr.Validation(fmt.Sprintf("group %q has no samples", g.Name))
		}
	}

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if strings.ContainsAny(jobID, ":/") {
		return nil, apperr.Validation("jobId must not contain ':' or '/'")
	}

	dir, err := s.loadDirectory(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.Start(ctx, organizationID, jobID, jobs.KindImport); err != nil {
		return nil, err
	}
	if s.archiver != nil {
		if key, err := s.archiver.Archive(ctx, organizationID, jobID, req); err != nil {
			if s.log != nil {
				s.log.Warn("import batch archive failed", "job_id", jobID, "error", err)
			}
		} else if s.log != nil {
			s.log.Debug("import batch archived", "job_id", jobID, "object", key)
		}
	}

	units := coalesceGroups(organizationID, jobID, req.Groups)
	counters := s.tracker.Counters(organizationID, jobID, jobs.KindImport)
	errs := runBatch(ctx, s, audit.TypeBulkImport, counters, units,
		func(u importUnit) unit { return u.unit },
		func(ctx context.Context, u importUnit) (map[string]int64, error) {
			written, err := s.importGroup(ctx, organizationID, jobID, dir, u)
			if err != nil {
				return nil, err
			}
			return map[string]int64{
				jobs.CounterGroupsProcessed: 1,
				jobs.CounterRowsWritten:     int64(written),
			}, nil
		})
	status := s.finishJob(ctx, organizationID, jobID, jobs.KindImport, counters, false)

	failures := counters.Total(jobs.CounterFailures)
	return &transport.ImportBatchResponse{
		OK:              failures == 0,
		JobID:           jobID,
		RowsWritten:     counters.Total(jobs.CounterRowsWritten),
		GroupsProcessed: counters.Total(jobs.CounterGroupsProcessed),
		Failures:        failures,
		Status:          string(status),
		Errors:          errs,
	}, nil
}

func coalesceGroups(organizationID uuid.UUID, jobID string, groups []transport.ImportGroup) []importUnit {
	index := map[string]int{}
	units := make([]importUnit, 0, len(groups))
	for _, g := range groups {
		name := strings.TrimSpace(g.Name)
		id := domain.GroupID(organizationID, name)
		i, ok := index[id]
		if !ok {
			i = len(units)
			index[id] = i
			units = append(units, importUnit{unit: unit{groupID: id, groupName: name}})
		}
		for _, raw := range g.Samples {
			if strings.TrimSpace(raw.ExposureGroup) == "" {
				raw.ExposureGroup = name
			}
			units[i].samples = append(units[i].samples, domain.NormalizeIncoming(raw, jobID))
		}
	}
	return units
}

// importGroup runs the merge for one group and records what the job replaced.
func (s *Service) importGroup(ctx context.Context, organizationID uuid.UUID, jobID string, dir domain.OELSource, u importUnit) (int, error) {
	written := 0
	_, err := s.commitGroup(ctx, organizationID, dir, groupMutation{
		op:        audit.TypeBulkImport,
		groupID:   u.groupID,
		groupName: u.groupName,
		jobID:     jobID,
		create:    true,
		mutate: func(doc *domain.GroupDocument, exists bool) (*change, error) {
			mr := domain.Merge(doc.Results, u.samples, jobID)
			written = mr.Written
			baseline := doc.BaselineFor(mr.ChangedAgents)
			replacedKeys := sortedStringKeys(mr.Replaced)
			return &change{
				results:         mr.Results,
				inputsUnchanged: exists && mr.Unchanged(),
				noopIfSkipped:   exists && mr.Written == 0,
				metadata: map[string]any{
					"rowsWritten":  mr.Written,
					"replacedKeys": replacedKeys,
				},
				afterTx: func(ctx context.Context, tx docstore.Tx, res *commitResult) error {
					if mr.Written == 0 && len(mr.Replaced) == 0 {
						return nil
					}
					return recordUndo(ctx, tx, organizationID, jobID, u.unit, mr, baseline, s.now())
				},
			}, nil
		},
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// recordUndo merges this batch's reversal data into the (job, group) entry.
// Rows and baselines already captured by an earlier batch of the job are kept:
// they hold the state from before the job.
func recordUndo(ctx context.Context, tx docstore.Tx, organizationID uuid.UUID, jobID string, u unit, mr domain.MergeResult, baseline domain.Baseline, now time.Time) error {
	ref := repository.UndoGroupRef(organizationID, jobID, u.groupID)
	entry, exists, err := repository.LoadUndoGroup(ctx, tx, ref)
	if err != nil {
		return fmt.Errorf("load undo metadata: %w", err)
	}
	if !exists {
		entry = &repository.UndoGroup{
			JobID:     jobID,
			GroupID:   u.groupID,
			GroupName: u.groupName,
			CreatedAt: now.UTC(),
		}
	}
	if entry.Replaced == nil {
		entry.Replaced = map[string]domain.SampleRecord{}
	}
	if entry.Baseline.Latest == nil {
		entry.Baseline.Latest = map[string]domain.Snapshot{}
	}
	if entry.Baseline.History == nil {
		entry.Baseline.History = map[string][]domain.Snapshot{}
	}

	for key, row := range mr.Replaced {
		if _, ok := entry.Replaced[key]; !ok {
			entry.Replaced[key] = row
		}
	}

	captured := make(map[string]struct{}, len(entry.Agents))
	for _, key := range entry.Agents {
		captured[key] = struct{}{}
	}
	for _, key := range mr.ChangedAgents {
		if _, ok := captured[key]; ok {
			continue
		}
		captured[key] = struct{}{}
		entry.Agents = append(entry.Agents, key)
		if snap, ok := baseline.Latest[key]; ok {
			entry.Baseline.Latest[key] = snap
			entry.Baseline.History[key] = baseline.History[key]
		}
	}
	sort.Strings(entry.Agents)
	entry.UpdatedAt = now.UTC()

	if err := tx.Set(ctx, ref, entry); err != nil {
		return fmt.Errorf("write undo metadata: %w", err)
	}
	return nil
}

func sortedStringKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
