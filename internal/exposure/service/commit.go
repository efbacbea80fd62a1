package service

import (
	"context"
	"fmt"
	"time"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/repository"
	"exposure_backend/platform/docstore"

	"github.com/google/uuid"
)

// change is what a mutation wants done to one group.
type change struct {
	results         []domain.SampleRecord
	inputsUnchanged bool
	baseline        *domain.Baseline
	// noop leaves the document untouched; afterTx still runs.
	noop bool
	// noopIfSkipped turns the commit into a no-op when the change gate skipped
	// recomputation, so an identical reimport writes nothing.
	noopIfSkipped bool
	metadata      map[string]any
	// afterTx performs extra writes in the same transaction once the group is settled.
	afterTx func(ctx context.Context, tx docstore.Tx, res *commitResult) error
}

// groupMutation describes one read-modify-write of a group document.
type groupMutation struct {
	op        audit.Type
	groupID   string
	groupName string
	jobID     string
	// create builds a new document when the group does not exist yet.
	create bool
	mutate func(doc *domain.GroupDocument, exists bool) (*change, error)
}

// commitResult is the settled outcome of a group transaction.
type commitResult struct {
	rc      domain.Recomputation
	doc     *domain.GroupDocument
	before  domain.Summary
	after   domain.Summary
	exists  bool
	deleted bool
	noop    bool
	missing bool
}

// commitGroup reads, mutates, recomputes and writes one group atomically, then
// records the audit entry in the same transaction. Events are published after
// the commit. The transaction body may run several times on write conflicts, so
// it only touches the transaction and its own result.
func (s *Service) commitGroup(ctx context.Context, organizationID uuid.UUID, dir domain.OELSource, m groupMutation) (*commitResult, error) {
	ref := repository.GroupRef(organizationID, m.groupID)
	start := time.Now()
	var res *commitResult

	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		res = &commitResult{}
		now := s.now().UTC()

		doc, exists, err := repository.LoadGroup(ctx, tx, ref)
		if err != nil {
			return fmt.Errorf("load group: %w", err)
		}
		res.exists = exists
		if !exists {
			if !m.create {
				res.missing = true
				res.noop = true
				return nil
			}
			doc = domain.NewGroupDocument(m.groupID, organizationID.String(), m.groupName, now)
			if s.extractor != nil {
				pj, err := s.extractor.Extract(ctx, m.groupName)
				if err != nil {
					return fmt.Errorf("extract plant/job: %w", err)
				}
				doc.PlantJob = &pj
			}
		}
		if exists {
			res.before = domain.Summarize(doc)
		} else {
			res.before = domain.Summarize(nil)
		}

		ch, err := m.mutate(doc, exists)
		if err != nil {
			return err
		}
		if ch.noop {
			res.noop = true
			res.doc = doc
			return runAfter(ctx, tx, ch, res)
		}

		rc := domain.Recompute(doc, ch.results, domain.RecomputeOptions{
			Directory:       dir,
			DefaultOEL:      s.cfg.DefaultOEL,
			Now:             now,
			Baseline:        ch.baseline,
			InputsUnchanged: ch.inputsUnchanged,
		})
		res.rc = rc
		if ch.noopIfSkipped && rc.Skipped {
			res.noop = true
			res.doc = doc
			return runAfter(ctx, tx, ch, res)
		}

		switch {
		case rc.Empty:
			if exists {
				if err := tx.Delete(ctx, ref); err != nil {
					return fmt.Errorf("delete group: %w", err)
				}
				res.deleted = true
			} else {
				res.noop = true
			}
			res.after = domain.Summarize(nil)
		case !exists:
			doc.Apply(rc, now)
			if err := tx.Set(ctx, ref, doc); err != nil {
				return fmt.Errorf("create group: %w", err)
			}
			res.after = domain.Summarize(doc)
		default:
			if err := tx.Apply(ctx, ref, repository.GroupPatch(rc, now)); err != nil {
				return fmt.Errorf("update group: %w", err)
			}
			doc.Apply(rc, now)
			res.after = domain.Summarize(doc)
		}
		res.doc = doc

		if err := runAfter(ctx, tx, ch, res); err != nil {
			return err
		}
		if res.noop {
			return nil
		}

		metadata := map[string]any{
			"skipped": rc.Skipped,
			"reused":  rc.Reused,
		}
		if changed := domain.ChangedAgents(rc.Updated, rc.Removed); len(changed) > 0 {
			metadata["changedAgents"] = changed
		}
		for k, v := range ch.metadata {
			metadata[k] = v
		}
		return s.audit.Write(ctx, tx, organizationID, audit.Record{
			Type:      m.op,
			GroupID:   m.groupID,
			GroupName: doc.Name,
			JobID:     m.jobID,
			Before:    res.before,
			After:     res.after,
			Metadata:  metadata,
			CreatedAt: now,
		})
	})
	if err != nil {
		s.metrics.observeDuration(string(m.op), time.Since(start))
		return nil, fmt.Errorf("commit group %s: %w", m.groupID, err)
	}
	s.metrics.observeCommit(string(m.op), res, time.Since(start))

	s.publishCommit(ctx, organizationID, m, res)
	return res, nil
}

func runAfter(ctx context.Context, tx docstore.Tx, ch *change, res *commitResult) error {
	if ch.afterTx == nil {
		return nil
	}
	return ch.afterTx(ctx, tx, res)
}

// publishCommit announces the committed state so read models follow it.
func (s *Service) publishCommit(ctx context.Context, organizationID uuid.UUID, m groupMutation, res *commitResult) {
	if s.eventBus == nil || res == nil || res.noop {
		return
	}
	var err error
	if res.deleted {
		err = s.eventBus.PublishSync(ctx, events.GroupDeleted{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: organizationID,
			GroupID:        m.groupID,
			Operation:      string(m.op),
		})
	} else {
		e := events.GroupCommitted{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: organizationID,
			GroupID:        m.groupID,
			GroupName:      res.doc.Name,
			Operation:      string(m.op),
			SampleCount:    len(res.doc.Results),
		}
		if top := res.doc.LatestExceedanceFraction; top != nil {
			e.TopAgentKey = top.AgentKey
			e.TopAgentName = top.AgentName
			e.ExceedanceFraction = top.ExceedanceFraction
			e.AIHARating = top.AIHARating
		}
		err = s.eventBus.PublishSync(ctx, e)
	}
	if err != nil && s.log != nil {
		s.log.Warn("group event handler failed", "group_id", m.groupID, "error", err)
	}
}
