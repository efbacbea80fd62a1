// Package repository persists exposure group documents and the per-job undo
// metadata in the document store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exposure_backend/internal/exposure/domain"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/docstore"

	"github.com/google/uuid"
)

const (
	// GroupsCollection holds one document per exposure group, keyed "<org>:<group>".
	GroupsCollection = "exposure_groups"
	// JobGroupsCollection holds undo metadata keyed "<org>:<job>:<group>".
	JobGroupsCollection = "job_groups"
)

// UndoGroup is what an import must remember about one group to be reversed.
type UndoGroup struct {
	JobID     string `json:"jobId"`
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	// Replaced maps compound keys, and bare sample numbers, to the row the job overwrote.
	Replaced map[string]domain.SampleRecord `json:"replaced"`
	// Baseline holds the snapshots of the agents the job touched, as they were
	// before its first batch reached the group.
	Baseline domain.Baseline `json:"baseline"`
	// Agents lists every agent whose baseline was captured, with or without a snapshot.
	Agents    []string  `json:"agents"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GroupRef addresses an exposure group document.
func GroupRef(organizationID uuid.UUID, groupID string) docstore.Ref {
	return docstore.NewRef(GroupsCollection, organizationID.String(), groupID)
}

// UndoGroupRef addresses the undo metadata of one (job, group) pair.
func UndoGroupRef(organizationID uuid.UUID, jobID, groupID string) docstore.Ref {
	return docstore.NewRef(JobGroupsCollection, organizationID.String(), jobID, groupID)
}

// Repository reads group documents and undo metadata outside transactions.
type Repository struct {
	store docstore.Store
}

// New creates a repository over store.
func New(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying document store.
func (r *Repository) Store() docstore.Store {
	return r.store
}

// GetGroup loads a group document.
func (r *Repository) GetGroup(ctx context.Context, organizationID uuid.UUID, groupID string) (*domain.GroupDocument, error) {
	var doc domain.GroupDocument
	err := r.store.Get(ctx, GroupRef(organizationID, groupID), &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, apperr.NotFound("exposure group not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", groupID, err)
	}
	return &doc, nil
}

// ListGroups returns every group document of an organization.
func (r *Repository) ListGroups(ctx context.Context, organizationID uuid.UUID) ([]domain.GroupDocument, error) {
	docs, err := r.store.List(ctx, GroupsCollection, organizationID.String()+":")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	out := make([]domain.GroupDocument, 0, len(docs))
	for _, d := range docs {
		var g domain.GroupDocument
		if err := d.Decode(&g); err != nil {
			return nil, fmt.Errorf("decode group %s: %w", d.Ref.ID, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// ListUndoGroups returns the undo metadata recorded for a job.
func (r *Repository) ListUndoGroups(ctx context.Context, organizationID uuid.UUID, jobID string) ([]UndoGroup, error) {
	docs, err := r.store.List(ctx, JobGroupsCollection, organizationID.String()+":"+jobID+":")
	if err != nil {
		return nil, fmt.Errorf("list undo groups: %w", err)
	}
	out := make([]UndoGroup, 0, len(docs))
	for _, d := range docs {
		var g UndoGroup
		if err := d.Decode(&g); err != nil {
			return nil, fmt.Errorf("decode undo group %s: %w", d.Ref.ID, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// LoadGroup reads a group inside tx. A missing group returns (nil, false, nil).
func LoadGroup(ctx context.Context, tx docstore.Tx, ref docstore.Ref) (*domain.GroupDocument, bool, error) {
	var doc domain.GroupDocument
	err := tx.Get(ctx, ref, &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if doc.LatestExceedanceFractionByAgent == nil {
		doc.LatestExceedanceFractionByAgent = map[string]domain.Snapshot{}
	}
	if doc.ExceedanceFractionHistoryByAgent == nil {
		doc.ExceedanceFractionHistoryByAgent = map[string][]domain.Snapshot{}
	}
	return &doc, true, nil
}

// LoadUndoGroup reads undo metadata inside tx. A missing entry returns (nil, false, nil).
func LoadUndoGroup(ctx context.Context, tx docstore.Tx, ref docstore.Ref) (*UndoGroup, bool, error) {
	var g UndoGroup
	err := tx.Get(ctx, ref, &g)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &g, true, nil
}

// GroupPatch converts a recomputation into field operations on an existing document.
// Skipped recomputations only rewrite the result window.
func GroupPatch(rc domain.Recomputation, now time.Time) *docstore.Patch {
	p := docstore.NewPatch().
		Set(docstore.P("results"), rc.Results).
		Set(docstore.P("resultsPreview"), rc.Preview).
		Set(docstore.P("updatedAt"), now.UTC())
	if rc.Skipped {
		return p
	}
	for _, key := range rc.Updated {
		p.Set(docstore.P("latestExceedanceFractionByAgent", key), rc.Latest[key])
		p.Set(docstore.P("exceedanceFractionHistoryByAgent", key), rc.History[key])
	}
	for _, key := range rc.Removed {
		p.Delete(docstore.P("latestExceedanceFractionByAgent", key))
		p.Delete(docstore.P("exceedanceFractionHistoryByAgent", key))
	}
	if rc.TopChanged && rc.Top != nil {
		p.Set(docstore.P("latestExceedanceFraction"), rc.Top)
		p.ArrayAppend(docstore.P("exceedanceFractionHistory"), rc.Top)
	}
	return p
}
