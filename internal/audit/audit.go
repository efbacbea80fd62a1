// Package audit records before/after summaries of every mutation applied to an
// exposure group.
package audit

import (
	"context"
	"fmt"
	"time"

	"exposure_backend/internal/exposure/domain"
	"exposure_backend/platform/docstore"

	"github.com/google/uuid"
)

// Collection holds audit records, keyed "<org>:<time-ordered id>".
const Collection = "audit_logs"

// Type classifies an audit record.
type Type string

const (
	TypeBulkImport     Type = "bulk-import"
	TypeAgentRemoval   Type = "agent-removal"
	TypeUndoImport     Type = "undo-import"
	TypeSampleDeletion Type = "sample-deletion"
	TypeRecompute      Type = "recompute"
)

// Record is one audit log entry.
type Record struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Type           Type           `json:"type"`
	GroupID        string         `json:"groupId"`
	GroupName      string         `json:"groupName"`
	JobID          string         `json:"jobId,omitempty"`
	Before         domain.Summary `json:"before"`
	After          domain.Summary `json:"after"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Log writes and reads audit records.
type Log struct {
	store docstore.Store
}

// New creates an audit log over store.
func New(store docstore.Store) *Log {
	return &Log{store: store}
}

// Write stores rec inside tx so it commits together with the group change.
func (l *Log) Write(ctx context.Context, tx docstore.Tx, organizationID uuid.UUID, rec Record) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit id: %w", err)
	}
	rec.ID = id.String()
	rec.OrganizationID = organizationID.String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return tx.Set(ctx, docstore.NewRef(Collection, organizationID.String(), rec.ID), rec)
}

// List returns an organization's audit records oldest first, optionally for one group.
func (l *Log) List(ctx context.Context, organizationID uuid.UUID, groupID string, limit int) ([]Record, error) {
	docs, err := l.store.List(ctx, Collection, organizationID.String()+":")
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		var rec Record
		if err := doc.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode audit record %s: %w", doc.Ref.ID, err)
		}
		if groupID != "" && rec.GroupID != groupID {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
