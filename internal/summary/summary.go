// Package summary maintains one document per organization listing the headline
// exposure figures of each group. It is updated from group events, outside the
// group transactions.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exposure_backend/internal/events"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
)

// Collection holds one summary document per organization.
const Collection = "org_summaries"

// GroupEntry is the headline view of one exposure group.
type GroupEntry struct {
	Name               string    `json:"name"`
	TopAgentKey        string    `json:"topAgentKey"`
	TopAgentName       string    `json:"topAgentName"`
	ExceedanceFraction float64   `json:"exceedanceFraction"`
	AIHARating         int       `json:"aihaRating"`
	SampleCount        int       `json:"sampleCount"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// OrganizationSummary is the persisted summary document.
type OrganizationSummary struct {
	OrganizationID string                `json:"organizationId"`
	Groups         map[string]GroupEntry `json:"groups"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

func ref(organizationID uuid.UUID) docstore.Ref {
	return docstore.NewRef(Collection, organizationID.String())
}

// Service reads and maintains organization summaries.
type Service struct {
	store docstore.Store
	log   *logger.Logger
}

// New creates the summary service.
func New(store docstore.Store, log *logger.Logger) *Service {
	return &Service{store: store, log: log}
}

// Subscribe wires the service to the group events.
func (s *Service) Subscribe(bus events.Bus) {
	bus.Subscribe(events.GroupCommitted{}.EventName(), events.HandlerFunc(s.handleCommitted))
	bus.Subscribe(events.GroupDeleted{}.EventName(), events.HandlerFunc(s.handleDeleted))
}

func (s *Service) handleCommitted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.GroupCommitted)
	if !ok {
		return nil
	}
	entry := GroupEntry{
		Name:               e.GroupName,
		TopAgentKey:        e.TopAgentKey,
		TopAgentName:       e.TopAgentName,
		ExceedanceFraction: e.ExceedanceFraction,
		AIHARating:         e.AIHARating,
		SampleCount:        e.SampleCount,
		UpdatedAt:          e.OccurredAt(),
	}
	patch := docstore.NewPatch().
		Set(docstore.P("organizationId"), e.OrganizationID.String()).
		Set(docstore.P("groups", e.GroupID), entry).
		Set(docstore.P("updatedAt"), e.OccurredAt())
	if err := s.store.Apply(ctx, ref(e.OrganizationID), patch); err != nil {
		s.dbError("update summary", err)
		return fmt.Errorf("update summary for group %s: %w", e.GroupID, err)
	}
	return nil
}

func (s *Service) handleDeleted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.GroupDeleted)
	if !ok {
		return nil
	}
	patch := docstore.NewPatch().
		Delete(docstore.P("groups", e.GroupID)).
		Set(docstore.P("updatedAt"), e.OccurredAt())
	if err := s.store.Apply(ctx, ref(e.OrganizationID), patch); err != nil {
		s.dbError("remove summary entry", err)
		return fmt.Errorf("remove group %s from summary: %w", e.GroupID, err)
	}
	return nil
}

func (s *Service) dbError(operation string, err error) {
	if s.log != nil {
		s.log.DatabaseError(operation, err)
	}
}

// Get returns the organization's summary; an organization without groups gets an empty one.
func (s *Service) Get(ctx context.Context, organizationID uuid.UUID) (*OrganizationSummary, error) {
	if organizationID == uuid.Nil {
		return nil, apperr.Validation("organization is required")
	}
	var sum OrganizationSummary
	err := s.store.Get(ctx, ref(organizationID), &sum)
	if errors.Is(err, docstore.ErrNotFound) {
		return &OrganizationSummary{OrganizationID: organizationID.String(), Groups: map[string]GroupEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	if sum.Groups == nil {
		sum.Groups = map[string]GroupEntry{}
	}
	return &sum, nil
}
