// Package service implements the agent directory: per-organization exposure
// limits keyed by agent, read by the exposure engine during recomputation.
package service

import (
	"context"
	"fmt"
	"strings"

	"exposure_backend/internal/agents/repository"
	"exposure_backend/internal/agents/transport"
	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence the directory needs.
type Store interface {
	ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]repository.Agent, error)
	Upsert(ctx context.Context, agent repository.Agent) (repository.Agent, error)
}

// Service manages agent exposure limits.
type Service struct {
	repo       Store
	cache      *Cache
	eventBus   events.Bus
	defaultOEL float64
	log        *logger.Logger
}

// New creates the agent directory service.
func New(repo Store, defaultOEL float64, log *logger.Logger) *Service {
	if defaultOEL <= 0 {
		defaultOEL = domain.DefaultOEL
	}
	return &Service{repo: repo, defaultOEL: defaultOEL, log: log}
}

// SetCache enables the Redis read-through cache.
func (s *Service) SetCache(cache *Cache) {
	s.cache = cache
}

// SetEventBus enables AgentOELChanged notifications.
func (s *Service) SetEventBus(bus events.Bus) {
	s.eventBus = bus
}

// DefaultOEL returns the limit applied to agents missing from the directory.
func (s *Service) DefaultOEL() float64 {
	return s.defaultOEL
}

// Directory returns the organization's agent-key to OEL lookup.
// Cache failures fall back to the database.
func (s *Service) Directory(ctx context.Context, organizationID uuid.UUID) (domain.OELMap, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, organizationID)
		if err != nil {
			s.warn("agent cache read failed", err)
		} else if ok {
			return domain.OELMap(cached), nil
		}
	}

	agents, err := s.repo.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load agent directory: %w", err)
	}
	dir := make(domain.OELMap, len(agents))
	for _, a := range agents {
		dir[a.Key] = a.OEL
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, organizationID, dir); err != nil {
			s.warn("agent cache write failed", err)
		}
	}
	return dir, nil
}

// List returns the organization's agents.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID) (*transport.AgentListResponse, error) {
	agents, err := s.repo.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	items := make([]transport.AgentResponse, 0, len(agents))
	for _, a := range agents {
		items = append(items, toResponse(a))
	}
	return &transport.AgentListResponse{Items: items, DefaultOEL: s.defaultOEL}, nil
}

// Upsert sets an agent's limit. key may be a raw agent name; it is slugified
// the same way sample rows derive their agent key.
func (s *Service) Upsert(ctx context.Context, organizationID uuid.UUID, key string, req transport.UpsertAgentRequest) (*transport.AgentResponse, error) {
	name := strings.TrimSpace(req.Name)
	agentKey := domain.Slugify(key)
	if agentKey == domain.UnknownAgentKey {
		agentKey = domain.Slugify(name)
	}
	if agentKey == domain.UnknownAgentKey {
		return nil, apperr.Validation("agent key is required")
	}
	if req.OEL <= 0 {
		return nil, apperr.Validation("oel must be positive")
	}

	stored, err := s.repo.Upsert(ctx, repository.Agent{
		OrganizationID: organizationID,
		Key:            agentKey,
		Name:           name,
		OEL:            req.OEL,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, organizationID); err != nil {
			s.warn("agent cache invalidation failed", err)
		}
	}
	if s.eventBus != nil {
		s.eventBus.Publish(ctx, events.AgentOELChanged{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: organizationID,
			AgentKey:       stored.Key,
			OEL:            stored.OEL,
		})
	}

	resp := toResponse(stored)
	return &resp, nil
}

func (s *Service) warn(msg string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "error", err)
	}
}

func toResponse(a repository.Agent) transport.AgentResponse {
	return transport.AgentResponse{
		Key:       a.Key,
		Name:      a.Name,
		OEL:       a.OEL,
		UpdatedAt: a.UpdatedAt,
	}
}
