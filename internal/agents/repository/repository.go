package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Agent is the database model for an agent's exposure limit.
type Agent struct {
	OrganizationID uuid.UUID `db:"organization_id"`
	Key            string    `db:"agent_key"`
	Name           string    `db:"name"`
	OEL            float64   `db:"oel"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Repository reads and writes the agents table.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new agents repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByOrganization returns every agent of an organization ordered by key.
func (r *Repository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT organization_id, agent_key, name, oel, created_at, updated_at
		FROM agents
		WHERE organization_id = $1
		ORDER BY agent_key
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]Agent, 0)
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.OrganizationID, &a.Key, &a.Name, &a.OEL, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Upsert creates or updates an agent and returns the stored row.
func (r *Repository) Upsert(ctx context.Context, agent Agent) (Agent, error) {
	var out Agent
	err := r.pool.QueryRow(ctx, `
		INSERT INTO agents (organization_id, agent_key, name, oel)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, agent_key) DO UPDATE
		SET
			name = EXCLUDED.name,
			oel = EXCLUDED.oel,
			updated_at = now()
		RETURNING organization_id, agent_key, name, oel, created_at, updated_at
	`, agent.OrganizationID, agent.Key, agent.Name, agent.OEL).Scan(
		&out.OrganizationID, &out.Key, &out.Name, &out.OEL, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return Agent{}, fmt.Errorf("upsert agent %s: %w", agent.Key, err)
	}
	return out, nil
}
