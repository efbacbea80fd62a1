// Command agent-seed loads an organization's agent directory from a YAML file.
//
// File format:
//
//	organizationId: 7b0c...
//	agents:
//	  - key: lead
//	    name: Lead
//	    oel: 0.05
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	agentsrepo "exposure_backend/internal/agents/repository"
	agentsservice "exposure_backend/internal/agents/service"
	"exposure_backend/internal/agents/transport"
	"exposure_backend/platform/config"
	"exposure_backend/platform/db"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type seedAgent struct {
	Key  string  `yaml:"key"`
	Name string  `yaml:"name"`
	OEL  float64 `yaml:"oel"`
}

type seedFile struct {
	OrganizationID string      `yaml:"organizationId"`
	Agents         []seedAgent `yaml:"agents"`
}

func main() {
	path := flag.String("file", "agents.yaml", "YAML file with the agent directory")
	dryRun := flag.Bool("dry-run", false, "validate the file without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.New(cfg.Env)

	seed, orgID, err := readSeed(*path)
	if err != nil {
		log.Error("invalid seed file", "file", *path, "error", err)
		os.Exit(1)
	}
	log.Info("seed file loaded", "file", *path, "organization_id", orgID, "agents", len(seed.Agents))
	if *dryRun {
		return
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// No cache or event bus: the API drops stale cache entries after AGENT_CACHE_TTL.
	svc := agentsservice.New(agentsrepo.New(pool), cfg.GetExposureDefaultOEL(), log)

	failed := 0
	for _, a := range seed.Agents {
		if _, err := svc.Upsert(ctx, orgID, a.Key, transport.UpsertAgentRequest{Name: a.Name, OEL: a.OEL}); err != nil {
			failed++
			log.Error("agent upsert failed", "key", a.Key, "error", err)
			continue
		}
	}
	log.Info("agent seed complete", "upserted", len(seed.Agents)-failed, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func readSeed(path string) (*seedFile, uuid.UUID, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, uuid.Nil, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, uuid.Nil, fmt.Errorf("parse yaml: %w", err)
	}
	orgID, err := uuid.Parse(strings.TrimSpace(seed.OrganizationID))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("organizationId: %w", err)
	}
	for i, a := range seed.Agents {
		if strings.TrimSpace(a.Name) == "" && strings.TrimSpace(a.Key) == "" {
			return nil, uuid.Nil, fmt.Errorf("agent %d has neither key nor name", i)
		}
		if a.OEL <= 0 {
			return nil, uuid.Nil, fmt.Errorf("agent %d: oel must be positive", i)
		}
	}
	return &seed, orgID, nil
}
