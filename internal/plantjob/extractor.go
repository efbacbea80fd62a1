// Package plantjob splits an exposure group name into its plant and job parts.
// The splitting heuristics live outside this service; the default extractor
// records the whole name as the plant and flags it for review.
package plantjob

import (
	"context"
	"strings"

	"exposure_backend/internal/exposure/domain"
)

// Extractor derives the plant/job label of a group name.
type Extractor interface {
	Extract(ctx context.Context, groupName string) (domain.PlantJob, error)
}

// Passthrough labels the whole group name as the plant and always asks for review.
type Passthrough struct{}

// Extract implements Extractor.
func (Passthrough) Extract(_ context.Context, groupName string) (domain.PlantJob, error) {
	name := strings.TrimSpace(groupName)
	return domain.PlantJob{
		PlantName:   name,
		PlantKey:    domain.Slugify(name),
		NeedsReview: true,
	}, nil
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, groupName string) (domain.PlantJob, error)

// Extract implements Extractor.
func (f Func) Extract(ctx context.Context, groupName string) (domain.PlantJob, error) {
	return f(ctx, groupName)
}

var (
	_ Extractor = Passthrough{}
	_ Extractor = Func(nil)
)
