package jobs

import (
	"context"
	"fmt"
	"time"
)

// PurgeFinished deletes finished jobs of the given kinds last updated before
// cutoff. Running jobs and jobs with an undo in progress are kept.
func (t *Tracker) PurgeFinished(ctx context.Context, cutoff time.Time, kinds ...Kind) (int, error) {
	wanted := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		wanted[k] = struct{}{}
	}

	docs, err := t.store.List(ctx, Collection, "")
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	deleted := 0
	for _, doc := range docs {
		var job Job
		if err := doc.Decode(&job); err != nil {
			return deleted, fmt.Errorf("decode job %s: %w", doc.Ref.ID, err)
		}
		if _, ok := wanted[job.Kind]; !ok {
			continue
		}
		if job.Status == StatusRunning || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		if job.Undo != nil && job.Undo.Phase == PhaseRunning {
			continue
		}
		if err := t.store.Delete(ctx, doc.Ref); err != nil {
			return deleted, fmt.Errorf("delete job %s: %w", doc.Ref.ID, err)
		}
		deleted++
	}
	return deleted, nil
}
