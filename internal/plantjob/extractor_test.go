package plantjob

import (
	"context"
	"testing"
)

func TestPassthroughFlagsForReview(t *testing.T) {
	pj, err := Passthrough{}.Extract(context.Background(), "  North Plant Welding ")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if pj.PlantName != "North Plant Welding" || pj.PlantKey != "north-plant-welding" {
		t.Fatalf("unexpected plant %+v", pj)
	}
	if pj.JobName != "" || !pj.NeedsReview {
		t.Fatalf("expected an empty job flagged for review, got %+v", pj)
	}
}
