package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(number, date, agent string, twa float64) RawSample {
	return RawSample{SampleNumber: number, SampleDate: date, ExposureGroup: "Welding Bay", Agent: agent, TWA: twa}
}

func normalizeAll(rows []RawSample, jobID string) []SampleRecord {
	out := make([]SampleRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, NormalizeIncoming(r, jobID))
	}
	return out
}

// importInto runs the same merge, recompute and apply cycle the service does.
func importInto(doc *GroupDocument, rows []RawSample, jobID string, now time.Time) (MergeResult, Recomputation) {
	merged := Merge(doc.Results, normalizeAll(rows, jobID), jobID)
	rc := Recompute(doc, merged.Results, RecomputeOptions{
		DefaultOEL:      DefaultOEL,
		Now:             now,
		InputsUnchanged: merged.Unchanged(),
	})
	doc.Apply(rc, now)
	return merged, rc
}

func dated(day int) string {
	return fmt.Sprintf("2026-01-%02d", day)
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid: %v", err)
	}
	return id
}
