package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestRevertImportRoundTrip(t *testing.T) {
	doc := NewGroupDocument("g", "org", "Welding Bay", testNow)
	importInto(doc, []RawSample{
		sample("1", dated(1), "Lead", 0.02),
		sample("2", dated(2), "Lead", 0.04),
		sample("3", dated(3), "Silica", 0.03),
		sample("4", dated(4), "Silica", 0.01),
	}, "job-a", testNow)

	var before GroupDocument
	clone(t, doc, &before)

	later := testNow.Add(time.Hour)
	merged := Merge(doc.Results, normalizeAll([]RawSample{
		sample("2", dated(2), "Lead", 0.09),
		sample("5", dated(5), "Benzene", 0.2),
		sample("", dated(6), "Benzene", 0.3),
	}, "job-b"), "job-b")
	baseline := doc.BaselineFor(merged.ChangedAgents)
	doc.Apply(Recompute(doc, merged.Results, RecomputeOptions{DefaultOEL: DefaultOEL, Now: later}), later)

	if doc.LatestExceedanceFractionByAgent["benzene"].MostRecentNumber != 2 {
		t.Fatalf("expected benzene from the second import")
	}

	undone := testNow.Add(2 * time.Hour)
	reverted := RevertImport(doc.Results, "job-b", merged.Replaced)
	if reverted.Removed != 3 || reverted.Restored != 1 {
		t.Fatalf("expected 3 removed and 1 restored, got %+v", reverted)
	}
	doc.Apply(Recompute(doc, reverted.Results, RecomputeOptions{DefaultOEL: DefaultOEL, Now: undone, Baseline: &baseline}), undone)

	if !reflect.DeepEqual(doc.Results, before.Results) {
		t.Fatalf("results differ after undo:\n got %+v\nwant %+v", doc.Results, before.Results)
	}
	assertJSONEqual(t, doc.LatestExceedanceFractionByAgent, before.LatestExceedanceFractionByAgent)
	assertJSONEqual(t, doc.ExceedanceFractionHistoryByAgent, before.ExceedanceFractionHistoryByAgent)
	assertJSONEqual(t, doc.LatestExceedanceFraction, before.LatestExceedanceFraction)
}

func TestRevertImportKeepsLaterImports(t *testing.T) {
	a := normalizeAll([]RawSample{sample("1", dated(1), "Lead", 0.1)}, "job-a")
	b := Merge(a, normalizeAll([]RawSample{sample("1", dated(1), "Lead", 0.2)}, "job-b"), "job-b")
	c := Merge(b.Results, normalizeAll([]RawSample{sample("1", dated(1), "Lead", 0.3)}, "job-c"), "job-c")

	reverted := RevertImport(c.Results, "job-b", b.Replaced)
	if len(reverted.Results) != 1 || reverted.Results[0].TWAValue() != 0.3 {
		t.Fatalf("expected the later import to survive, got %+v", reverted.Results)
	}
	if reverted.Restored != 0 {
		t.Fatalf("expected nothing restored, got %d", reverted.Restored)
	}
}

func TestRevertImportLegacyWithoutReplacedMap(t *testing.T) {
	rows := append(
		normalizeAll([]RawSample{sample("1", dated(1), "Lead", 0.1)}, "job-a"),
		normalizeAll([]RawSample{sample("2", dated(2), "Lead", 0.2)}, "job-b")...,
	)
	reverted := RevertImport(rows, "job-b", nil)
	if len(reverted.Results) != 1 || *reverted.Results[0].SampleNumber != "1" {
		t.Fatalf("expected only the job-a row left, got %+v", reverted.Results)
	}
}

func TestDeleteMatching(t *testing.T) {
	rows := Finalize(normalizeAll([]RawSample{
		sample("1", dated(1), "Lead", 0.1),
		sample("2", dated(2), "Lead", 0.2),
		sample("3", dated(3), "Silica", 0.3),
	}, "job"))

	sn := "2"
	agent := "Lead"
	twa := 0.2000001
	wrongAgent := "silica"
	missing := "99"
	result := DeleteMatching(rows, []DeletionCriterion{
		{SampleNumber: &sn, AgentKey: &agent, TWA: &twa},
		{SampleNumber: &sn, AgentKey: &wrongAgent},
		{SampleNumber: &missing},
		{},
	})
	if result.Removed != 1 || len(result.Results) != 2 {
		t.Fatalf("expected one row removed, got %+v", result)
	}
	if !reflect.DeepEqual(result.NotFound, []int{1, 2, 3}) {
		t.Fatalf("expected partial and empty criteria reported as not found, got %v", result.NotFound)
	}
}

func TestGroupIDIsStable(t *testing.T) {
	org := mustUUID(t, "2b1f3c1e-6a75-4a0f-9d5b-9a3a6d2c1e11")
	if GroupID(org, "Welding Bay") != GroupID(org, " welding  bay ") {
		t.Fatalf("expected group IDs to ignore case and spacing")
	}
	if GroupID(org, "Welding Bay") == GroupID(org, "Paint Shop") {
		t.Fatalf("expected distinct groups to get distinct IDs")
	}
	if GroupID(org, "溶接ライン") == GroupID(org, "塗装ライン") {
		t.Fatalf("expected names without ASCII letters to get distinct IDs")
	}
	if GroupID(org, "Welding-Bay") == GroupID(org, "Welding Bay") {
		t.Fatalf("expected punctuation to distinguish group names")
	}
}

func clone(t *testing.T, src, dst any) {
	t.Helper()
	raw, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func assertJSONEqual(t *testing.T, got, want any) {
	t.Helper()
	g, _ := json.Marshal(got)
	w, _ := json.Marshal(want)
	if string(g) != string(w) {
		t.Fatalf("documents differ:\n got %s\nwant %s", g, w)
	}
}
