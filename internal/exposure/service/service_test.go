package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"exposure_backend/internal/audit"
	"exposure_backend/internal/events"
	"exposure_backend/internal/exposure/domain"
	"exposure_backend/internal/exposure/repository"
	"exposure_backend/internal/exposure/transport"
	"exposure_backend/internal/jobs"
	"exposure_backend/internal/plantjob"
	"exposure_backend/internal/summary"
	"exposure_backend/platform/apperr"
	"exposure_backend/platform/docstore"
	"exposure_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type staticDirectory domain.OELMap

func (d staticDirectory) Directory(context.Context, uuid.UUID) (domain.OELMap, error) {
	return domain.OELMap(d), nil
}

type failingDirectory struct{}

func (failingDirectory) Directory(context.Context, uuid.UUID) (domain.OELMap, error) {
	return nil, errors.New("directory offline")
}

type fixture struct {
	svc      *Service
	store    *docstore.MemoryStore
	summary  *summary.Service
	registry *prometheus.Registry
	org      uuid.UUID
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New("development")
	store := docstore.NewMemoryStore()
	bus := events.NewInMemoryBus(log)
	sum := summary.New(store, log)
	sum.Subscribe(bus)

	f := &fixture{store: store, summary: sum, registry: prometheus.NewRegistry(), org: uuid.New(), clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.svc = New(store, Config{Workers: 4, FlushEvery: 2}, log)
	f.svc.SetEventBus(bus)
	f.svc.SetMetrics(NewMetrics(f.registry))
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func row(number, date, agent string, twa float64) domain.RawSample {
	return domain.RawSample{SampleNumber: number, SampleDate: date, Agent: agent, TWA: twa}
}

func (f *fixture) importRows(t *testing.T, jobID, group string, rows ...domain.RawSample) *transport.ImportBatchResponse {
	t.Helper()
	resp, err := f.svc.ImportBatch(context.Background(), f.org, transport.ImportBatchRequest{
		JobID:  jobID,
		Groups: []transport.ImportGroup{{Name: group, Samples: rows}},
	})
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	return resp
}

func (f *fixture) group(t *testing.T, name string) *domain.GroupDocument {
	t.Helper()
	doc, err := f.svc.GetGroup(context.Background(), f.org, domain.GroupID(f.org, name))
	if err != nil {
		t.Fatalf("GetGroup(%s): %v", name, err)
	}
	return doc
}

// counter reads a counter labelled with operation from the fixture's registry.
func (f *fixture) counter(t *testing.T, name, operation string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "operation" && l.GetValue() == operation {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func assertJSONEqual(t *testing.T, label string, got, want any) {
	t.Helper()
	g, _ := json.Marshal(got)
	w, _ := json.Marshal(want)
	if string(g) != string(w) {
		t.Fatalf("%s differs:\n got %s\nwant %s", label, g, w)
	}
}

func TestImportCreatesGroupDocument(t *testing.T) {
	f := newFixture(t)
	resp := f.importRows(t, "job-a", "Welding Bay",
		row("1", "2026-01-01", "Lead", 0.04),
		row("2", "2026-01-02", "Lead", 0.05),
		row("3", "2026-01-03", "Lead", 0.06),
	)
	if !resp.OK || resp.RowsWritten != 3 || resp.GroupsProcessed != 1 || resp.Status != string(jobs.StatusCompleted) {
		t.Fatalf("unexpected response %+v", resp)
	}

	doc := f.group(t, "Welding Bay")
	if len(doc.Results) != 3 || doc.Results[0].SampleDate != "2026-01-03" {
		t.Fatalf("expected 3 rows newest first, got %+v", doc.Results)
	}
	snap, ok := doc.LatestExceedanceFractionByAgent["lead"]
	if !ok || snap.MostRecentNumber != 3 || snap.OELNumber != domain.DefaultOEL {
		t.Fatalf("unexpected lead snapshot %+v", snap)
	}
	if doc.LatestExceedanceFraction == nil || doc.LatestExceedanceFraction.AgentKey != "lead" {
		t.Fatalf("expected lead as top snapshot")
	}
	if len(doc.ExceedanceFractionHistory) != 1 {
		t.Fatalf("expected one top history entry, got %d", len(doc.ExceedanceFractionHistory))
	}
	if doc.PlantJob == nil || !doc.PlantJob.NeedsReview {
		t.Fatalf("expected plant/job label flagged for review, got %+v", doc.PlantJob)
	}

	job, err := f.svc.GetJob(context.Background(), f.org, "job-a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Counters[jobs.CounterRowsWritten] != 3 || job.Status != jobs.StatusCompleted {
		t.Fatalf("unexpected job %+v", job)
	}

	sum, _ := f.summary.Get(context.Background(), f.org)
	if entry := sum.Groups[doc.ID]; entry.TopAgentKey != "lead" || entry.SampleCount != 3 {
		t.Fatalf("unexpected summary entry %+v", entry)
	}
}

func TestIdenticalReimportChangesNothing(t *testing.T) {
	f := newFixture(t)
	rows := []domain.RawSample{
		row("1", "2026-01-01", "Lead", 0.04),
		row("2", "2026-01-02", "Lead", 0.05),
	}
	f.importRows(t, "job-a", "Welding Bay", rows...)
	before := f.group(t, "Welding Bay")
	auditBefore, _ := f.svc.ListAudit(context.Background(), f.org, transport.ListAuditRequest{})

	resp := f.importRows(t, "job-b", "Welding Bay", rows...)
	if resp.RowsWritten != 0 || !resp.OK {
		t.Fatalf("expected nothing written, got %+v", resp)
	}

	after := f.group(t, "Welding Bay")
	assertJSONEqual(t, "document", after, before)
	auditAfter, _ := f.svc.ListAudit(context.Background(), f.org, transport.ListAuditRequest{})
	if len(auditAfter) != len(auditBefore) {
		t.Fatalf("expected no audit record for a no-op import")
	}

	if _, err := f.svc.UndoImport(context.Background(), f.org, "job-b"); !apperr.Is(err, apperr.KindFailedPrecondition) {
		t.Fatalf("expected nothing to undo for the no-op job, got %v", err)
	}
}

func TestUndoRestoresPreImportState(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay",
		row("1", "2026-01-01", "Lead", 0.1),
		row("2", "2026-01-02", "Lead", 0.03),
		row("3", "2026-01-03", "Silica", 0.02),
		row("4", "2026-01-04", "Silica", 0.01),
	)
	before := f.group(t, "Welding Bay")

	resp := f.importRows(t, "job-b", "Welding Bay",
		row("1", "2026-01-01", "Lead", 0.2),
		row("5", "2026-01-05", "Benzene", 0.4),
		row("", "2026-01-06", "Benzene", 0.5),
	)
	if resp.RowsWritten != 3 {
		t.Fatalf("expected 3 rows written, got %d", resp.RowsWritten)
	}
	mid := f.group(t, "Welding Bay")
	if _, ok := mid.LatestExceedanceFractionByAgent["benzene"]; !ok {
		t.Fatalf("expected benzene snapshot after the second import")
	}

	undo, err := f.svc.UndoImport(context.Background(), f.org, "job-b")
	if err != nil {
		t.Fatalf("UndoImport: %v", err)
	}
	if !undo.OK || undo.RevertedGroups != 1 || undo.Removed != 3 || undo.Restored != 1 || undo.Legacy {
		t.Fatalf("unexpected undo response %+v", undo)
	}

	after := f.group(t, "Welding Bay")
	assertJSONEqual(t, "results", after.Results, before.Results)
	assertJSONEqual(t, "latest by agent", after.LatestExceedanceFractionByAgent, before.LatestExceedanceFractionByAgent)
	assertJSONEqual(t, "history by agent", after.ExceedanceFractionHistoryByAgent, before.ExceedanceFractionHistoryByAgent)
	assertJSONEqual(t, "top", after.LatestExceedanceFraction, before.LatestExceedanceFraction)
	if twa := after.Results[len(after.Results)-1].TWAValue(); twa != 0.1 {
		t.Fatalf("expected sample 1 restored to 0.1, got %v", twa)
	}

	job, _ := f.svc.GetJob(context.Background(), f.org, "job-b")
	if job.Undo == nil || job.Undo.Phase != jobs.PhaseDone || job.Undo.Status != jobs.StatusCompleted {
		t.Fatalf("unexpected undo state %+v", job.Undo)
	}
	entries, _ := f.svc.repo.ListUndoGroups(context.Background(), f.org, "job-b")
	if len(entries) != 0 {
		t.Fatalf("expected undo metadata to be consumed, got %d entries", len(entries))
	}
	if _, err := f.svc.UndoImport(context.Background(), f.org, "job-b"); !apperr.Is(err, apperr.KindFailedPrecondition) {
		t.Fatalf("expected a second undo to be rejected, got %v", err)
	}
}

func TestUndoAcrossBatchesOfOneJob(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Paint Shop", row("1", "2026-01-01", "Toluene", 0.5), row("2", "2026-01-02", "Toluene", 0.7))
	before := f.group(t, "Paint Shop")

	f.importRows(t, "job-b", "Paint Shop", row("1", "2026-01-01", "Toluene", 0.9))
	f.importRows(t, "job-b", "Paint Shop", row("1", "2026-01-01", "Toluene", 1.1), row("3", "2026-01-03", "Toluene", 0.2))

	if _, err := f.svc.UndoImport(context.Background(), f.org, "job-b"); err != nil {
		t.Fatalf("UndoImport: %v", err)
	}
	after := f.group(t, "Paint Shop")
	assertJSONEqual(t, "results", after.Results, before.Results)
	assertJSONEqual(t, "latest by agent", after.LatestExceedanceFractionByAgent, before.LatestExceedanceFractionByAgent)
}

func TestUndoOfFirstImportDeletesGroup(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay", row("1", "2026-01-01", "Lead", 0.04))

	undo, err := f.svc.UndoImport(context.Background(), f.org, "job-a")
	if err != nil {
		t.Fatalf("UndoImport: %v", err)
	}
	if undo.GroupsDeleted != 1 {
		t.Fatalf("expected the group to be deleted, got %+v", undo)
	}
	if _, err := f.svc.GetGroup(context.Background(), f.org, domain.GroupID(f.org, "Welding Bay")); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUndoUnknownJob(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.UndoImport(context.Background(), f.org, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.UndoImport(context.Background(), f.org, " "); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLegacyUndoDropsTaggedRows(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay", row("1", "2026-01-01", "Lead", 0.04), row("2", "2026-01-02", "Lead", 0.05))
	f.importRows(t, "job-old", "Welding Bay", row("3", "2026-01-03", "Lead", 0.06))
	groupID := domain.GroupID(f.org, "Welding Bay")
	_ = f.store.Delete(context.Background(), repository.UndoGroupRef(f.org, "job-old", groupID))

	undo, err := f.svc.UndoImport(context.Background(), f.org, "job-old")
	if err != nil {
		t.Fatalf("UndoImport: %v", err)
	}
	if !undo.Legacy || undo.Removed != 1 || undo.Restored != 0 {
		t.Fatalf("unexpected legacy undo %+v", undo)
	}
	if doc := f.group(t, "Welding Bay"); len(doc.Results) != 2 {
		t.Fatalf("expected the tagged row to be gone, got %d rows", len(doc.Results))
	}
}

func TestDeletionToEmptyClearsSummary(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay", row("1", "2026-01-01", "Lead", 0.04), row("2", "2026-01-02", "Lead", 0.05))
	groupID := domain.GroupID(f.org, "Welding Bay")

	lead := "lead"
	resp, err := f.svc.DeleteSamples(context.Background(), f.org, groupID, transport.DeleteSamplesRequest{
		Criteria: []domain.DeletionCriterion{{AgentKey: &lead}},
	})
	if err != nil {
		t.Fatalf("DeleteSamples: %v", err)
	}
	if resp.Status != transport.DeletionStatusGroupDeleted || resp.Removed != 2 {
		t.Fatalf("unexpected deletion response %+v", resp)
	}
	if _, err := f.svc.GetGroup(context.Background(), f.org, groupID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected group deleted, got %v", err)
	}
	sum, _ := f.summary.Get(context.Background(), f.org)
	if _, ok := sum.Groups[groupID]; ok {
		t.Fatalf("expected summary entry to be cleared")
	}

	records, _ := f.svc.ListAudit(context.Background(), f.org, transport.ListAuditRequest{GroupID: groupID})
	last := records[len(records)-1]
	if last.Type != audit.TypeSampleDeletion || last.After.ResultCount != 0 || last.Before.ResultCount != 2 {
		t.Fatalf("unexpected audit record %+v", last)
	}
}

func TestDeleteSamplesReportsUnmatchedCriteria(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay", row("1", "2026-01-01", "Lead", 0.04), row("2", "2026-01-02", "Lead", 0.05))
	groupID := domain.GroupID(f.org, "Welding Bay")

	one, nine := "1", "9"
	wrongTWA := 0.9
	resp, err := f.svc.DeleteSamples(context.Background(), f.org, groupID, transport.DeleteSamplesRequest{
		Criteria: []domain.DeletionCriterion{
			{SampleNumber: &one},
			{SampleNumber: &nine},
			{SampleNumber: &one, TWA: &wrongTWA},
		},
	})
	if err != nil {
		t.Fatalf("DeleteSamples: %v", err)
	}
	if resp.Status != transport.DeletionStatusPartial || resp.Removed != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.NotFound) != 2 || resp.NotFound[0] != 1 || resp.NotFound[1] != 2 {
		t.Fatalf("expected criteria 1 and 2 not found, got %v", resp.NotFound)
	}

	if _, err := f.svc.DeleteSamples(context.Background(), f.org, "nope", transport.DeleteSamplesRequest{
		Criteria: []domain.DeletionCriterion{{SampleNumber: &one}},
	}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for a missing group, got %v", err)
	}
}

func TestRemoveAgents(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay",
		row("1", "2026-01-01", "Lead", 0.04),
		row("2", "2026-01-02", "Silica", 0.02),
	)
	groupID := domain.GroupID(f.org, "Welding Bay")

	resp, err := f.svc.RemoveAgents(context.Background(), f.org, transport.RemoveAgentsRequest{
		Removals: []transport.AgentRemoval{{GroupID: groupID, AgentKey: "lead"}, {GroupID: "missing", AgentKey: "lead"}},
	})
	if err != nil {
		t.Fatalf("RemoveAgents: %v", err)
	}
	if resp.RemovedAgents != 1 || resp.GroupsDeleted != 0 || resp.Failures != 1 || resp.OK {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].GroupID != "missing" {
		t.Fatalf("expected the missing group to be listed, got %+v", resp.Errors)
	}
	doc := f.group(t, "Welding Bay")
	if _, ok := doc.LatestExceedanceFractionByAgent["lead"]; ok {
		t.Fatalf("expected lead snapshot removed")
	}
	if doc.LatestExceedanceFraction.AgentKey != "silica" {
		t.Fatalf("expected silica to become top, got %s", doc.LatestExceedanceFraction.AgentKey)
	}

	resp, err = f.svc.RemoveAgents(context.Background(), f.org, transport.RemoveAgentsRequest{
		Removals: []transport.AgentRemoval{{GroupID: groupID, AgentKey: "Silica"}},
	})
	if err != nil {
		t.Fatalf("RemoveAgents: %v", err)
	}
	if resp.GroupsDeleted != 1 || !resp.OK {
		t.Fatalf("expected the emptied group to be deleted, got %+v", resp)
	}
}

func TestImportContinuesPastFailingGroup(t *testing.T) {
	f := newFixture(t)
	f.svc.SetExtractor(plantjob.Func(func(_ context.Context, name string) (domain.PlantJob, error) {
		if name == "Broken" {
			return domain.PlantJob{}, errors.New("extractor unavailable")
		}
		return domain.PlantJob{PlantName: name}, nil
	}))

	resp, err := f.svc.ImportBatch(context.Background(), f.org, transport.ImportBatchRequest{
		JobID: "job-a",
		Groups: []transport.ImportGroup{
			{Name: "Broken", Samples: []domain.RawSample{row("1", "2026-01-01", "Lead", 0.04)}},
			{Name: "Healthy", Samples: []domain.RawSample{row("1", "2026-01-01", "Lead", 0.04)}},
		},
	})
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if resp.OK || resp.Failures != 1 || resp.GroupsProcessed != 1 || resp.Status != string(jobs.StatusCompletedWithErrors) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].GroupName != "Broken" {
		t.Fatalf("expected the broken group listed, got %+v", resp.Errors)
	}
	f.group(t, "Healthy")

	op := string(audit.TypeBulkImport)
	if got := f.counter(t, "exposure_groups_committed_total", op); got != 1 {
		t.Fatalf("expected only the healthy group counted as committed, got %v", got)
	}
	if got := f.counter(t, "exposure_group_failures_total", op); got != 1 {
		t.Fatalf("expected one group failure, got %v", got)
	}
}

func TestGroupsWithoutASCIINamesStaySeparate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ImportBatch(ctx, f.org, transport.ImportBatchRequest{
		JobID: "job-a",
		Groups: []transport.ImportGroup{{Name: "溶接ライン", Samples: []domain.RawSample{
			row("1", "2026-01-01", "Lead", 0.04),
			row("2", "2026-01-02", "Lead", 0.05),
		}}},
	}); err != nil {
		t.Fatalf("import A: %v", err)
	}
	if _, err := f.svc.ImportBatch(ctx, f.org, transport.ImportBatchRequest{
		JobID:  "job-b",
		Groups: []transport.ImportGroup{{Name: "塗装ライン", Samples: []domain.RawSample{row("1", "2026-01-01", "Lead", 0.9)}}},
	}); err != nil {
		t.Fatalf("import B: %v", err)
	}

	a := f.group(t, "溶接ライン")
	b := f.group(t, "塗装ライン")
	if a.ID == b.ID {
		t.Fatalf("expected distinct documents, both are %s", a.ID)
	}
	if a.Name != "溶接ライン" || len(a.Results) != 2 {
		t.Fatalf("unexpected group A %q with %d rows", a.Name, len(a.Results))
	}
	for _, r := range a.Results {
		if r.TWAValue() > 0.05+1e-9 {
			t.Fatalf("group B's sample leaked into group A: %+v", r)
		}
	}
	if b.Name != "塗装ライン" || len(b.Results) != 1 {
		t.Fatalf("unexpected group B %q with %d rows", b.Name, len(b.Results))
	}
}

func TestDirectoryFailureLeavesNoRunningJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.importRows(t, "job-a", "A", row("1", "2026-01-01", "Lead", 0.04))
	f.svc.SetDirectory(failingDirectory{})

	if _, err := f.svc.ImportBatch(ctx, f.org, transport.ImportBatchRequest{
		JobID:  "job-b",
		Groups: []transport.ImportGroup{{Name: "A", Samples: []domain.RawSample{row("2", "2026-01-02", "Lead", 0.05)}}},
	}); err == nil {
		t.Fatalf("expected import to fail when the directory is unavailable")
	}
	if _, err := f.svc.GetJob(ctx, f.org, "job-b"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected no job document for the failed import, got %v", err)
	}

	if _, err := f.svc.RemoveAgents(ctx, f.org, transport.RemoveAgentsRequest{
		Removals: []transport.AgentRemoval{{GroupID: domain.GroupID(f.org, "A"), AgentKey: "lead"}},
	}); err == nil {
		t.Fatalf("expected removal to fail when the directory is unavailable")
	}
	if _, err := f.svc.RecomputeBatch(ctx, f.org, transport.RecomputeRequest{GroupIDs: []string{domain.GroupID(f.org, "A")}}); err == nil {
		t.Fatalf("expected recompute to fail when the directory is unavailable")
	}
	if _, err := f.svc.UndoImport(ctx, f.org, "job-a"); err == nil {
		t.Fatalf("expected undo to fail when the directory is unavailable")
	}

	all, err := f.store.List(ctx, jobs.Collection, f.org.String()+":")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected only the seed import job, got %d jobs", len(all))
	}
	for _, doc := range all {
		var job jobs.Job
		if err := doc.Decode(&job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Status == jobs.StatusRunning || (job.Undo != nil && job.Undo.Phase == jobs.PhaseRunning) {
			t.Fatalf("job %s left running: %+v", job.ID, job)
		}
	}
}

func TestImportValidation(t *testing.T) {
	f := newFixture(t)
	cases := []transport.ImportBatchRequest{
		{},
		{Groups: []transport.ImportGroup{{Name: " ", Samples: []domain.RawSample{row("1", "2026-01-01", "Lead", 1)}}}},
		{Groups: []transport.ImportGroup{{Name: "A"}}},
		{JobID: "a:b", Groups: []transport.ImportGroup{{Name: "A", Samples: []domain.RawSample{row("1", "2026-01-01", "Lead", 1)}}}},
	}
	for i, req := range cases {
		if _, err := f.svc.ImportBatch(context.Background(), f.org, req); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestRecomputeBatchAppliesDirectoryChanges(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay", row("1", "2026-01-01", "Lead", 0.04), row("2", "2026-01-02", "Lead", 0.05))
	groupID := domain.GroupID(f.org, "Welding Bay")

	f.svc.SetDirectory(staticDirectory{"lead": 0.01})
	resp, err := f.svc.RecomputeBatch(context.Background(), f.org, transport.RecomputeRequest{GroupIDs: []string{groupID, groupID, "missing"}})
	if err != nil {
		t.Fatalf("RecomputeBatch: %v", err)
	}
	if resp.Count != 1 || resp.Failures != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	doc := f.group(t, "Welding Bay")
	if snap := doc.LatestExceedanceFractionByAgent["lead"]; snap.OELNumber != 0.01 {
		t.Fatalf("expected recomputed OEL 0.01, got %v", snap.OELNumber)
	}
	if len(doc.ExceedanceFractionHistoryByAgent["lead"]) != 2 {
		t.Fatalf("expected a second history entry for lead")
	}
}

func TestOELChangeEventRecomputesAffectedGroups(t *testing.T) {
	f := newFixture(t)
	f.importRows(t, "job-a", "Welding Bay", row("1", "2026-01-01", "Lead", 0.04), row("2", "2026-01-02", "Lead", 0.05))
	f.importRows(t, "job-a", "Paint Shop", row("1", "2026-01-01", "Toluene", 0.5))
	f.svc.SetDirectory(staticDirectory{"lead": 0.2})

	err := f.svc.handleOELChanged(context.Background(), events.AgentOELChanged{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: f.org,
		AgentKey:       "lead",
		OEL:            0.2,
	})
	if err != nil {
		t.Fatalf("handleOELChanged: %v", err)
	}
	if snap := f.group(t, "Welding Bay").LatestExceedanceFractionByAgent["lead"]; snap.OELNumber != 0.2 {
		t.Fatalf("expected lead recomputed with OEL 0.2, got %v", snap.OELNumber)
	}
	if hist := f.group(t, "Paint Shop").ExceedanceFractionHistoryByAgent["toluene"]; len(hist) != 1 {
		t.Fatalf("expected the unrelated group untouched")
	}
}

func TestImportDeadlineListsUnprocessedGroups(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	groups := []transport.ImportGroup{
		{Name: "A", Samples: []domain.RawSample{row("1", "2026-01-01", "Lead", 0.04)}},
		{Name: "B", Samples: []domain.RawSample{row("1", "2026-01-01", "Lead", 0.04)}},
	}
	// Start the job before the deadline so only the group work is cut short.
	if err := f.svc.tracker.Start(context.Background(), f.org, "job-late", jobs.KindImport); err != nil {
		t.Fatalf("Start: %v", err)
	}
	units := coalesceGroups(f.org, "job-late", groups)
	counters := f.svc.tracker.Counters(f.org, "job-late", jobs.KindImport)
	errs := runBatch(ctx, f.svc, audit.TypeBulkImport, counters, units,
		func(u importUnit) unit { return u.unit },
		func(ctx context.Context, u importUnit) (map[string]int64, error) {
			return nil, nil
		})
	if len(errs) != 2 || counters.Total(jobs.CounterFailures) != 2 {
		t.Fatalf("expected both groups listed as unprocessed, got %+v", errs)
	}
	status := f.svc.finishJob(ctx, f.org, "job-late", jobs.KindImport, counters, false)
	if status != jobs.StatusCompletedWithErrors {
		t.Fatalf("expected completed-with-errors, got %s", status)
	}
}
