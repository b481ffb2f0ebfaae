package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"infersubc/internal/models"
	"infersubc/pkg/mask"
	"infersubc/pkg/pipeline"
	"infersubc/pkg/quant"
	"infersubc/pkg/stage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport(started time.Time) (*pipeline.Report, *quant.Summary) {
	shape := models.Shape2D(4, 4)
	soma := &stage.Result{
		ID:       uuid.New(),
		Stage:    stage.Soma,
		Status:   stage.Succeeded,
		Labels:   mask.Label(mask.ObjectsFromPoints(shape, [3]int{0, 1, 1}, [3]int{0, 1, 2}), mask.Face),
		Started:  started,
		Duration: 1500 * time.Millisecond,
	}
	soma.Provenance = stage.Provenance{Stage: stage.Soma, Kernel: "soma-threshold"}

	nuclei := stage.NewFailed(stage.Nuclei, soma.Provenance.Params, errors.New("kernel exploded"))
	cytosol := stage.NewSkipped(stage.Cytosol, soma.Provenance.Params,
		&stage.MissingDependencyError{Stage: stage.Cytosol, Missing: []string{stage.Nuclei}})
	cytosol.Provenance.Upstream = []uuid.UUID{soma.ID}

	rep := &pipeline.Report{
		RunID:    uuid.New(),
		Order:    []string{stage.Soma, stage.Nuclei, stage.Cytosol},
		Results:  map[string]*stage.Result{stage.Soma: soma, stage.Nuclei: nuclei, stage.Cytosol: cytosol},
		Started:  started,
		Duration: 2 * time.Second,
	}
	sum := quant.NewEngine(quant.WithClasses(stage.Soma)).Compute(rep.Results)
	sum.Interactions = append(sum.Interactions, quant.Interaction{A: "a", B: "b", Overlap: 3, Fraction: 0.75, MeanNearest: 1.25})
	return rep, sum
}

func TestOpenCreatesSchemaOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer again.Close()
	if again.Path() != path {
		t.Errorf("Path() = %q, want %q", again.Path(), path)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := s.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	s := openTestStore(t)
	for pragma, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	} {
		var got string
		if err := s.db.QueryRow("PRAGMA " + pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", pragma, err)
		}
		if got != want {
			t.Errorf("PRAGMA %s = %q, want %q", pragma, got, want)
		}
	}
}

func TestBusyRetryOnlyRetriesLockedDatabase(t *testing.T) {
	r := busyRetry{attempts: 3, initial: time.Millisecond, max: 2 * time.Millisecond}
	boom := errors.New("constraint failed")

	calls := 0
	err := r.do(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("do() = %v after %d calls, want %v after 1", err, calls, boom)
	}

	calls = 0
	if err := r.do(context.Background(), func() error { calls++; return nil }); err != nil || calls != 1 {
		t.Fatalf("do() = %v after %d calls", err, calls)
	}
	if locked(boom) || locked(nil) {
		t.Fatal("plain errors must not count as a locked database")
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rep, sum := sampleReport(started)
	if err := s.SaveRun(ctx, "cells/c01", "4x4", rep, sum); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	detail, err := s.LoadRun(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	run := detail.Run
	if run.ID != rep.RunID || run.Input != "cells/c01" || run.Shape != "4x4" {
		t.Errorf("unexpected run record: %+v", run)
	}
	if run.Succeeded != 1 || run.Failed != 1 || run.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", run.Succeeded, run.Failed, run.Skipped)
	}
	if !run.Started.Equal(started) || run.Duration != 2*time.Second {
		t.Errorf("timing = %v / %v", run.Started, run.Duration)
	}

	if len(detail.Stages) != 3 {
		t.Fatalf("got %d stage records, want 3", len(detail.Stages))
	}
	for i, name := range rep.Order {
		if detail.Stages[i].Stage != name {
			t.Errorf("stage %d = %s, want %s", i, detail.Stages[i].Stage, name)
		}
	}
	soma := detail.Stages[0]
	if soma.Status != stage.Succeeded || soma.Objects != 1 || soma.Kernel != "soma-threshold" {
		t.Errorf("unexpected soma record: %+v", soma)
	}
	if soma.MaskFingerprint != rep.Results[stage.Soma].Labels.Fingerprint() {
		t.Error("mask fingerprint not preserved")
	}
	if soma.Duration != 1500*time.Millisecond {
		t.Errorf("soma duration = %v", soma.Duration)
	}
	if nuclei := detail.Stages[1]; nuclei.Status != stage.Failed || nuclei.Reason != "kernel exploded" {
		t.Errorf("unexpected nuclei record: %+v", nuclei)
	}
	cyt := detail.Stages[2]
	if cyt.Status != stage.Skipped || len(cyt.Upstream) != 1 || cyt.Upstream[0] != rep.Results[stage.Soma].ID {
		t.Errorf("unexpected cytosol record: %+v", cyt)
	}

	objs := detail.Objects[stage.Soma]
	if len(objs) != 1 || objs[0].Area != 2 || objs[0].Centroid.X != 1.5 {
		t.Errorf("unexpected soma objects: %+v", objs)
	}
	if len(detail.Interactions) != 1 || detail.Interactions[0].Fraction != 0.75 {
		t.Errorf("unexpected interactions: %+v", detail.Interactions)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rep, _ := sampleReport(base.Add(time.Duration(i) * time.Hour))
		if err := s.SaveRun(ctx, "in", "4x4", rep, nil); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		ids = append(ids, rep.RunID)
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("runs not newest first: %v, %v", runs[0].ID, runs[1].ID)
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRuns(0) = %d runs, %v", len(all), err)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rep, sum := sampleReport(time.Now())
	if err := s.SaveRun(ctx, "in", "4x4", rep, sum); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := s.DeleteRun(ctx, rep.RunID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := s.LoadRun(ctx, rep.RunID); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(1) FROM stage_results").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d stage results survived deletion", n)
	}
}

func TestLabelCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := CacheKey(stage.Lysosome, "lysosome-masked-object", "params-fp", "input-fp", map[string]string{stage.Cytosol: "cyt-fp"})
	if _, ok, err := s.GetLabels(ctx, key); err != nil || ok {
		t.Fatalf("empty cache returned ok=%v err=%v", ok, err)
	}

	l := &mask.Labels{Shape: models.Shape{Z: 2, Y: 1, X: 3}, Data: []int32{0, 1, 1, 2, 0, 70000}}
	if err := s.PutLabels(ctx, key, stage.Lysosome, "lysosome-masked-object", l); err != nil {
		t.Fatalf("PutLabels failed: %v", err)
	}

	got, ok, err := s.GetLabels(ctx, key)
	if err != nil || !ok {
		t.Fatalf("GetLabels ok=%v err=%v", ok, err)
	}
	if !got.Equal(l) {
		t.Errorf("labels changed in the cache: %v", got.Data)
	}

	if err := s.PurgeCache(ctx, stage.Lysosome); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetLabels(ctx, key); ok {
		t.Error("purged entry still cached")
	}
}

func TestCacheKeyIsOrderIndependent(t *testing.T) {
	a := CacheKey("cytosol", "viable-signal", "p", "in", map[string]string{"soma": "1", "nuclei": "2"})
	b := CacheKey("cytosol", "viable-signal", "p", "in", map[string]string{"nuclei": "2", "soma": "1"})
	if a != b {
		t.Error("cache key depends on map order")
	}
	if a == CacheKey("cytosol", "viable-signal", "p", "in", map[string]string{"soma": "1", "nuclei": "3"}) {
		t.Error("cache key ignores upstream masks")
	}
	if a == CacheKey("cytosol", "viable-signal", "q", "in", map[string]string{"soma": "1", "nuclei": "2"}) {
		t.Error("cache key ignores params")
	}
	if a == CacheKey("cytosol", "viable-other", "p", "in", map[string]string{"soma": "1", "nuclei": "2"}) {
		t.Error("cache key ignores the kernel")
	}
}
