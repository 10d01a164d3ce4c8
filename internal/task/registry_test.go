package task

import (
	"path/filepath"
	"testing"
	"time"

	"medialeech/internal/domain"
)

func testParams(t *testing.T, kind domain.TaskKind, owner int64) CreateParams {
	t.Helper()
	return CreateParams{
		Kind:      kind,
		Owner:     owner,
		Chat:      owner,
		TasksRoot: t.TempDir(),
		Now:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRegistryIDUniqueness(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		tk := r.Create(testParams(t, domain.KindLeech, 1))
		if len(tk.ID) != idLength {
			t.Fatalf("id %q has wrong length", tk.ID)
		}
		if seen[tk.ID] {
			t.Fatalf("duplicate id %q while registered", tk.ID)
		}
		seen[tk.ID] = true
	}
	if r.Active() != 200 {
		t.Fatalf("Active() = %d, want 200", r.Active())
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	tk := r.Create(testParams(t, domain.KindLeech, 1))
	r.Remove(tk.ID)
	r.Remove(tk.ID)
	if _, ok := r.Get(tk.ID); ok {
		t.Fatal("removed task still retrievable")
	}
	if r.Active() != 0 {
		t.Fatalf("Active() = %d, want 0", r.Active())
	}
}

func TestRegistryFindByOwner(t *testing.T) {
	r := NewRegistry()
	a := r.Create(testParams(t, domain.KindLeech, 10))
	b := r.Create(testParams(t, domain.KindLeech, 10))
	c := r.Create(testParams(t, domain.KindLeech, 20))

	if err := a.SetStage(domain.StageConfiguring); err != nil {
		t.Fatal(err)
	}
	if err := c.SetStage(domain.StageConfiguring); err != nil {
		t.Fatal(err)
	}

	got := r.FindByOwner(10, domain.StageConfiguring)
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("FindByOwner returned %d tasks, want exactly task %s", len(got), a.ID)
	}
	_ = b
}

func TestRegistryOwnerHasKind(t *testing.T) {
	r := NewRegistry()
	tk := r.Create(testParams(t, domain.KindURLUpload, 7))
	if !r.OwnerHasKind(7, domain.KindURLUpload) {
		t.Fatal("active upload task not reported")
	}
	if r.OwnerHasKind(7, domain.KindTorrent) {
		t.Fatal("wrong kind reported")
	}
	tk.mu.Lock()
	tk.stage = domain.StageCompleted
	tk.mu.Unlock()
	if r.OwnerHasKind(7, domain.KindURLUpload) {
		t.Fatal("terminal task must not count as active")
	}
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()
	a := r.Create(testParams(t, domain.KindLeech, 1))
	b := r.Create(testParams(t, domain.KindLeech, 2))
	r.CancelAll()
	for _, tk := range []*Task{a, b} {
		if !tk.CancelRequested() {
			t.Fatalf("task %s did not receive cancel", tk.ID)
		}
	}
}

func TestCreateNormalisesOutputName(t *testing.T) {
	r := NewRegistry()
	p := testParams(t, domain.KindLeech, 1)
	p.OutputName = "result"
	tk := r.Create(p)
	if tk.OutputName != "result.mp4" {
		t.Fatalf("OutputName = %q, want result.mp4", tk.OutputName)
	}
	p.OutputName = "keep.mkv"
	tk2 := r.Create(p)
	if tk2.OutputName != "keep.mkv" {
		t.Fatalf("OutputName = %q, want keep.mkv", tk2.OutputName)
	}
	if filepath.Base(tk.WorkDir) != tk.ID {
		t.Fatalf("work dir %q not keyed by task id", tk.WorkDir)
	}
}
