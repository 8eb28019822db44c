package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_MergeAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	store := NewStore(path)

	first := NewRecord()
	first.Add(DefaultLabel, 100, 10)
	first.AddElapsed(30 * time.Second)
	if err := store.Merge("Travis County, TX", first); err != nil {
		t.Fatalf("merge first: %v", err)
	}

	second := NewRecord()
	second.Add("filtering", 7, 1)
	if err := store.Merge("Polk County, IA", second); err != nil {
		t.Fatalf("merge second: %v", err)
	}

	report, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("report has %d locations, want 2", len(report))
	}
	if got := report["Travis County, TX"].Labels[DefaultLabel]; got.PromptTokens != 100 {
		t.Fatalf("travis default=%+v", got)
	}
	if got := report["Polk County, IA"].Labels["filtering"]; got.Requests != 1 {
		t.Fatalf("polk filtering=%+v", got)
	}
}

func TestStore_MergeReplacesLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	store := NewStore(path)

	rec := NewRecord()
	rec.Add(DefaultLabel, 1, 1)
	if err := store.Merge("Travis County, TX", rec); err != nil {
		t.Fatalf("merge: %v", err)
	}

	rerun := NewRecord()
	rerun.Add(DefaultLabel, 50, 5)
	if err := store.Merge("Travis County, TX", rerun); err != nil {
		t.Fatalf("merge rerun: %v", err)
	}

	report, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := report["Travis County, TX"].Labels[DefaultLabel]; got.PromptTokens != 50 {
		t.Fatalf("rerun should replace, got %+v", got)
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope", "usage.json"))

	report, err := store.Load()
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(report) != 0 {
		t.Fatalf("missing file report=%v, want empty", report)
	}
}

func TestStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	if err := os.WriteFile(path, []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(path).Load(); err == nil {
		t.Fatal("expected error for corrupt report")
	}
}
