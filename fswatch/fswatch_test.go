package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"reqtrack/graph"
)

func TestSnapshotDiff_SynthesizesEvents(t *testing.T) {
	root := t.TempDir()
	snapPath := filepath.Join(t.TempDir(), "snapshot.json")

	kept := filepath.Join(root, "kept.txt")
	updated := filepath.Join(root, "updated.txt")
	deleted := filepath.Join(root, "deleted.txt")
	for _, p := range []string{kept, updated, deleted} {
		if err := os.WriteFile(p, []byte("v1"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	fs := New()
	if err := fs.WriteSnapshot(context.Background(), root, snapPath, Options{}); err != nil {
		t.Fatal(err)
	}

	created := filepath.Join(root, "created.txt")
	if err := os.WriteFile(created, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(updated, []byte("v2, longer"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(deleted); err != nil {
		t.Fatal(err)
	}

	events, err := fs.GetEventsSince(context.Background(), root, snapPath, Options{})
	if err != nil {
		t.Fatal(err)
	}

	byPath := make(map[string]graph.EventType)
	for _, ev := range events {
		byPath[ev.Path] = ev.Type
	}

	if byPath[created] != graph.EventCreate {
		t.Errorf("expected create for %s, got %v", created, byPath[created])
	}
	if byPath[updated] != graph.EventUpdate {
		t.Errorf("expected update for %s, got %v", updated, byPath[updated])
	}
	if byPath[deleted] != graph.EventDelete {
		t.Errorf("expected delete for %s, got %v", deleted, byPath[deleted])
	}
	if _, ok := byPath[kept]; ok {
		t.Errorf("expected no event for unchanged %s", kept)
	}
}

func TestSnapshotDiff_IgnoredPathsProduceNoEvents(t *testing.T) {
	root := t.TempDir()
	snapPath := filepath.Join(t.TempDir(), "snapshot.json")

	gitDir := filepath.Join(root, ".git")
	if err := os.MkdirAll(gitDir, 0755); err != nil {
		t.Fatal(err)
	}

	fs := New()
	ignore := []string{gitDir}
	if err := fs.WriteSnapshot(context.Background(), root, snapPath, Options{Ignore: ignore}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref"), 0644); err != nil {
		t.Fatal(err)
	}

	events, err := fs.GetEventsSince(context.Background(), root, snapPath, Options{Ignore: ignore})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events under ignored dirs, got %v", events)
	}
}

func TestGetEventsSince_MissingSnapshotIsEmpty(t *testing.T) {
	root := t.TempDir()
	fs := New()
	events, err := fs.GetEventsSince(context.Background(), root, filepath.Join(root, "no-such-snapshot"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events without a snapshot, got %v", events)
	}
}
