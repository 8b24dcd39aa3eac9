package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"reqtrack/fswatch"
	"reqtrack/graph"
	"reqtrack/objectcache"
)

func newTestStore(t *testing.T, root string) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "persist-cache-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cache, err := objectcache.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })

	return New(cache, fswatch.New(), root)
}

func TestLoadRequestGraph_MissReturnsFreshGraph(t *testing.T) {
	root, err := os.MkdirTemp("", "persist-root-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	s := newTestStore(t, root)

	g, fresh, err := s.LoadRequestGraph(context.Background(), "base", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Error("expected fresh=true on cache miss")
	}
	if g == nil || len(g.AllNodeIDs()) != 0 {
		t.Error("expected an empty graph")
	}
}

func TestWriteThenLoad_RoundTripsGraph(t *testing.T) {
	root, err := os.MkdirTemp("", "persist-root-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, root)

	g := graph.NewRequestGraph()
	reqID := g.AddNode(&graph.Node{Kind: graph.KindRequest, Request: &graph.StoredRequest{ID: "req:1", Type: "demo"}})
	if err := g.InvalidateOnFileUpdate(reqID, filepath.Join(root, "a.txt")); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteToCache(context.Background(), g, "base", nil); err != nil {
		t.Fatal(err)
	}

	loaded, fresh, err := s.LoadRequestGraph(context.Background(), "base", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Fatal("expected fresh=false on cache hit")
	}

	loadedID, ok := loaded.LookupByKey("req:1")
	if !ok {
		t.Fatal("expected request node to survive round-trip")
	}
	n := loaded.GetNode(loadedID)
	if n.Request.Type != "demo" {
		t.Errorf("got type %q, want %q", n.Request.Type, "demo")
	}
}

func TestWriteThenLoad_FoldsFileUpdateSinceSnapshot(t *testing.T) {
	root, err := os.MkdirTemp("", "persist-root-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, root)

	g := graph.NewRequestGraph()
	reqID := g.AddNode(&graph.Node{Kind: graph.KindRequest, Request: &graph.StoredRequest{ID: "req:1", Type: "demo"}})
	if err := g.InvalidateOnFileUpdate(reqID, path); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteToCache(context.Background(), g, "base", nil); err != nil {
		t.Fatal(err)
	}

	// Simulate an offline edit.
	if err := os.WriteFile(path, []byte("v2, now longer"), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, _, err := s.LoadRequestGraph(context.Background(), "base", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	loadedID, ok := loaded.LookupByKey("req:1")
	if !ok {
		t.Fatal("expected request node to survive round-trip")
	}
	invalid := false
	for _, id := range loaded.InvalidNodeIds() {
		if id == loadedID {
			invalid = true
		}
	}
	if !invalid {
		t.Error("expected request to be invalidated by the offline file update")
	}
}

func TestLoadRequestGraph_EnvChangeInvalidates(t *testing.T) {
	root, err := os.MkdirTemp("", "persist-root-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	s := newTestStore(t, root)

	g := graph.NewRequestGraph()
	reqID := g.AddNode(&graph.Node{Kind: graph.KindRequest, Request: &graph.StoredRequest{ID: "req:1", Type: "demo"}})
	if err := g.InvalidateOnEnvChange(reqID, "FOO", "1", false); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteToCache(context.Background(), g, "base", nil); err != nil {
		t.Fatal(err)
	}

	// Same value: no invalidation.
	loaded, _, err := s.LoadRequestGraph(context.Background(), "base", map[string]string{"FOO": "1"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.HasInvalidRequests() {
		t.Fatal("expected no invalidation when env is unchanged")
	}

	// Changed value: invalidated with reason ENV_CHANGE.
	loaded, _, err = s.LoadRequestGraph(context.Background(), "base", map[string]string{"FOO": "2"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	loadedID, ok := loaded.LookupByKey("req:1")
	if !ok {
		t.Fatal("expected request node")
	}
	invalid := false
	for _, id := range loaded.InvalidNodeIds() {
		if id == loadedID {
			invalid = true
		}
	}
	if !invalid {
		t.Fatal("expected request invalidated by env change")
	}
	n := loaded.GetNode(loadedID)
	if n.Request.InvalidateReason&graph.ReasonEnvChange == 0 {
		t.Errorf("expected ENV_CHANGE reason, got %b", n.Request.InvalidateReason)
	}
}

func TestLoadRequestGraph_UnpredictableInvalidatedOnStartup(t *testing.T) {
	root, err := os.MkdirTemp("", "persist-root-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	s := newTestStore(t, root)

	g := graph.NewRequestGraph()
	reqID := g.AddNode(&graph.Node{Kind: graph.KindRequest, Request: &graph.StoredRequest{ID: "req:1", Type: "demo"}})
	if err := g.InvalidateOnStartup(reqID); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteToCache(context.Background(), g, "base", nil); err != nil {
		t.Fatal(err)
	}

	loaded, _, err := s.LoadRequestGraph(context.Background(), "base", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	loadedID, ok := loaded.LookupByKey("req:1")
	if !ok {
		t.Fatal("expected request node")
	}
	n := loaded.GetNode(loadedID)
	if n.Request.InvalidateReason&graph.ReasonStartup == 0 {
		t.Errorf("expected STARTUP reason, got %b", n.Request.InvalidateReason)
	}
}
