package graph

import "testing"

func newRequest(g *RequestGraph, id string) NodeID {
	return g.AddNode(requestNode(&StoredRequest{ID: id, Type: "test"}))
}

func TestClearInvalidations_ThenFileUpdate(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")

	if err := g.ClearInvalidations(r); err != nil {
		t.Fatal(err)
	}
	if err := g.InvalidateOnFileUpdate(r, "/x.txt"); err != nil {
		t.Fatal(err)
	}

	snap := g.Snapshot(r)
	if len(snap.FileUpdate) != 1 || snap.FileUpdate[0] != "/x.txt" {
		t.Fatalf("expected exactly {file, /x.txt}, got %+v", snap)
	}
}

func TestEnvNodes_NoChangeNoInvalidation(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")
	if err := g.InvalidateOnEnvChange(r, "FOO", "1", false); err != nil {
		t.Fatal(err)
	}

	if err := g.InvalidateEnvNodes(map[string]string{"FOO": "1"}); err != nil {
		t.Fatal(err)
	}
	if len(g.invalidNodeIds) != 0 {
		t.Fatalf("expected no invalidation, got %v", g.invalidNodeIds)
	}

	if err := g.InvalidateEnvNodes(map[string]string{"FOO": "2"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.invalidNodeIds[r]; !ok {
		t.Fatal("expected invalidation on env change")
	}
}

func TestOptionNodes_HashComparisonDrivesInvalidation(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")
	value := map[string]interface{}{"minify": true, "targets": []interface{}{"chrome"}}
	if err := g.InvalidateOnOptionChange(r, "build", value); err != nil {
		t.Fatal(err)
	}

	// Structurally equal value, different map literal: no invalidation.
	same := map[string]interface{}{"targets": []interface{}{"chrome"}, "minify": true}
	if err := g.InvalidateOptionNodes(map[string]interface{}{"build": same}); err != nil {
		t.Fatal(err)
	}
	if len(g.invalidNodeIds) != 0 {
		t.Fatalf("expected no invalidation for an unchanged option, got %v", g.invalidNodeIds)
	}

	changed := map[string]interface{}{"minify": false, "targets": []interface{}{"chrome"}}
	if err := g.InvalidateOptionNodes(map[string]interface{}{"build": changed}); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.invalidNodeIds[r]; !ok {
		t.Fatal("expected invalidation on option change")
	}
	if rn, _ := g.requestNode(r); rn.Request.InvalidateReason&ReasonOptionChange == 0 {
		t.Fatal("expected OPTION_CHANGE reason set")
	}
}

func TestInvalidateNode_PropagatesToAncestors(t *testing.T) {
	g := NewRequestGraph()
	parent := newRequest(g, "P")
	child := newRequest(g, "C")
	g.AddEdge(parent, child, EdgeSubrequest)

	if err := g.InvalidateNode(child, ReasonError); err != nil {
		t.Fatal(err)
	}

	if _, ok := g.invalidNodeIds[child]; !ok {
		t.Fatal("expected child invalid")
	}
	if _, ok := g.invalidNodeIds[parent]; !ok {
		t.Fatal("expected parent invalid (ancestor propagation)")
	}
}

func TestFileCreateInvalidation_InvalidShape(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")
	err := g.InvalidateOnFileCreate(r, FileCreateInvalidation{})
	if err != ErrInvalidInvalidation {
		t.Fatalf("expected ErrInvalidInvalidation, got %v", err)
	}
}

func TestFilenameAbove_CreateMatchesOnlyAboveTarget(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")

	err := g.InvalidateOnFileCreate(r, FileCreateInvalidation{
		FileName:      "node_modules/foo",
		AboveFilePath: "/proj/src/index.js",
	})
	if err != nil {
		t.Fatal(err)
	}

	matched, err := g.RespondToFSEvents([]Event{{Path: "/proj/node_modules/foo", Type: EventCreate}})
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected match for file created above target")
	}
	if _, ok := g.invalidNodeIds[r]; !ok {
		t.Fatal("expected request invalidated")
	}
	if rn, _ := g.requestNode(r); rn.Request.InvalidateReason&ReasonFileCreate == 0 {
		t.Fatal("expected FILE_CREATE reason set")
	}
}

func TestFilenameAbove_CreateElsewhereDoesNotMatch(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")

	err := g.InvalidateOnFileCreate(r, FileCreateInvalidation{
		FileName:      "node_modules/foo",
		AboveFilePath: "/proj/src/index.js",
	})
	if err != nil {
		t.Fatal(err)
	}

	matched, err := g.RespondToFSEvents([]Event{{Path: "/other/node_modules/foo", Type: EventCreate}})
	if err != nil {
		t.Fatal(err)
	}
	if matched {
		t.Fatal("expected no match for unrelated directory")
	}
	if _, ok := g.invalidNodeIds[r]; ok {
		t.Fatal("expected request to remain valid")
	}
}

func TestGlobCreateInvalidation(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")

	if err := g.InvalidateOnFileCreate(r, FileCreateInvalidation{Glob: "src/**/*.css"}); err != nil {
		t.Fatal(err)
	}

	matched, err := g.RespondToFSEvents([]Event{{Path: "src/components/button.css", Type: EventCreate}})
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected glob match")
	}
}

func TestFileDeleteInvalidation(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")
	if err := g.InvalidateOnFileDelete(r, "/x.txt"); err != nil {
		t.Fatal(err)
	}

	matched, err := g.RespondToFSEvents([]Event{{Path: "/x.txt", Type: EventDelete}})
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Fatal("expected delete match")
	}
	if rn, _ := g.requestNode(r); rn.Request.InvalidateReason&ReasonFileDelete == 0 {
		t.Fatal("expected FILE_DELETE reason")
	}
}

func TestRemoveNode_PurgesSideIndices(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")
	if err := g.InvalidateNode(r, ReasonError); err != nil {
		t.Fatal(err)
	}
	g.incompleteNodeIds[r] = struct{}{}
	g.unpredictableNodeIds[r] = struct{}{}

	g.RemoveNode(r)

	if _, ok := g.invalidNodeIds[r]; ok {
		t.Fatal("expected purged from invalidNodeIds")
	}
	if _, ok := g.incompleteNodeIds[r]; ok {
		t.Fatal("expected purged from incompleteNodeIds")
	}
	if _, ok := g.unpredictableNodeIds[r]; ok {
		t.Fatal("expected purged from unpredictableNodeIds")
	}
}

func TestGC_RemovesUnreferencedAuxNodes(t *testing.T) {
	g := NewRequestGraph()
	r := newRequest(g, "A")
	if err := g.InvalidateOnFileUpdate(r, "/kept.txt"); err != nil {
		t.Fatal(err)
	}
	orphanID := g.AddNode(fileNode("/orphan.txt"))

	removed := g.GC()
	if removed != 1 {
		t.Fatalf("expected 1 node removed, got %d", removed)
	}
	if g.HasNode(orphanID) {
		t.Fatal("expected orphan removed")
	}
	if !g.HasContentKey("/kept.txt") {
		t.Fatal("expected referenced file node kept")
	}
}
