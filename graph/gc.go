package graph

// GCPlan describes what a GC pass would remove, as a plan-then-execute
// split so callers can inspect before committing.
type GCPlan struct {
	NodesToRemove []NodeID
}

// BuildGCPlan computes which auxiliary (File/Glob/FileName/Env/Option)
// nodes are eligible for removal: a mark-and-sweep starting from every
// Request node's outgoing invalidation/dirname/subrequest edges. Request
// nodes themselves are never collected by this pass — the DESIGN NOTES
// reaper only targets "File/Glob/FileName/Env/Option nodes [that]
// accumulate as requests register them", after ClearInvalidations has run
// across all requests for the cycle.
func (g *RequestGraph) BuildGCPlan() *GCPlan {
	marked := make(map[NodeID]struct{})

	labels := []EdgeLabel{
		EdgeInvalidatedByUpdate,
		EdgeInvalidatedByDelete,
		EdgeInvalidatedByCreate,
		EdgeInvalidatedByCreateAbove,
		EdgeDirname,
		EdgeSubrequest,
	}

	var queue []NodeID
	for _, id := range g.AllNodeIDs() {
		n := g.GetNode(id)
		if n != nil && n.Kind == KindRequest {
			marked[id] = struct{}{}
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, label := range labels {
			for _, next := range g.GetNodeIdsConnectedFrom(id, label) {
				if _, ok := marked[next]; ok {
					continue
				}
				marked[next] = struct{}{}
				queue = append(queue, next)
			}
			// The filename trie also needs to be marked from the File-node
			// side: File --invalidated_by_create_above--> FileName is the
			// "start of chain" edge (see trie.go step 4), already covered
			// by EdgeInvalidatedByCreateAbove above since File nodes are
			// reached via EdgeInvalidatedByCreate from requests first.
		}
	}

	plan := &GCPlan{}
	for _, id := range g.AllNodeIDs() {
		n := g.GetNode(id)
		if n == nil || n.Kind == KindRequest {
			continue
		}
		if _, ok := marked[id]; ok {
			continue
		}
		plan.NodesToRemove = append(plan.NodesToRemove, id)
	}
	return plan
}

// ExecuteGC removes every node in plan from the graph.
func (g *RequestGraph) ExecuteGC(plan *GCPlan) {
	for _, id := range plan.NodesToRemove {
		g.RemoveNode(id)
	}
}

// GC is a convenience that builds and immediately executes a GC plan,
// returning the count of nodes removed.
func (g *RequestGraph) GC() int {
	plan := g.BuildGCPlan()
	g.ExecuteGC(plan)
	return len(plan.NodesToRemove)
}
