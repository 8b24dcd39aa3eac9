package graph

// NodeID is a dense integer id assigned on first reference to a content
// key. Ids are never reused within a process lifetime — removeNode
// tombstones the slot instead of shifting ids, so that ids embedded in a
// previously-serialized blob stay meaningful after restore.
type NodeID uint32

// edgeKey identifies one adjacency bucket: a label plus a direction. Two
// maps (out/in) keyed by (id, label) give O(1) membership and O(deg)
// iteration in either direction, which is what incidence queries over a
// fixed label need.
type edgeKey struct {
	id    NodeID
	label EdgeLabel
}

// ContentGraph is a generic directed multigraph keyed by stable content
// keys, with typed edge labels: an arena of nodes (dense integer ids)
// plus per-label adjacency maps.
type ContentGraph struct {
	nodes    map[NodeID]*Node
	keyToID  map[string]NodeID
	idToKey  map[NodeID]string
	nextID   NodeID
	outEdges map[edgeKey]map[NodeID]struct{}
	inEdges  map[edgeKey]map[NodeID]struct{}
}

// NewContentGraph returns an empty graph.
func NewContentGraph() *ContentGraph {
	return &ContentGraph{
		nodes:    make(map[NodeID]*Node),
		keyToID:  make(map[string]NodeID),
		idToKey:  make(map[NodeID]string),
		nextID:   1,
		outEdges: make(map[edgeKey]map[NodeID]struct{}),
		inEdges:  make(map[edgeKey]map[NodeID]struct{}),
	}
}

// HasNode reports whether id refers to a live node.
func (g *ContentGraph) HasNode(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// HasContentKey reports whether key is currently assigned to a live node.
func (g *ContentGraph) HasContentKey(key string) bool {
	_, ok := g.keyToID[key]
	return ok
}

// GetNode returns the node for id, or nil if it doesn't exist.
func (g *ContentGraph) GetNode(id NodeID) *Node {
	return g.nodes[id]
}

// GetNodeByContentKey returns the node for key, or nil if it doesn't exist.
func (g *ContentGraph) GetNodeByContentKey(key string) *Node {
	id, ok := g.keyToID[key]
	if !ok {
		return nil
	}
	return g.nodes[id]
}

// LookupByKey returns the id for key and whether it exists. Bijective with
// id-based access per invariant 3: every live id has exactly one content
// key and vice versa.
func (g *ContentGraph) LookupByKey(key string) (NodeID, bool) {
	id, ok := g.keyToID[key]
	return id, ok
}

// AddNodeByContentKey inserts node under key if absent, returning its id.
// If key already exists, the existing id is returned and node is discarded
// (idempotent — addNodeByContentKey(key, n); addNodeByContentKey(key, n)
// returns the same id both times).
func (g *ContentGraph) AddNodeByContentKey(key string, node *Node) NodeID {
	if id, ok := g.keyToID[key]; ok {
		return id
	}
	id := g.nextID
	g.nextID++
	g.nodes[id] = node
	g.keyToID[key] = id
	g.idToKey[id] = key
	return id
}

// HasEdge reports whether an edge (from, to, label) exists.
func (g *ContentGraph) HasEdge(from, to NodeID, label EdgeLabel) bool {
	set, ok := g.outEdges[edgeKey{from, label}]
	if !ok {
		return false
	}
	_, ok = set[to]
	return ok
}

// AddEdge adds an edge (from, to, label). At-most-one edge per (from, to,
// label) triple — adding twice is a no-op.
func (g *ContentGraph) AddEdge(from, to NodeID, label EdgeLabel) {
	outKey := edgeKey{from, label}
	if g.outEdges[outKey] == nil {
		g.outEdges[outKey] = make(map[NodeID]struct{})
	}
	g.outEdges[outKey][to] = struct{}{}

	inKey := edgeKey{to, label}
	if g.inEdges[inKey] == nil {
		g.inEdges[inKey] = make(map[NodeID]struct{})
	}
	g.inEdges[inKey][from] = struct{}{}
}

// RemoveEdge removes edge (from, to, label) if present.
func (g *ContentGraph) RemoveEdge(from, to NodeID, label EdgeLabel) {
	if set, ok := g.outEdges[edgeKey{from, label}]; ok {
		delete(set, to)
	}
	if set, ok := g.inEdges[edgeKey{to, label}]; ok {
		delete(set, from)
	}
}

// GetNodeIdsConnectedFrom returns the outgoing neighbors of id on label.
func (g *ContentGraph) GetNodeIdsConnectedFrom(id NodeID, label EdgeLabel) []NodeID {
	set := g.outEdges[edgeKey{id, label}]
	out := make([]NodeID, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

// GetNodeIdsConnectedTo returns the incoming neighbors of id on label.
func (g *ContentGraph) GetNodeIdsConnectedTo(id NodeID, label EdgeLabel) []NodeID {
	set := g.inEdges[edgeKey{id, label}]
	out := make([]NodeID, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

// ReplaceNodeIdsConnectedTo replaces the set of outgoing edges from id on
// label with newIds: computes the add/remove diff against the current set
// and applies exactly that diff. (The name keeps the "nodes id is connected
// to" reading: newIds become the nodes id points at on label.)
func (g *ContentGraph) ReplaceNodeIdsConnectedTo(id NodeID, newIds []NodeID, label EdgeLabel) {
	wanted := make(map[NodeID]struct{}, len(newIds))
	for _, n := range newIds {
		wanted[n] = struct{}{}
	}

	current := g.outEdges[edgeKey{id, label}]
	for existing := range current {
		if _, keep := wanted[existing]; !keep {
			g.RemoveEdge(id, existing, label)
		}
	}
	for n := range wanted {
		if current == nil || !contains(current, n) {
			g.AddEdge(id, n, label)
		}
	}
}

func contains(set map[NodeID]struct{}, id NodeID) bool {
	_, ok := set[id]
	return ok
}

// RemoveNode detaches id from every edge it participates in (any label, any
// direction) and removes it from the node/key tables. The id itself is
// never reassigned (see NodeID doc).
func (g *ContentGraph) RemoveNode(id NodeID) {
	if !g.HasNode(id) {
		return
	}

	for key, set := range g.outEdges {
		if key.id == id {
			delete(g.outEdges, key)
			continue
		}
		delete(set, id)
	}
	for key, set := range g.inEdges {
		if key.id == id {
			delete(g.inEdges, key)
			continue
		}
		delete(set, id)
	}

	if key, ok := g.idToKey[id]; ok {
		delete(g.keyToID, key)
		delete(g.idToKey, id)
	}
	delete(g.nodes, id)
}

// AllNodeIDs returns every live node id, in no particular order. Used by GC
// and serialization.
func (g *ContentGraph) AllNodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

// ContentKeyOf returns the content key for a live id.
func (g *ContentGraph) ContentKeyOf(id NodeID) (string, bool) {
	k, ok := g.idToKey[id]
	return k, ok
}
