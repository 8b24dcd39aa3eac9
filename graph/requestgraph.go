package graph

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"reqtrack/cas"
)

// RequestGraph extends ContentGraph with the typed schema: the six node
// kinds, their kind-partitioned side indices, and the invalidation and
// dependency-declaration operations that give the graph its build-system
// semantics.
type RequestGraph struct {
	*ContentGraph

	invalidNodeIds       map[NodeID]struct{}
	incompleteNodeIds    map[NodeID]struct{}
	unpredictableNodeIds map[NodeID]struct{}
	globNodeIds          map[NodeID]struct{}
	envNodeIds           map[NodeID]struct{}
	optionNodeIds        map[NodeID]struct{}
}

// NewRequestGraph returns an empty RequestGraph.
func NewRequestGraph() *RequestGraph {
	return &RequestGraph{
		ContentGraph:         NewContentGraph(),
		invalidNodeIds:       make(map[NodeID]struct{}),
		incompleteNodeIds:    make(map[NodeID]struct{}),
		unpredictableNodeIds: make(map[NodeID]struct{}),
		globNodeIds:          make(map[NodeID]struct{}),
		envNodeIds:           make(map[NodeID]struct{}),
		optionNodeIds:        make(map[NodeID]struct{}),
	}
}

// AddNode dispatches on kind to maintain the kind-partitioned index sets,
// then delegates to ContentGraph.AddNodeByContentKey.
func (g *RequestGraph) AddNode(node *Node) NodeID {
	key := node.ContentKey()
	id := g.AddNodeByContentKey(key, node)
	switch node.Kind {
	case KindGlob:
		g.globNodeIds[id] = struct{}{}
	case KindEnv:
		g.envNodeIds[id] = struct{}{}
	case KindOption:
		g.optionNodeIds[id] = struct{}{}
	}
	return id
}

// RemoveNode mirrors ContentGraph.RemoveNode and also purges every side
// index (invariant 4: removing a node removes it from every side index and
// every incident edge).
func (g *RequestGraph) RemoveNode(id NodeID) {
	g.ContentGraph.RemoveNode(id)
	delete(g.invalidNodeIds, id)
	delete(g.incompleteNodeIds, id)
	delete(g.unpredictableNodeIds, id)
	delete(g.globNodeIds, id)
	delete(g.envNodeIds, id)
	delete(g.optionNodeIds, id)
}

// InvalidNodeIds returns the current set of invalid Request node ids.
func (g *RequestGraph) InvalidNodeIds() []NodeID {
	return keys(g.invalidNodeIds)
}

// IncompleteNodeIds returns the current set of in-flight Request node ids.
func (g *RequestGraph) IncompleteNodeIds() []NodeID {
	return keys(g.incompleteNodeIds)
}

// UnpredictableNodeIds returns requests that marked themselves
// "always rerun on startup".
func (g *RequestGraph) UnpredictableNodeIds() []NodeID {
	return keys(g.unpredictableNodeIds)
}

// HasInvalidRequests reports whether any request is currently untrusted.
func (g *RequestGraph) HasInvalidRequests() bool {
	return len(g.invalidNodeIds) > 0
}

// MarkIncomplete inserts id into incompleteNodeIds, used by StartRequest.
func (g *RequestGraph) MarkIncomplete(id NodeID) {
	g.incompleteNodeIds[id] = struct{}{}
}

// ClearInvalidFlag removes id from invalidNodeIds without touching its
// accumulated InvalidateReason (that only resets on successful
// completion — invariant 6). Used by StartRequest's "clear invalid" step.
func (g *RequestGraph) ClearInvalidFlag(id NodeID) {
	delete(g.invalidNodeIds, id)
}

// MarkValid removes id from both incompleteNodeIds and invalidNodeIds, used
// by CompleteRequest.
func (g *RequestGraph) MarkValid(id NodeID) {
	delete(g.incompleteNodeIds, id)
	delete(g.invalidNodeIds, id)
}

// MarkNotIncomplete removes id from incompleteNodeIds only, used by
// RejectRequest before re-invalidating.
func (g *RequestGraph) MarkNotIncomplete(id NodeID) {
	delete(g.incompleteNodeIds, id)
}

func keys(m map[NodeID]struct{}) []NodeID {
	out := make([]NodeID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// requestNode returns the node for id if it is a Request node, and
// ErrGraphInvariant otherwise: a kind mismatch here means a caller's
// bookkeeping is broken.
func (g *RequestGraph) requestNode(id NodeID) (*Node, error) {
	n := g.GetNode(id)
	if n == nil || n.Kind != KindRequest {
		return nil, ErrGraphInvariant
	}
	return n, nil
}

// InvalidateNode OR-combines reason into the request's InvalidateReason,
// inserts it into invalidNodeIds, then recursively invalidates every
// ancestor reachable via reversed `subrequest` edges with the same reason
// (invariant 5: ancestors of an invalid sub-request are also invalid).
func (g *RequestGraph) InvalidateNode(id NodeID, reason InvalidateReason) error {
	return g.invalidateNode(id, reason, make(map[NodeID]struct{}))
}

func (g *RequestGraph) invalidateNode(id NodeID, reason InvalidateReason, seen map[NodeID]struct{}) error {
	if _, already := seen[id]; already {
		return nil
	}
	seen[id] = struct{}{}

	n, err := g.requestNode(id)
	if err != nil {
		return err
	}

	n.Request.InvalidateReason |= reason
	g.invalidNodeIds[id] = struct{}{}

	for _, parent := range g.GetNodeIdsConnectedTo(id, EdgeSubrequest) {
		if err := g.invalidateNode(parent, reason, seen); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateUnpredictableNodes invalidates every unpredictable request with
// reason STARTUP. Called once per process start before reconciling FS
// events accumulated while the process was down.
func (g *RequestGraph) InvalidateUnpredictableNodes() error {
	for id := range g.unpredictableNodeIds {
		if err := g.InvalidateNode(id, ReasonStartup); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateEnvNodes compares every Env node's stored value against envMap
// and invalidates update-predecessors of any that differ, reason ENV_CHANGE.
func (g *RequestGraph) InvalidateEnvNodes(envMap map[string]string) error {
	for id := range g.envNodeIds {
		n := g.GetNode(id)
		if n == nil || n.Kind != KindEnv {
			continue
		}
		current, present := envMap[n.Env.Name]
		changed := (present == n.Env.ValueIsAbsent) || (present && current != n.Env.CurrentValue)
		if !changed {
			continue
		}
		if err := g.invalidatePredecessors(id, EdgeInvalidatedByUpdate, ReasonEnvChange); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateOptionNodes is the symmetric operation for Option nodes: each
// current option value is canonically hashed and compared against the
// stored value key; reason OPTION_CHANGE.
func (g *RequestGraph) InvalidateOptionNodes(options map[string]interface{}) error {
	for id := range g.optionNodeIds {
		n := g.GetNode(id)
		if n == nil || n.Kind != KindOption {
			continue
		}
		if current, present := options[n.Option.Name]; present {
			key, err := cas.ValueKey(current)
			if err != nil {
				return err
			}
			if key == n.Option.ValueKey {
				continue
			}
		}
		if err := g.invalidatePredecessors(id, EdgeInvalidatedByUpdate, ReasonOptionChange); err != nil {
			return err
		}
	}
	return nil
}

func (g *RequestGraph) invalidatePredecessors(target NodeID, label EdgeLabel, reason InvalidateReason) error {
	for _, req := range g.GetNodeIdsConnectedTo(target, label) {
		if err := g.InvalidateNode(req, reason); err != nil {
			return err
		}
	}
	return nil
}

// ClearInvalidations removes request from unpredictableNodeIds and drops
// all outgoing invalidated_by_{update,delete,create} edges, so the request
// body can rebuild them from scratch this run. Called at the start of every
// run.
func (g *RequestGraph) ClearInvalidations(request NodeID) error {
	if _, err := g.requestNode(request); err != nil {
		return err
	}
	delete(g.unpredictableNodeIds, request)

	for _, label := range []EdgeLabel{EdgeInvalidatedByUpdate, EdgeInvalidatedByDelete, EdgeInvalidatedByCreate} {
		for _, to := range g.GetNodeIdsConnectedFrom(request, label) {
			g.RemoveEdge(request, to, label)
		}
	}
	return nil
}

// --- Dependency-declaration primitives (invoked via RunAPI) ---

// InvalidateOnFileUpdate ensures a File node for path and adds an
// invalidated_by_update edge request→file (add-once).
func (g *RequestGraph) InvalidateOnFileUpdate(request NodeID, path string) error {
	if _, err := g.requestNode(request); err != nil {
		return err
	}
	fileID := g.ensureFileNode(path)
	if !g.HasEdge(request, fileID, EdgeInvalidatedByUpdate) {
		g.AddEdge(request, fileID, EdgeInvalidatedByUpdate)
	}
	return nil
}

// InvalidateOnFileDelete is the same as InvalidateOnFileUpdate with the
// invalidated_by_delete label.
func (g *RequestGraph) InvalidateOnFileDelete(request NodeID, path string) error {
	if _, err := g.requestNode(request); err != nil {
		return err
	}
	fileID := g.ensureFileNode(path)
	if !g.HasEdge(request, fileID, EdgeInvalidatedByDelete) {
		g.AddEdge(request, fileID, EdgeInvalidatedByDelete)
	}
	return nil
}

// FileCreateInvalidation is the sum type consumed by InvalidateOnFileCreate:
// exactly one of Glob, FilePath, or (FileName, AboveFilePath) must be set.
type FileCreateInvalidation struct {
	Glob          string
	FilePath      string
	FileName      string
	AboveFilePath string
}

// InvalidateOnFileCreate dispatches on which shape of spec was populated:
// glob, plain path, or the "create above" filename-trie shape. Any other
// shape (all empty, or conflicting fields set) is ErrInvalidInvalidation.
func (g *RequestGraph) InvalidateOnFileCreate(request NodeID, spec FileCreateInvalidation) error {
	if _, err := g.requestNode(request); err != nil {
		return err
	}

	switch {
	case spec.Glob != "" && spec.FilePath == "" && spec.FileName == "" && spec.AboveFilePath == "":
		globID := g.AddNodeByContentKeyTyped(globNode(spec.Glob))
		g.globNodeIds[globID] = struct{}{}
		if !g.HasEdge(request, globID, EdgeInvalidatedByCreate) {
			g.AddEdge(request, globID, EdgeInvalidatedByCreate)
		}
		return nil

	case spec.FilePath != "" && spec.Glob == "" && spec.FileName == "" && spec.AboveFilePath == "":
		fileID := g.ensureFileNode(spec.FilePath)
		if !g.HasEdge(request, fileID, EdgeInvalidatedByCreate) {
			g.AddEdge(request, fileID, EdgeInvalidatedByCreate)
		}
		return nil

	case spec.FileName != "" && spec.AboveFilePath != "" && spec.Glob == "" && spec.FilePath == "":
		return g.invalidateOnFileCreateAbove(request, spec.FileName, spec.AboveFilePath)

	default:
		return ErrInvalidInvalidation
	}
}

// AddNodeByContentKeyTyped is a small convenience wrapper so RequestGraph
// methods can add a typed node without repeating the ContentKey() call.
func (g *RequestGraph) AddNodeByContentKeyTyped(n *Node) NodeID {
	return g.AddNodeByContentKey(n.ContentKey(), n)
}

func (g *RequestGraph) ensureFileNode(path string) NodeID {
	return g.AddNodeByContentKeyTyped(fileNode(path))
}

// InvalidateOnStartup marks request unpredictable: it will be invalidated
// with reason STARTUP on every process start regardless of FS/env/option
// state.
func (g *RequestGraph) InvalidateOnStartup(request NodeID) error {
	if _, err := g.requestNode(request); err != nil {
		return err
	}
	g.unpredictableNodeIds[request] = struct{}{}
	return nil
}

// InvalidateOnEnvChange ensures an Env node keyed by name with the given
// current value, and adds an invalidated_by_update edge.
func (g *RequestGraph) InvalidateOnEnvChange(request NodeID, name, currentValue string, absent bool) error {
	if _, err := g.requestNode(request); err != nil {
		return err
	}
	id := g.AddNode(envNode(name, currentValue, absent))
	if !g.HasEdge(request, id, EdgeInvalidatedByUpdate) {
		g.AddEdge(request, id, EdgeInvalidatedByUpdate)
	}
	return nil
}

// InvalidateOnOptionChange ensures an Option node keyed by name storing a
// canonical content hash of value, and adds an invalidated_by_update edge.
// The raw value is never stored — only its hash is compared on the next
// startup.
func (g *RequestGraph) InvalidateOnOptionChange(request NodeID, name string, value interface{}) error {
	if _, err := g.requestNode(request); err != nil {
		return err
	}
	valueKey, err := cas.ValueKey(value)
	if err != nil {
		return err
	}
	id := g.AddNode(optionNode(name, valueKey))
	if !g.HasEdge(request, id, EdgeInvalidatedByUpdate) {
		g.AddEdge(request, id, EdgeInvalidatedByUpdate)
	}
	return nil
}

// Invalidations is a snapshot of a request's invalidation-edge targets
// (update, delete and create edges), split by node kind, in the shape
// RunAPI.GetInvalidations exposes to request bodies.
type Invalidations struct {
	FileUpdate []string
	FileDelete []string
	FileCreate []string
	Env        []string
	Option     []string
}

// Snapshot captures the request's current invalidation edges. Later
// mutations to the graph do not retroactively change an already-taken
// snapshot.
func (g *RequestGraph) Snapshot(request NodeID) Invalidations {
	var out Invalidations
	for _, id := range g.GetNodeIdsConnectedFrom(request, EdgeInvalidatedByUpdate) {
		n := g.GetNode(id)
		if n == nil {
			continue
		}
		switch n.Kind {
		case KindFile:
			out.FileUpdate = append(out.FileUpdate, n.File.Path)
		case KindEnv:
			out.Env = append(out.Env, n.Env.Name)
		case KindOption:
			out.Option = append(out.Option, n.Option.Name)
		}
	}
	for _, id := range g.GetNodeIdsConnectedFrom(request, EdgeInvalidatedByDelete) {
		if n := g.GetNode(id); n != nil && n.Kind == KindFile {
			out.FileDelete = append(out.FileDelete, n.File.Path)
		}
	}
	for _, id := range g.GetNodeIdsConnectedFrom(request, EdgeInvalidatedByCreate) {
		n := g.GetNode(id)
		if n == nil {
			continue
		}
		switch n.Kind {
		case KindFile:
			out.FileCreate = append(out.FileCreate, n.File.Path)
		case KindGlob:
			out.FileCreate = append(out.FileCreate, n.Glob.Pattern)
		}
	}
	return out
}

// matchesGlob reports whether path matches pattern, using doublestar so
// "**" segments behave the way gitignore-style / build-glob patterns expect
// (ground truth: kai-cli/internal/ignore's use of the same library).
func matchesGlob(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return ok
}

// basename mirrors filepath.Base but without touching the OS-specific
// filepath package's volume-name handling, since content keys always use
// forward slashes.
func basename(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func dirname(path string) string {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "."
	}
	if i == 0 {
		return "/"
	}
	return path[:i]
}
