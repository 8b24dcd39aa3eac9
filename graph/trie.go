package graph

import "strings"

// invalidateOnFileCreateAbove encodes "create <fileName> anywhere above
// <aboveFilePath>" as a filename-trie:
//
//  1. Split fileName on "/", reverse -> segments [c, b, a] for "a/b/c".
//  2. Ensure a FileName node per segment; connect via dirname edges
//     c -> b -> a (later segments point to parents).
//  3. Ensure a File node for aboveFilePath (P).
//  4. Add edge P -> c labeled invalidated_by_create_above (start of chain).
//  5. Add edge a -> P labeled invalidated_by_create_above (end of chain).
//  6. Add edge request -> P labeled invalidated_by_create.
//
// Many requests listening on e.g. "node_modules/<x>" share the single
// "node_modules" segment node, since FileName nodes are content-addressed
// by segment text alone.
func (g *RequestGraph) invalidateOnFileCreateAbove(request NodeID, fileName, aboveFilePath string) error {
	parts := strings.Split(strings.Trim(fileName, "/"), "/")
	if len(parts) == 0 || (len(parts) == 1 && parts[0] == "") {
		return ErrInvalidInvalidation
	}

	segments := make([]string, len(parts))
	for i := range parts {
		segments[i] = parts[len(parts)-1-i]
	}

	segmentIDs := make([]NodeID, len(segments))
	for i, seg := range segments {
		segmentIDs[i] = g.AddNodeByContentKeyTyped(fileNameNode(seg))
	}
	for i := 0; i < len(segmentIDs)-1; i++ {
		from, to := segmentIDs[i], segmentIDs[i+1]
		if !g.HasEdge(from, to, EdgeDirname) {
			g.AddEdge(from, to, EdgeDirname)
		}
	}

	pID := g.ensureFileNode(aboveFilePath)

	chainStart := segmentIDs[0]
	chainEnd := segmentIDs[len(segmentIDs)-1]

	if !g.HasEdge(pID, chainStart, EdgeInvalidatedByCreateAbove) {
		g.AddEdge(pID, chainStart, EdgeInvalidatedByCreateAbove)
	}
	if !g.HasEdge(chainEnd, pID, EdgeInvalidatedByCreateAbove) {
		g.AddEdge(chainEnd, pID, EdgeInvalidatedByCreateAbove)
	}
	if !g.HasEdge(request, pID, EdgeInvalidatedByCreate) {
		g.AddEdge(request, pID, EdgeInvalidatedByCreate)
	}
	return nil
}

// invalidateFileNameNode walks the filename trie upward from the FileName
// node matching a newly created file's basename, invalidating every
// matching "create above" registration along the way. segmentDir is the
// directory that must be the registered aboveFilePath's directory or one of
// its ancestors for a match at this depth.
//
// Returns whether any request was invalidated and any graph invariant error
// encountered.
func (g *RequestGraph) invalidateFileNameNode(nodeID NodeID, segmentDir string, reason InvalidateReason) (bool, error) {
	any := false

	for _, pID := range g.GetNodeIdsConnectedFrom(nodeID, EdgeInvalidatedByCreateAbove) {
		p := g.GetNode(pID)
		if p == nil || p.Kind != KindFile {
			continue
		}
		if !isAncestorDirOrEqual(segmentDir, dirname(p.File.Path)) {
			continue
		}
		for _, req := range g.GetNodeIdsConnectedTo(pID, EdgeInvalidatedByCreate) {
			if err := g.InvalidateNode(req, reason); err != nil {
				return any, err
			}
			any = true
		}
	}

	nextDirBase := basename(segmentDir)
	for _, child := range g.GetNodeIdsConnectedFrom(nodeID, EdgeDirname) {
		n := g.GetNode(child)
		if n == nil || n.Kind != KindFileName {
			continue
		}
		if n.FileName.Segment != nextDirBase {
			continue
		}
		matched, err := g.invalidateFileNameNode(child, dirname(segmentDir), reason)
		if err != nil {
			return any, err
		}
		any = any || matched
	}

	return any, nil
}

// isAncestorDirOrEqual reports whether dir is ancestor of or equal to other.
func isAncestorDirOrEqual(dir, other string) bool {
	if dir == other {
		return true
	}
	d := other
	for {
		if d == "/" || d == "." || d == "" {
			return false
		}
		d = dirname(d)
		if d == dir {
			return true
		}
	}
}
