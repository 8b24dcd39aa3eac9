package graph

import "reqtrack/cas"

// EventType is the kind of filesystem change reported by the external
// watcher collaborator.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is the wire shape the external filesystem watcher delivers.
type Event struct {
	Path string
	Type EventType
}

// RespondToFSEvents folds a stream of file create/update/delete events into
// the graph, invalidating every request whose declared dependency matches.
// Returns true iff at least one invalidation happened and the graph now has
// invalid requests — i.e. HasInvalidRequests() is true after this call (it
// may already have been true beforehand from an unrelated cause; that
// still counts).
func (g *RequestGraph) RespondToFSEvents(events []Event) (bool, error) {
	invalidatedAny := false

	for _, ev := range events {
		switch ev.Type {
		case EventUpdate:
			matched, err := g.handleUpdateOrQuirkyCreate(ev.Path)
			if err != nil {
				return invalidatedAny, err
			}
			invalidatedAny = invalidatedAny || matched

		case EventCreate:
			// Platform quirk: some watchers (macOS FSEvents) report an
			// update as a create when the path was already known. Treat it
			// identically to an update in that case, then still run the
			// normal create-matching logic below; both are independent
			// actions.
			if g.HasContentKey(ev.Path) {
				matched, err := g.handleUpdateOrQuirkyCreate(ev.Path)
				if err != nil {
					return invalidatedAny, err
				}
				invalidatedAny = invalidatedAny || matched
			}

			matched, err := g.handleCreate(ev.Path)
			if err != nil {
				return invalidatedAny, err
			}
			invalidatedAny = invalidatedAny || matched

		case EventDelete:
			matched, err := g.handleDelete(ev.Path)
			if err != nil {
				return invalidatedAny, err
			}
			invalidatedAny = invalidatedAny || matched
		}
	}

	return invalidatedAny && g.HasInvalidRequests(), nil
}

func (g *RequestGraph) handleUpdateOrQuirkyCreate(path string) (bool, error) {
	fileID, ok := g.LookupByKey(path)
	if !ok {
		return false, nil
	}
	before := len(g.invalidNodeIds)
	if err := g.invalidatePredecessors(fileID, EdgeInvalidatedByUpdate, ReasonFileUpdate); err != nil {
		return false, err
	}
	return len(g.invalidNodeIds) != before, nil
}

func (g *RequestGraph) handleDelete(path string) (bool, error) {
	fileID, ok := g.LookupByKey(path)
	if !ok {
		return false, nil
	}
	before := len(g.invalidNodeIds)
	if err := g.invalidatePredecessors(fileID, EdgeInvalidatedByDelete, ReasonFileDelete); err != nil {
		return false, err
	}
	return len(g.invalidNodeIds) != before, nil
}

func (g *RequestGraph) handleCreate(path string) (bool, error) {
	any := false

	// 0. Exact File node match (the "plain path" shape of
	// InvalidateOnFileCreate registers its edge directly on the File node
	// for the literal path, so a create at that exact path invalidates it
	// the same way a glob or filename-trie match would).
	if fileID, ok := g.LookupByKey(path); ok {
		if n := g.GetNode(fileID); n != nil && n.Kind == KindFile {
			before := len(g.invalidNodeIds)
			if err := g.invalidatePredecessors(fileID, EdgeInvalidatedByCreate, ReasonFileCreate); err != nil {
				return any, err
			}
			any = any || len(g.invalidNodeIds) != before
		}
	}

	// 1. Filename-trie "create above" matching.
	base := basename(path)
	if fnID, ok := g.LookupByKey(cas.FileNameKey(base)); ok {
		matched, err := g.invalidateFileNameNode(fnID, dirname(path), ReasonFileCreate)
		if err != nil {
			return any, err
		}
		any = any || matched
	}

	// 2. Glob matching: every Glob node whose pattern matches path.
	for globID := range g.globNodeIds {
		n := g.GetNode(globID)
		if n == nil || n.Kind != KindGlob {
			continue
		}
		if !matchesGlob(n.Glob.Pattern, path) {
			continue
		}
		before := len(g.invalidNodeIds)
		if err := g.invalidatePredecessors(globID, EdgeInvalidatedByCreate, ReasonFileCreate); err != nil {
			return any, err
		}
		any = any || len(g.invalidNodeIds) != before
	}

	return any, nil
}
