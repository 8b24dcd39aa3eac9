package graph

import (
	"encoding/json"
	"fmt"
)

// wireNode is the JSON-serializable shape of a Node, flattening the tagged
// union into one struct so an on-disk blob round-trips without depending on
// Go's interface decoding.
type wireNode struct {
	ID      NodeID           `json:"id"`
	Key     string           `json:"key"`
	Kind    NodeKind         `json:"kind"`
	File    *FilePayload     `json:"file,omitempty"`
	Glob    *GlobPayload     `json:"glob,omitempty"`
	FName   *FileNamePayload `json:"fileName,omitempty"`
	Env     *EnvPayload      `json:"env,omitempty"`
	Option  *OptionPayload   `json:"option,omitempty"`
	Request *StoredRequest   `json:"request,omitempty"`
}

type wireEdge struct {
	From  NodeID    `json:"from"`
	To    NodeID    `json:"to"`
	Label EdgeLabel `json:"label"`
}

// wireGraph is the full serialized RequestGraph: every live node, every
// edge (deduplicated, direction-agnostic storage since AddEdge always
// maintains both directions), next id counter, and the side indices that
// aren't otherwise derivable from node kind alone.
type wireGraph struct {
	NextID               NodeID     `json:"nextId"`
	Nodes                []wireNode `json:"nodes"`
	Edges                []wireEdge `json:"edges"`
	InvalidNodeIds       []NodeID   `json:"invalidNodeIds"`
	IncompleteNodeIds    []NodeID   `json:"incompleteNodeIds"`
	UnpredictableNodeIds []NodeID   `json:"unpredictableNodeIds"`
}

// Marshal serializes the graph to its canonical wire form. Node ids are
// preserved exactly so edges referencing them stay valid after Unmarshal.
func (g *RequestGraph) Marshal() ([]byte, error) {
	w := wireGraph{
		NextID:               g.nextID,
		InvalidNodeIds:       keys(g.invalidNodeIds),
		IncompleteNodeIds:    keys(g.incompleteNodeIds),
		UnpredictableNodeIds: keys(g.unpredictableNodeIds),
	}

	for _, id := range g.AllNodeIDs() {
		n := g.GetNode(id)
		key, _ := g.ContentKeyOf(id)
		w.Nodes = append(w.Nodes, wireNode{
			ID:      id,
			Key:     key,
			Kind:    n.Kind,
			File:    n.File,
			Glob:    n.Glob,
			FName:   n.FileName,
			Env:     n.Env,
			Option:  n.Option,
			Request: n.Request,
		})

		for _, label := range allEdgeLabels {
			for _, to := range g.GetNodeIdsConnectedFrom(id, label) {
				w.Edges = append(w.Edges, wireEdge{From: id, To: to, Label: label})
			}
		}
	}

	return json.Marshal(w)
}

var allEdgeLabels = []EdgeLabel{
	EdgeSubrequest,
	EdgeInvalidatedByUpdate,
	EdgeInvalidatedByDelete,
	EdgeInvalidatedByCreate,
	EdgeInvalidatedByCreateAbove,
	EdgeDirname,
}

// UnmarshalRequestGraph rebuilds a RequestGraph from a Marshal blob.
func UnmarshalRequestGraph(data []byte) (*RequestGraph, error) {
	var w wireGraph
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshaling graph: %w", err)
	}

	g := NewRequestGraph()
	g.nextID = w.NextID

	for _, wn := range w.Nodes {
		n := &Node{
			Kind:     wn.Kind,
			File:     wn.File,
			Glob:     wn.Glob,
			FileName: wn.FName,
			Env:      wn.Env,
			Option:   wn.Option,
			Request:  wn.Request,
		}
		g.nodes[wn.ID] = n
		g.keyToID[wn.Key] = wn.ID
		g.idToKey[wn.ID] = wn.Key

		switch wn.Kind {
		case KindGlob:
			g.globNodeIds[wn.ID] = struct{}{}
		case KindEnv:
			g.envNodeIds[wn.ID] = struct{}{}
		case KindOption:
			g.optionNodeIds[wn.ID] = struct{}{}
		}
	}

	for _, we := range w.Edges {
		g.AddEdge(we.From, we.To, we.Label)
	}

	for _, id := range w.InvalidNodeIds {
		g.invalidNodeIds[id] = struct{}{}
	}
	for _, id := range w.IncompleteNodeIds {
		g.incompleteNodeIds[id] = struct{}{}
	}
	for _, id := range w.UnpredictableNodeIds {
		g.unpredictableNodeIds[id] = struct{}{}
	}

	return g, nil
}
