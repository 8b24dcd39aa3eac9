// Package graph implements the content-addressed request dependency graph:
// a generic directed multigraph (ContentGraph) specialized with the six
// node kinds and six edge kinds the request tracker needs to memoize build
// requests and invalidate exactly the subset whose inputs changed.
package graph

import "reqtrack/cas"

// NodeKind is the discriminant of the Node tagged union.
type NodeKind string

const (
	KindFile     NodeKind = "File"
	KindGlob     NodeKind = "Glob"
	KindFileName NodeKind = "FileName"
	KindEnv      NodeKind = "Env"
	KindOption   NodeKind = "Option"
	KindRequest  NodeKind = "Request"
)

// EdgeLabel is the discriminant of the six edge kinds.
type EdgeLabel string

const (
	EdgeSubrequest               EdgeLabel = "subrequest"
	EdgeInvalidatedByUpdate      EdgeLabel = "invalidated_by_update"
	EdgeInvalidatedByDelete      EdgeLabel = "invalidated_by_delete"
	EdgeInvalidatedByCreate      EdgeLabel = "invalidated_by_create"
	EdgeInvalidatedByCreateAbove EdgeLabel = "invalidated_by_create_above"
	EdgeDirname                  EdgeLabel = "dirname"
)

// InvalidateReason is a bitmask of why a request was (re-)invalidated. It is
// OR-combined across every invalidation since the request's last successful
// completion and reset to VALID on completion. Values are stable on-disk.
type InvalidateReason uint32

const (
	ReasonValid        InvalidateReason = 0
	ReasonInitialBuild InvalidateReason = 1 << iota
	ReasonFileCreate
	ReasonFileUpdate
	ReasonFileDelete
	ReasonEnvChange
	ReasonOptionChange
	ReasonStartup
	ReasonError
)

// RequestState is the lifecycle state of a Request node, derived from the
// side indices it participates in rather than stored directly:
//
//	NEW ──startRequest──▶ INCOMPLETE ──run succeeds──▶ VALID
//	                         │ rejectRequest              │ any invalidation
//	                         ▼                             ▼
//	                      INVALID ◀──────────────────── INVALID
//
// INCOMPLETE ∩ INVALID is reachable (a crashed mid-run request) and must be
// retried rather than trusted.
type RequestState int

const (
	StateNew RequestState = iota
	StateIncomplete
	StateValid
	StateInvalid
)

// StoredRequest is the payload carried by a Request node.
type StoredRequest struct {
	ID               string
	Type             string
	Input            interface{}
	Result           interface{}
	HasResult        bool
	ResultCacheKey   string
	InvalidateReason InvalidateReason
}

// FilePayload is the payload carried by a File node: just the absolute path,
// which doubles as its content key.
type FilePayload struct {
	Path string
}

// GlobPayload is the payload carried by a Glob node.
type GlobPayload struct {
	Pattern string
}

// FileNamePayload is the payload carried by a FileName node: a single path
// segment, shared across every request whose "create above" invalidation
// mentions that segment (e.g. every listener on "node_modules").
type FileNamePayload struct {
	Segment string
}

// EnvPayload is the payload carried by an Env node.
type EnvPayload struct {
	Name          string
	CurrentValue  string
	ValueIsAbsent bool
}

// OptionPayload is the payload carried by an Option node: the option's name
// and a content hash of its value (never the raw value, which may not be
// hashable/comparable directly).
type OptionPayload struct {
	Name     string
	ValueKey string
}

// Node is the tagged union over the six node kinds. Exactly one of the
// payload fields is meaningful, selected by Kind; code that dereferences the
// wrong one is a GraphInvariantViolation (see errors.go).
type Node struct {
	Kind     NodeKind
	File     *FilePayload
	Glob     *GlobPayload
	FileName *FileNamePayload
	Env      *EnvPayload
	Option   *OptionPayload
	Request  *StoredRequest
}

// ContentKey returns the stable content key for a node. Two nodes with
// equal ContentKey are the same node.
func (n *Node) ContentKey() string {
	switch n.Kind {
	case KindFile:
		return n.File.Path
	case KindGlob:
		return n.Glob.Pattern
	case KindFileName:
		return cas.FileNameKey(n.FileName.Segment)
	case KindEnv:
		return cas.EnvKey(n.Env.Name)
	case KindOption:
		return cas.OptionKey(n.Option.Name)
	case KindRequest:
		return n.Request.ID
	default:
		return ""
	}
}

func fileNode(path string) *Node {
	return &Node{Kind: KindFile, File: &FilePayload{Path: path}}
}

func globNode(pattern string) *Node {
	return &Node{Kind: KindGlob, Glob: &GlobPayload{Pattern: pattern}}
}

func fileNameNode(segment string) *Node {
	return &Node{Kind: KindFileName, FileName: &FileNamePayload{Segment: segment}}
}

func envNode(name, value string, absent bool) *Node {
	return &Node{Kind: KindEnv, Env: &EnvPayload{Name: name, CurrentValue: value, ValueIsAbsent: absent}}
}

func optionNode(name, valueKey string) *Node {
	return &Node{Kind: KindOption, Option: &OptionPayload{Name: name, ValueKey: valueKey}}
}

func requestNode(stored *StoredRequest) *Node {
	return &Node{Kind: KindRequest, Request: stored}
}
