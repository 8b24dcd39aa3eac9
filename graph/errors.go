package graph

import "errors"

// ErrGraphInvariant signals an internal invariant failure — e.g. a caller
// asked for a Request-only operation on a node that turned out to be a File
// node. Fatal and non-recoverable; callers should not attempt to continue.
var ErrGraphInvariant = errors.New("graph: invariant violation")

// ErrInvalidInvalidation signals a malformed FileCreateInvalidation spec
// passed to InvalidateOnFileCreate: it matched none of the glob/filePath/
// fileName+aboveFilePath shapes.
var ErrInvalidInvalidation = errors.New("graph: invalid invalidation spec")

// ErrUnknownNode is returned when a content key has no live node (removed,
// or never added), e.g. when RunAPI resolves a sub-request's id.
var ErrUnknownNode = errors.New("graph: unknown node id")
