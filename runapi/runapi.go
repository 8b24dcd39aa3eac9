// Package runapi provides the per-request façade a running request body
// uses to declare dependencies and invoke sub-requests. It mediates every
// mutation a request body makes to the shared RequestGraph, so the graph
// itself never needs to be handed to request bodies directly.
package runapi

import (
	"context"

	"reqtrack/graph"
)

// ResultFetcher fetches a previously stored sub-request result, used by
// GetRequestResult/CanSkipSubrequest. Implemented by the tracker; kept as an
// interface here to avoid an import cycle between runapi and tracker.
type ResultFetcher interface {
	HasValidResult(id graph.NodeID) bool
	GetRequestResult(ctx context.Context, id graph.NodeID) (interface{}, error)
	RunSubrequest(ctx context.Context, sub SubRequestSpec, opts RunOptions) (interface{}, error)
}

// SubRequestSpec is the minimal shape RunAPI needs to dispatch a
// sub-request through the tracker without importing it directly.
type SubRequestSpec struct {
	ID    string
	Type  string
	Input interface{}
	Run   func(ctx context.Context, api *API) (interface{}, error)
}

// RunOptions configures a single runRequest/runSubrequest invocation.
type RunOptions struct {
	Force bool
}

// API is the façade captured for the lifetime of a single request run. A
// fresh API is constructed per runRequest invocation by the tracker.
type API struct {
	ctx       context.Context
	requestID graph.NodeID
	g         *graph.RequestGraph
	fetcher   ResultFetcher

	subRequestKeys map[string]struct{}
	subRequestIDs  []graph.NodeID

	invalidations graph.Invalidations
	result        interface{}
	hasResult     bool
	resultKey     string
}

// New constructs a RunAPI bound to requestID. invalidations is the snapshot
// of the request's invalidation edges as they stood when the API was created
// — the tracker captures it before StartRequest clears them for the new run,
// so the body can see what it declared last time. GetInvalidations always
// returns this snapshot, never edges added after New was called.
func New(ctx context.Context, requestID graph.NodeID, g *graph.RequestGraph, fetcher ResultFetcher, invalidations graph.Invalidations) *API {
	return &API{
		ctx:            ctx,
		requestID:      requestID,
		g:              g,
		fetcher:        fetcher,
		subRequestKeys: make(map[string]struct{}),
		invalidations:  invalidations,
	}
}

// InvalidateOnFileUpdate declares that an update of path invalidates this
// request.
func (a *API) InvalidateOnFileUpdate(path string) error {
	return a.g.InvalidateOnFileUpdate(a.requestID, path)
}

// InvalidateOnFileDelete declares that a deletion of path invalidates this
// request.
func (a *API) InvalidateOnFileDelete(path string) error {
	return a.g.InvalidateOnFileDelete(a.requestID, path)
}

// InvalidateOnFileCreate declares a file-creation invalidation (glob, plain
// path, or filename-above shape). Returns ErrInvalidInvalidation for any
// other shape.
func (a *API) InvalidateOnFileCreate(spec graph.FileCreateInvalidation) error {
	return a.g.InvalidateOnFileCreate(a.requestID, spec)
}

// InvalidateOnStartup marks this request as unpredictable: always rerun on
// process start.
func (a *API) InvalidateOnStartup() error {
	return a.g.InvalidateOnStartup(a.requestID)
}

// InvalidateOnEnvChange declares that a change to the named environment
// variable (from currentValue) invalidates this request.
func (a *API) InvalidateOnEnvChange(name, currentValue string, absent bool) error {
	return a.g.InvalidateOnEnvChange(a.requestID, name, currentValue, absent)
}

// InvalidateOnOptionChange declares that a change to the named option's
// value invalidates this request. The graph stores a canonical content hash
// of value, never the value itself.
func (a *API) InvalidateOnOptionChange(name string, value interface{}) error {
	return a.g.InvalidateOnOptionChange(a.requestID, name, value)
}

// GetInvalidations returns the snapshot of invalidation edges taken when
// this API was constructed.
func (a *API) GetInvalidations() graph.Invalidations {
	return a.invalidations
}

// StoreResult stores this request's result, either inline or (if cacheKey
// is non-empty) deferred to the object cache.
func (a *API) StoreResult(result interface{}, cacheKey string) {
	a.result = result
	a.hasResult = true
	a.resultKey = cacheKey
}

// Result returns what StoreResult recorded, for the tracker to persist onto
// the node after the body returns.
func (a *API) Result() (value interface{}, hasValue bool, cacheKey string) {
	return a.result, a.hasResult, a.resultKey
}

// GetSubRequests returns every sub-request id recorded via CanSkipSubrequest
// or RunRequest during this run, in declaration order.
func (a *API) GetSubRequests() []graph.NodeID {
	out := make([]graph.NodeID, len(a.subRequestIDs))
	copy(out, a.subRequestIDs)
	return out
}

func (a *API) recordSubRequest(key string, id graph.NodeID) {
	if _, seen := a.subRequestKeys[key]; seen {
		return
	}
	a.subRequestKeys[key] = struct{}{}
	a.subRequestIDs = append(a.subRequestIDs, id)
}

// GetRequestResult returns a previously-stored sub-request's result.
func (a *API) GetRequestResult(id graph.NodeID) (interface{}, error) {
	return a.fetcher.GetRequestResult(a.ctx, id)
}

// CanSkipSubrequest reports whether id already has a trusted result. As a
// side effect it records id as a sub-request of the running request, the
// same bookkeeping RunRequest performs, so the dependency edge survives
// even when the caller chooses not to re-run the sub-request.
func (a *API) CanSkipSubrequest(id graph.NodeID, contentKey string) bool {
	a.recordSubRequest(contentKey, id)
	return a.fetcher.HasValidResult(id)
}

// RunRequest runs sub (or returns its cached result) and records it as a
// sub-request of the currently running request.
func (a *API) RunRequest(sub SubRequestSpec, opts RunOptions) (interface{}, error) {
	result, err := a.fetcher.RunSubrequest(a.ctx, sub, opts)
	// Sub-request edges must be recorded even on failure, so a retry after
	// a crashed sub-request still sees the dependency.
	id, lookupErr := a.lookupSubRequestID(sub)
	if lookupErr == nil {
		a.recordSubRequest(sub.ID, id)
	}
	return result, err
}

func (a *API) lookupSubRequestID(sub SubRequestSpec) (graph.NodeID, error) {
	id, ok := a.g.LookupByKey(sub.ID)
	if !ok {
		return 0, graph.ErrUnknownNode
	}
	return id, nil
}
