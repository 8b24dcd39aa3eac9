// Package tracker implements the request lifecycle: starting, completing,
// rejecting and memoizing requests, and deduplicating sub-requests recorded
// by their RunAPI.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"reqtrack/graph"
	"reqtrack/objectcache"
	"reqtrack/runapi"
	"reqtrack/workerpool"
)

// Sentinel errors.
var (
	ErrCancelled = errors.New("tracker: request run cancelled after resolving")
	ErrCorrupt   = errors.New("tracker: result cache entry missing or unreadable")
)

// RequestBodyFailed wraps an error raised by a request body, propagated
// unchanged to the caller while the request is independently marked invalid
// with reason ERROR.
type RequestBodyFailed struct {
	RequestID string
	Err       error
}

func (e *RequestBodyFailed) Error() string {
	return fmt.Sprintf("request %s failed: %v", e.RequestID, e.Err)
}

func (e *RequestBodyFailed) Unwrap() error { return e.Err }

// Spec is the request spec consumed by the runtime: id must be a
// deterministic function of type and the inputs that matter for identity.
type Spec struct {
	ID    string
	Type  string
	Input interface{}
	Run   func(ctx context.Context, rc RunContext) (interface{}, error)
}

// RunContext is handed to a request body, matching
// {input, api, farm, options, prevResult, invalidateReason}.
type RunContext struct {
	Input            interface{}
	API              *runapi.API
	Farm             *workerpool.Pool
	Options          map[string]interface{}
	PrevResult       interface{}
	InvalidateReason graph.InvalidateReason
}

// Options configures a Tracker.
type Options struct {
	Farm    *workerpool.Pool
	Cache   *objectcache.Cache
	Values  map[string]interface{}
	Aborted <-chan struct{}
}

// Tracker owns a RequestGraph, a worker-pool handle, the option set, and an
// optional cancellation signal. It is the only thing that mutates the graph
// on behalf of running request bodies (via the RunAPI it constructs).
type Tracker struct {
	mu      sync.Mutex
	g       *graph.RequestGraph
	farm    *workerpool.Pool
	cache   *objectcache.Cache
	options map[string]interface{}
	aborted <-chan struct{}
	epoch   string
}

// New constructs a Tracker around an existing (possibly restored)
// RequestGraph.
func New(g *graph.RequestGraph, opts Options) *Tracker {
	if opts.Cache == nil {
		opts.Cache = objectcache.Disabled()
	}
	return &Tracker{
		g:       g,
		farm:    opts.Farm,
		cache:   opts.Cache,
		options: opts.Values,
		aborted: opts.Aborted,
		epoch:   uuid.NewString(),
	}
}

// Graph returns the underlying RequestGraph, for persistence and CLI
// inspection.
func (t *Tracker) Graph() *graph.RequestGraph {
	return t.g
}

// Epoch returns this tracker's run epoch id, a random UUID generated in New.
// The tracker does not record it on any node or log line.
func (t *Tracker) Epoch() string {
	return t.epoch
}

// StartRequest creates a Request node for stored if absent, otherwise
// clears its invalidation edges. Marks it incomplete and clears invalid.
// Returns the node id.
func (t *Tracker) StartRequest(stored *graph.StoredRequest) (graph.NodeID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startRequestLocked(stored)
}

func (t *Tracker) startRequestLocked(stored *graph.StoredRequest) (graph.NodeID, error) {
	var id graph.NodeID
	if existing, ok := t.g.LookupByKey(stored.ID); ok {
		id = existing
		if err := t.g.ClearInvalidations(id); err != nil {
			return 0, err
		}
	} else {
		stored.InvalidateReason = graph.ReasonInitialBuild
		id = t.g.AddNode(&graph.Node{Kind: graph.KindRequest, Request: stored})
	}

	t.g.MarkIncomplete(id)
	t.g.ClearInvalidFlag(id)
	return id, nil
}

// StoreResult stores result inline on the node, or (if cacheKey is
// non-empty) defers it to the object cache.
func (t *Tracker) StoreResult(id graph.NodeID, result interface{}, cacheKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storeResultLocked(id, result, cacheKey)
}

func (t *Tracker) storeResultLocked(id graph.NodeID, result interface{}, cacheKey string) error {
	n := t.g.GetNode(id)
	if n == nil || n.Kind != graph.KindRequest {
		return graph.ErrGraphInvariant
	}

	if cacheKey != "" {
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling result for cache: %w", err)
		}
		if err := t.cache.Set(cacheKey, payload); err != nil {
			return fmt.Errorf("writing result to cache: %w", err)
		}
		n.Request.ResultCacheKey = cacheKey
		n.Request.Result = nil
		n.Request.HasResult = false
		return nil
	}

	n.Request.Result = result
	n.Request.HasResult = true
	n.Request.ResultCacheKey = ""
	return nil
}

// HasValidResult reports whether id's node exists, is not invalid, and is
// not incomplete.
func (t *Tracker) HasValidResult(id graph.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasValidResultLocked(id)
}

func (t *Tracker) hasValidResultLocked(id graph.NodeID) bool {
	if !t.g.HasNode(id) {
		return false
	}
	for _, invalid := range t.g.InvalidNodeIds() {
		if invalid == id {
			return false
		}
	}
	for _, incomplete := range t.g.IncompleteNodeIds() {
		if incomplete == id {
			return false
		}
	}
	return true
}

// GetRequestResult returns id's result, fetching from the object cache if
// the node only carries a deferred resultCacheKey. Fails with ErrCorrupt if
// the cache entry is missing.
func (t *Tracker) GetRequestResult(ctx context.Context, id graph.NodeID) (interface{}, error) {
	t.mu.Lock()
	n := t.g.GetNode(id)
	if n == nil || n.Kind != graph.KindRequest {
		t.mu.Unlock()
		return nil, graph.ErrGraphInvariant
	}
	if n.Request.HasResult {
		result := n.Request.Result
		t.mu.Unlock()
		return result, nil
	}
	cacheKey := n.Request.ResultCacheKey
	t.mu.Unlock()

	if cacheKey == "" {
		return nil, nil
	}

	data, ok, err := t.cache.Get(cacheKey)
	if err != nil {
		return nil, fmt.Errorf("fetching cached result: %w", err)
	}
	if !ok {
		return nil, ErrCorrupt
	}

	var result interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	t.mu.Lock()
	n.Request.Result = result
	n.Request.HasResult = true
	t.mu.Unlock()

	return result, nil
}

// CompleteRequest marks id valid and resets InvalidateReason to VALID.
func (t *Tracker) CompleteRequest(id graph.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeRequestLocked(id)
}

func (t *Tracker) completeRequestLocked(id graph.NodeID) error {
	n := t.g.GetNode(id)
	if n == nil || n.Kind != graph.KindRequest {
		return graph.ErrGraphInvariant
	}
	t.g.MarkValid(id)
	n.Request.InvalidateReason = graph.ReasonValid
	return nil
}

// RejectRequest drops id from incomplete and invalidates it with reason
// ERROR, so a retry will re-run it.
func (t *Tracker) RejectRequest(id graph.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejectRequestLocked(id)
}

func (t *Tracker) rejectRequestLocked(id graph.NodeID) error {
	t.g.MarkNotIncomplete(id) // drop from incomplete regardless of outcome
	return t.g.InvalidateNode(id, graph.ReasonError)
}

// RunOptions configures a single RunRequest call.
type RunOptions struct {
	Force bool
}

// RunRequest is the top-level entry point: if not forced and spec already
// has a valid result, returns it without invoking the body. Otherwise
// starts the request, builds a RunAPI, invokes the body, and
// unconditionally replaces the request's subrequest edges with whatever
// the body (or its partial execution before a throw) recorded — this
// replacement happens in a deferred, guaranteed-release clause so it runs
// regardless of success, body failure, or cancellation.
func (t *Tracker) RunRequest(ctx context.Context, spec Spec, opts RunOptions) (interface{}, error) {
	t.mu.Lock()
	id, ok := t.g.LookupByKey(spec.ID)
	if ok && !opts.Force && t.hasValidResultLocked(id) {
		t.mu.Unlock()
		return t.GetRequestResult(ctx, id)
	}
	t.mu.Unlock()

	return t.runRequestFresh(ctx, spec, id, ok)
}

func (t *Tracker) runRequestFresh(ctx context.Context, spec Spec, existingID graph.NodeID, existed bool) (interface{}, error) {
	t.mu.Lock()
	var prevResult interface{}
	var prevInvalidations graph.Invalidations
	invalidateReason := graph.ReasonInitialBuild
	if existed {
		if n := t.g.GetNode(existingID); n != nil && n.Kind == graph.KindRequest {
			prevResult = n.Request.Result
			invalidateReason = n.Request.InvalidateReason
		}
		prevInvalidations = t.g.Snapshot(existingID)
	}

	stored := &graph.StoredRequest{ID: spec.ID, Type: spec.Type, Input: spec.Input}
	id, err := t.startRequestLocked(stored)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	api := runapi.New(ctx, id, t.g, t, prevInvalidations)

	// Guaranteed-release clause: subrequest edges are rebuilt with whatever
	// the body recorded up to the point it returned, failed, or panicked.
	defer func() {
		t.mu.Lock()
		t.g.ReplaceNodeIdsConnectedTo(id, api.GetSubRequests(), graph.EdgeSubrequest)
		t.mu.Unlock()
	}()

	rc := RunContext{
		Input:            spec.Input,
		API:              api,
		Farm:             t.farm,
		Options:          t.options,
		PrevResult:       prevResult,
		InvalidateReason: invalidateReason,
	}

	result, runErr := spec.Run(ctx, rc)

	if runErr != nil {
		t.mu.Lock()
		_ = t.rejectRequestLocked(id)
		t.mu.Unlock()
		return nil, &RequestBodyFailed{RequestID: spec.ID, Err: runErr}
	}

	if t.aborted != nil {
		select {
		case <-t.aborted:
			// Cancellation observed after the body resolved: do not mark
			// complete, leave invalid so a retry is possible.
			t.mu.Lock()
			t.g.MarkNotIncomplete(id)
			_ = t.g.InvalidateNode(id, graph.ReasonError)
			t.mu.Unlock()
			return nil, ErrCancelled
		default:
		}
	}

	value, hasValue, cacheKey := api.Result()
	if hasValue || cacheKey != "" {
		if err := t.StoreResult(id, value, cacheKey); err != nil {
			return nil, err
		}
	} else if result != nil {
		if err := t.StoreResult(id, result, ""); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	err = t.completeRequestLocked(id)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return t.GetRequestResult(ctx, id)
}

// RunSubrequest implements runapi.ResultFetcher: it runs a sub-request
// spec bridged from runapi.SubRequestSpec, so RunAPI.RunRequest can
// dispatch back into the tracker without an import cycle.
func (t *Tracker) RunSubrequest(ctx context.Context, sub runapi.SubRequestSpec, opts runapi.RunOptions) (interface{}, error) {
	return t.RunRequest(ctx, Spec{
		ID:    sub.ID,
		Type:  sub.Type,
		Input: sub.Input,
		Run: func(ctx context.Context, rc RunContext) (interface{}, error) {
			return sub.Run(ctx, rc.API)
		},
	}, RunOptions{Force: opts.Force})
}
