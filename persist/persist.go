// Package persist serializes the request graph to the object cache and
// reconciles filesystem events that accumulated while the process was not
// running, so a restart can resume from a trusted graph rather than
// rebuilding it from nothing.
package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"reqtrack/cas"
	"reqtrack/fswatch"
	"reqtrack/graph"
	"reqtrack/objectcache"
)

const headerLengthSize = 4

// packHeader precedes the compressed graph payload in every cache entry
// this package writes, following the same
// [length][header JSON][payload] framing kailab/pack/segment.go uses for
// its object packs.
type packHeader struct {
	ParcelVersion string `json:"parcelVersion"`
	GraphVersion  int    `json:"graphVersion"`
}

const currentGraphVersion = 1

// Store bundles the collaborators loadRequestGraph/writeToCache need: the
// object cache entries are written to, and the filesystem collaborator
// used to snapshot and diff the project root.
type Store struct {
	Cache *objectcache.Cache
	FS    fswatch.InputFS
	Root  string
}

// New constructs a Store.
func New(cache *objectcache.Cache, fs fswatch.InputFS, root string) *Store {
	return &Store{Cache: cache, FS: fs, Root: root}
}

// BaseKey derives the cache key a project identity (version + entrypoints)
// maps to, from which the graph and snapshot sub-keys are derived.
func BaseKey(parcelVersion string, entries []string) (string, error) {
	return cas.CacheKey(parcelVersion, entries)
}

func graphKey(base string) string    { return cas.DerivedKey(base, "requestGraph") }
func snapshotKey(base string) string { return cas.DerivedKey(base, "snapshot") }

// WriteToCache serializes g and writes it, plus a fresh filesystem
// snapshot, under base's derived cache keys. Called after a successful
// top-level run so the next process start can resume from here.
func (s *Store) WriteToCache(ctx context.Context, g *graph.RequestGraph, base string, ignore []string) error {
	if s.Cache == nil || s.Cache.IsDisabled() {
		return nil
	}

	// Requests that re-hydrated a cached result carry both a resultCacheKey
	// and an inline copy. Spill the copy back to the cache and drop it so the
	// serialized graph stays small.
	for _, id := range g.AllNodeIDs() {
		n := g.GetNode(id)
		if n == nil || n.Kind != graph.KindRequest {
			continue
		}
		if n.Request.ResultCacheKey == "" || !n.Request.HasResult {
			continue
		}
		payload, err := json.Marshal(n.Request.Result)
		if err != nil {
			return fmt.Errorf("marshaling result for %s: %w", n.Request.ID, err)
		}
		if err := s.Cache.Set(n.Request.ResultCacheKey, payload); err != nil {
			return fmt.Errorf("writing result for %s to cache: %w", n.Request.ID, err)
		}
		n.Request.Result = nil
		n.Request.HasResult = false
	}

	blob, err := g.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling request graph: %w", err)
	}

	packed, err := pack(packHeader{ParcelVersion: base, GraphVersion: currentGraphVersion}, blob)
	if err != nil {
		return err
	}
	if err := s.Cache.Set(graphKey(base), packed); err != nil {
		return fmt.Errorf("writing request graph to cache: %w", err)
	}

	tmp, err := os.CreateTemp("", "reqgraph-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.FS.WriteSnapshot(ctx, s.Root, tmpPath, fswatch.Options{Ignore: ignore}); err != nil {
		return fmt.Errorf("writing filesystem snapshot: %w", err)
	}

	snapData, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("reading snapshot file: %w", err)
	}
	if err := s.Cache.Set(snapshotKey(base), snapData); err != nil {
		return fmt.Errorf("writing snapshot to cache: %w", err)
	}

	return nil
}

// LoadRequestGraph reconstructs the graph for base: a cache miss returns a
// fresh empty graph with fresh=true. On a hit, it rebuilds the graph from
// its cached blob, invalidates every unpredictable request with reason
// STARTUP, re-checks env/option nodes against the current process state,
// then folds in whatever filesystem events happened between the cached
// snapshot and now.
func (s *Store) LoadRequestGraph(ctx context.Context, base string, envMap map[string]string, options map[string]interface{}, ignore []string) (g *graph.RequestGraph, fresh bool, err error) {
	if s.Cache == nil || s.Cache.IsDisabled() {
		return graph.NewRequestGraph(), true, nil
	}

	blob, ok, err := s.Cache.Get(graphKey(base))
	if err != nil {
		return nil, false, fmt.Errorf("fetching cached request graph: %w", err)
	}
	if !ok {
		return graph.NewRequestGraph(), true, nil
	}

	_, payload, err := unpack(blob)
	if err != nil {
		return nil, false, err
	}

	g, err = graph.UnmarshalRequestGraph(payload)
	if err != nil {
		return nil, false, fmt.Errorf("unmarshaling cached request graph: %w", err)
	}

	if err := g.InvalidateUnpredictableNodes(); err != nil {
		return nil, false, err
	}
	if envMap != nil {
		if err := g.InvalidateEnvNodes(envMap); err != nil {
			return nil, false, err
		}
	}
	if options != nil {
		if err := g.InvalidateOptionNodes(options); err != nil {
			return nil, false, err
		}
	}

	events, err := s.eventsSinceSnapshot(ctx, base, ignore)
	if err != nil {
		return nil, false, err
	}
	if len(events) > 0 {
		if _, err := g.RespondToFSEvents(events); err != nil {
			return nil, false, err
		}
	}

	return g, false, nil
}

func (s *Store) eventsSinceSnapshot(ctx context.Context, base string, ignore []string) ([]graph.Event, error) {
	snapData, ok, err := s.Cache.Get(snapshotKey(base))
	if err != nil {
		return nil, fmt.Errorf("fetching cached snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}

	tmp, err := os.CreateTemp("", "reqgraph-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("creating snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(snapData); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing snapshot temp file: %w", err)
	}
	tmp.Close()

	return s.FS.GetEventsSince(ctx, s.Root, tmpPath, fswatch.Options{Ignore: ignore})
}

// pack frames payload behind a zstd-compressed [length][header][data] blob.
func pack(header packHeader, payload []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling pack header: %w", err)
	}

	var buf bytes.Buffer
	var lenBytes [headerLengthSize]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(headerJSON)))
	buf.Write(lenBytes[:])
	buf.Write(headerJSON)
	buf.Write(payload)

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

// unpack reverses pack, returning the parsed header and the raw payload.
func unpack(blob []byte) (packHeader, []byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return packHeader{}, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return packHeader{}, nil, fmt.Errorf("decompressing pack: %w", err)
	}

	if len(decompressed) < headerLengthSize {
		return packHeader{}, nil, fmt.Errorf("pack too small: %d bytes", len(decompressed))
	}
	headerLen := binary.BigEndian.Uint32(decompressed[:headerLengthSize])
	if int(headerLengthSize+headerLen) > len(decompressed) {
		return packHeader{}, nil, fmt.Errorf("header length exceeds pack size")
	}

	var header packHeader
	headerData := decompressed[headerLengthSize : headerLengthSize+headerLen]
	if err := json.Unmarshal(headerData, &header); err != nil {
		return packHeader{}, nil, fmt.Errorf("parsing pack header: %w", err)
	}

	payload := decompressed[headerLengthSize+headerLen:]
	return header, payload, nil
}

// DefaultSnapshotPath returns a conventional on-disk location for a
// snapshot file under cacheDir. WriteToCache does not write there: it
// stores the snapshot in the object cache under base's snapshot sub-key.
func DefaultSnapshotPath(cacheDir string) string {
	return filepath.Join(cacheDir, "fs-snapshot.json")
}
