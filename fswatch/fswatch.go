// Package fswatch provides the filesystem-watcher collaborator the core
// consumes only through its interface: WriteSnapshot/GetEventsSince plus
// a live fsnotify-backed event stream. The watcher's own debouncing and
// coalescing policy is out of scope for the core — this package is a
// concrete, demonstration-grade implementation, not a hardened
// production watcher.
package fswatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"reqtrack/graph"
)

// Options configures a watcher: paths to ignore entirely.
type Options struct {
	Ignore []string
}

// InputFS is the interface the core's persistence layer depends on.
type InputFS interface {
	WriteSnapshot(ctx context.Context, root, snapshotPath string, opts Options) error
	GetEventsSince(ctx context.Context, root, snapshotPath string, opts Options) ([]graph.Event, error)
}

// entry is one file's recorded (size, mtime) pair at snapshot time.
type entry struct {
	Size  int64 `json:"size"`
	Mtime int64 `json:"mtime"`
}

type snapshotFile struct {
	Root    string           `json:"root"`
	Entries map[string]entry `json:"entries"`
}

// FS is a concrete InputFS backed by directory walks for snapshotting and
// diffing, and fsnotify for live watching — following the same
// addRecursive/eventLoop shape imyousuf-CodeEagle/internal/watcher uses.
type FS struct{}

// New returns a concrete InputFS.
func New() *FS {
	return &FS{}
}

// WriteSnapshot walks root (skipping ignored paths) and records each file's
// (size, mtime) to snapshotPath as an opaque cookie the next run can diff
// against.
func (FS) WriteSnapshot(ctx context.Context, root, snapshotPath string, opts Options) error {
	snap := snapshotFile{Root: root, Entries: make(map[string]entry)}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if shouldIgnore(path, opts.Ignore) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		snap.Entries[path] = entry{Size: info.Size(), Mtime: info.ModTime().UnixNano()}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(snapshotPath), 0755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	return os.WriteFile(snapshotPath, data, 0644)
}

// GetEventsSince diffs the current filesystem state against the recorded
// snapshot, synthesizing create/update/delete events for everything that
// changed while the process was not running.
func (FS) GetEventsSince(ctx context.Context, root, snapshotPath string, opts Options) ([]graph.Event, error) {
	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}

	current := make(map[string]entry)
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if shouldIgnore(path, opts.Ignore) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		current[path] = entry{Size: info.Size(), Mtime: info.ModTime().UnixNano()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	var events []graph.Event
	for path, cur := range current {
		if prev, ok := snap.Entries[path]; !ok {
			events = append(events, graph.Event{Path: path, Type: graph.EventCreate})
		} else if prev.Size != cur.Size || prev.Mtime != cur.Mtime {
			events = append(events, graph.Event{Path: path, Type: graph.EventUpdate})
		}
	}
	for path := range snap.Entries {
		if _, ok := current[path]; !ok {
			events = append(events, graph.Event{Path: path, Type: graph.EventDelete})
		}
	}
	return events, nil
}

func shouldIgnore(path string, ignore []string) bool {
	for _, prefix := range ignore {
		if path == prefix || (len(path) > len(prefix) && path[:len(prefix)+1] == prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Watcher streams live fsnotify events as graph.Event, for callers that
// want to fold changes into the graph as they happen rather than only at
// startup via GetEventsSince.
type Watcher struct {
	fsw    *fsnotify.Watcher
	ignore []string
	mu     sync.Mutex
	closed bool
}

// NewWatcher starts watching root recursively.
func NewWatcher(root string, ignore []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{fsw: fsw, ignore: ignore}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if shouldIgnore(path, w.ignore) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Events returns a channel of graph.Event derived from the live fsnotify
// stream until ctx is cancelled.
func (w *Watcher) Events(ctx context.Context) <-chan graph.Event {
	out := make(chan graph.Event, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if shouldIgnore(ev.Name, w.ignore) {
					continue
				}
				gev, ok := convert(ev)
				if !ok {
					continue
				}
				if gev.Type == graph.EventCreate {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = w.addRecursive(ev.Name)
					}
				}
				select {
				case out <- gev:
				case <-ctx.Done():
					return
				}
			case _, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fsw.Close()
}

func convert(ev fsnotify.Event) (graph.Event, bool) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		return graph.Event{Path: ev.Name, Type: graph.EventCreate}, true
	case ev.Op.Has(fsnotify.Write):
		return graph.Event{Path: ev.Name, Type: graph.EventUpdate}, true
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		return graph.Event{Path: ev.Name, Type: graph.EventDelete}, true
	default:
		return graph.Event{}, false
	}
}

var _ InputFS = FS{}

// DefaultIgnore returns the standard set of paths the core always
// ignores: the cache directory, plus VCS metadata directories.
func DefaultIgnore(cacheDir, projectRoot string) []string {
	return []string{cacheDir, filepath.Join(projectRoot, ".git"), filepath.Join(projectRoot, ".hg")}
}
