package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"reqtrack/cas"
	"reqtrack/fswatch"
	"reqtrack/graph"
	"reqtrack/objectcache"
	"reqtrack/persist"
	"reqtrack/tracker"
	"reqtrack/workerpool"
)

// session bundles the collaborators every subcommand needs, built once from
// the loaded Config.
type session struct {
	cfg     Config
	cache   *objectcache.Cache
	store   *persist.Store
	baseKey string
	ignore  []string
}

func openSession() (*session, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	cache, err := objectcache.Open(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("opening object cache: %w", err)
	}

	base, err := persist.BaseKey(cfg.ParcelVersion, cfg.Entries)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("deriving base cache key: %w", err)
	}

	return &session{
		cfg:     cfg,
		cache:   cache,
		store:   persist.New(cache, fswatch.New(), cfg.ProjectRoot),
		baseKey: base,
		ignore:  fswatch.DefaultIgnore(cfg.CacheDir, cfg.ProjectRoot),
	}, nil
}

func (s *session) close() {
	s.cache.Close()
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo request against the configured project root",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	g, fresh, err := s.store.LoadRequestGraph(ctx, s.baseKey, envMap(), nil, s.ignore)
	if err != nil {
		return fmt.Errorf("loading request graph: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loaded graph (fresh=%v)\n", fresh)

	farm := workerpool.New(s.cfg.Workers)
	defer farm.Close()

	tr := tracker.New(g, tracker.Options{Farm: farm, Cache: s.cache})

	target := filepath.Join(s.cfg.ProjectRoot, firstOrDot(s.cfg.Entries))

	spec := tracker.Spec{
		ID:   "demo:hash-entrypoint",
		Type: "demo.hashEntrypoint",
		Input: map[string]string{
			"path": target,
		},
		Run: func(ctx context.Context, rc tracker.RunContext) (interface{}, error) {
			if err := rc.API.InvalidateOnFileUpdate(target); err != nil {
				return nil, err
			}
			if err := rc.API.InvalidateOnFileDelete(target); err != nil {
				return nil, err
			}

			data, err := os.ReadFile(target)
			if os.IsNotExist(err) {
				return map[string]string{"status": "missing"}, nil
			}
			if err != nil {
				return nil, err
			}
			return map[string]string{"status": "ok", "hash": cas.Digest(data)}, nil
		},
	}

	result, err := tr.RunRequest(ctx, spec, tracker.RunOptions{})
	if err != nil {
		return fmt.Errorf("running demo request: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "result: %v\n", result)

	if err := s.store.WriteToCache(ctx, tr.Graph(), s.baseKey, s.ignore); err != nil {
		return fmt.Errorf("writing graph to cache: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "graph persisted")
	return nil
}

var eventCmd = &cobra.Command{
	Use:   "event <path> <create|update|delete>",
	Short: "Inject a synthetic filesystem event into the persisted graph",
	Args:  cobra.ExactArgs(2),
	RunE:  runEvent,
}

func runEvent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path, kind := args[0], args[1]

	et := graph.EventType(kind)
	switch et {
	case graph.EventCreate, graph.EventUpdate, graph.EventDelete:
	default:
		return fmt.Errorf("unknown event type %q (want create, update, or delete)", kind)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	g, _, err := s.store.LoadRequestGraph(ctx, s.baseKey, envMap(), nil, s.ignore)
	if err != nil {
		return fmt.Errorf("loading request graph: %w", err)
	}

	invalidated, err := g.RespondToFSEvents([]graph.Event{{Path: path, Type: et}})
	if err != nil {
		return fmt.Errorf("applying event: %w", err)
	}

	if err := s.store.WriteToCache(ctx, g, s.baseKey, s.ignore); err != nil {
		return fmt.Errorf("writing graph to cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "invalidated=%v invalid_count=%d\n", invalidated, len(g.InvalidNodeIds()))
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print invalid, incomplete, and unpredictable request node ids",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	g, fresh, err := s.store.LoadRequestGraph(ctx, s.baseKey, envMap(), nil, s.ignore)
	if err != nil {
		return fmt.Errorf("loading request graph: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "fresh=%v\n", fresh)
	fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", g.InvalidNodeIds())
	fmt.Fprintf(cmd.OutOrStdout(), "incomplete: %v\n", g.IncompleteNodeIds())
	fmt.Fprintf(cmd.OutOrStdout(), "unpredictable: %v\n", g.UnpredictableNodeIds())
	return nil
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove unreferenced auxiliary nodes from the persisted graph",
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	g, _, err := s.store.LoadRequestGraph(ctx, s.baseKey, envMap(), nil, s.ignore)
	if err != nil {
		return fmt.Errorf("loading request graph: %w", err)
	}

	removed := g.GC()

	if err := s.store.WriteToCache(ctx, g, s.baseKey, s.ignore); err != nil {
		return fmt.Errorf("writing graph to cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d nodes\n", removed)
	return nil
}

func firstOrDot(entries []string) string {
	if len(entries) == 0 {
		return "."
	}
	return entries[0]
}

func envMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
