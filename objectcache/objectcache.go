// Package objectcache implements the content-addressed object cache the
// core consumes as an external collaborator: cache.get(key) -> bytes,
// cache.set(key, value). Backed by SQLite, generalizing
// kai-cli/internal/cache's (path,size,mtime)->digest table to a plain
// key->blob store, and writing object payloads to disk with the same
// atomic temp-then-rename pattern kai-cli/internal/graph.WriteObject uses
// for crash safety.
package objectcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"reqtrack/cas"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key      TEXT PRIMARY KEY,
	digest   TEXT NOT NULL
);
`

// Cache is a SQLite-indexed, filesystem-backed content-addressed cache.
type Cache struct {
	db         *sql.DB
	objectsDir string
	disabled   bool
}

// Open opens or creates a cache rooted at dir (dir/index.db for the index,
// dir/objects/ for blob payloads).
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("creating objects dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("opening cache index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}

	return &Cache{db: db, objectsDir: filepath.Join(dir, "objects")}, nil
}

// Disabled returns a no-op cache: Get always misses, Set is a no-op. Used
// when the caller has turned caching off entirely.
func Disabled() *Cache {
	return &Cache{disabled: true}
}

// IsDisabled reports whether this cache instance is the disabled sentinel.
func (c *Cache) IsDisabled() bool {
	return c.disabled
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get fetches the bytes stored under key, or (nil, false) if absent.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	if c.disabled {
		return nil, false, nil
	}

	var digest string
	err := c.db.QueryRow(`SELECT digest FROM entries WHERE key = ?`, key).Scan(&digest)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying cache entry: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(c.objectsDir, digest))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached object: %w", err)
	}
	return data, true, nil
}

// Set stores value under key, content-addressing the payload by its BLAKE3
// digest so identical values across different keys share one object file.
func (c *Cache) Set(key string, value []byte) error {
	if c.disabled {
		return nil
	}

	digest := cas.Digest(value)
	finalPath := filepath.Join(c.objectsDir, digest)

	if _, err := os.Stat(finalPath); err != nil {
		tmpPath := finalPath + ".tmp"
		if err := os.WriteFile(tmpPath, value, 0644); err != nil {
			return fmt.Errorf("writing tmp object: %w", err)
		}
		if err := os.Rename(tmpPath, finalPath); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("atomic rename: %w", err)
		}
	}

	_, err := c.db.Exec(`INSERT OR REPLACE INTO entries (key, digest) VALUES (?, ?)`, key, digest)
	if err != nil {
		return fmt.Errorf("indexing cache entry: %w", err)
	}
	return nil
}

// CachePath returns the on-disk path an entry's payload would live at for
// the given key's current digest. Returns ("", false) if key is not
// present.
func (c *Cache) CachePath(key, ext string) (string, bool) {
	if c.disabled {
		return "", false
	}
	var digest string
	err := c.db.QueryRow(`SELECT digest FROM entries WHERE key = ?`, key).Scan(&digest)
	if err != nil {
		return "", false
	}
	return filepath.Join(c.objectsDir, digest+ext), true
}
