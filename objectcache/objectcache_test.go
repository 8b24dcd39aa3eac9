package objectcache

import (
	"os"
	"testing"
)

func TestSetGet_RoundTrips(t *testing.T) {
	dir, err := os.MkdirTemp("", "objectcache-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Set("k1", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	data, ok, err := c.Get("k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(data) != "hello" {
		t.Errorf("got %q, want %q", data, "hello")
	}
}

func TestGet_MissReturnsFalse(t *testing.T) {
	dir, err := os.MkdirTemp("", "objectcache-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, ok, err := c.Get("missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestSet_OverwriteUpdatesValue(t *testing.T) {
	dir, err := os.MkdirTemp("", "objectcache-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Set("k1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("k1", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	data, ok, err := c.Get("k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(data) != "v2" {
		t.Errorf("got (%q, %v), want (%q, true)", data, ok, "v2")
	}
}

func TestDisabled_AlwaysMisses(t *testing.T) {
	c := Disabled()
	if !c.IsDisabled() {
		t.Fatal("expected disabled cache")
	}
	if err := c.Set("k1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.Get("k1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected disabled cache to always miss")
	}
}

func TestCachePath_ReflectsCurrentDigest(t *testing.T) {
	dir, err := os.MkdirTemp("", "objectcache-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, ok := c.CachePath("k1", ".json"); ok {
		t.Fatal("expected no path before Set")
	}

	if err := c.Set("k1", []byte("payload")); err != nil {
		t.Fatal(err)
	}

	path, ok := c.CachePath("k1", ".json")
	if !ok {
		t.Fatal("expected path after Set")
	}
	if _, err := os.Stat(path[:len(path)-len(".json")]); err != nil {
		t.Errorf("expected underlying object file to exist: %v", err)
	}
}
