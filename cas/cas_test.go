package cas

import "testing"

func TestDigest_Deterministic(t *testing.T) {
	h1 := Digest([]byte("hello"))
	h2 := Digest([]byte("hello"))
	if h1 != h2 {
		t.Errorf("same input produced different digests: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars for a 256-bit digest, got %d", len(h1))
	}
	if Digest([]byte("world")) == h1 {
		t.Error("different inputs produced the same digest")
	}
}

func TestValueKey_IgnoresMapOrder(t *testing.T) {
	a := map[string]interface{}{
		"mode":    "production",
		"targets": []interface{}{"chrome", "firefox"},
		"nested":  map[string]interface{}{"b": 1, "a": 2},
	}
	b := map[string]interface{}{
		"nested":  map[string]interface{}{"a": 2, "b": 1},
		"targets": []interface{}{"chrome", "firefox"},
		"mode":    "production",
	}

	k1, err := ValueKey(a)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := ValueKey(b)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("structurally equal values produced different keys: %s vs %s", k1, k2)
	}
}

func TestValueKey_ArrayOrderMatters(t *testing.T) {
	k1, err := ValueKey([]interface{}{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := ValueKey([]interface{}{"b", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Error("reordered array should produce a different key")
	}
}

func TestValueKey_DistinguishesValues(t *testing.T) {
	k1, err := ValueKey(map[string]interface{}{"mode": "production"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := ValueKey(map[string]interface{}{"mode": "development"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Error("different option values produced the same key")
	}
}

func TestCacheKey_VersionBumpChangesKey(t *testing.T) {
	k1, err := CacheKey("2.9.0", []string{"src/index.js"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := CacheKey("2.9.0", []string{"src/index.js"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("same tuple produced different keys: %s vs %s", k1, k2)
	}

	k3, err := CacheKey("2.9.1", []string{"src/index.js"})
	if err != nil {
		t.Fatal(err)
	}
	if k3 == k1 {
		t.Error("version bump should change the cache key")
	}
}

func TestDerivedKey(t *testing.T) {
	if got := DerivedKey("abc", "requestGraph"); got != "abc:requestGraph" {
		t.Errorf("got %q", got)
	}
}

func TestNodeKeyNamespaces(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{FileNameKey("node_modules"), "file_name:node_modules"},
		{EnvKey("NODE_ENV"), "env:NODE_ENV"},
		{OptionKey("mode"), "option:mode"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
