// Package cas provides the content-addressing primitives behind node
// identity and cache keys: BLAKE3 digests, canonical JSON so structurally
// equal values always hash the same, and the namespaced key formats the
// request graph's node kinds are addressed by.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"

	"lukechampine.com/blake3"
)

// Digest returns the BLAKE3-256 digest of data as a hex string.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValueKey content-addresses an arbitrary option or config value: the value
// is serialized to canonical JSON (object keys sorted at every depth, array
// order preserved) and digested, so two structurally equal values always
// produce the same key regardless of map iteration order.
func ValueKey(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return "", err
	}
	return Digest(buf.Bytes()), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil
	}
}

// CacheKey computes the stable base cache key for a (parcelVersion, entries)
// tuple. entries is typically the resolved project root plus any additional
// disambiguators (e.g. a lockfile digest) the caller wants folded into cache
// identity. A version bump changes the key, so mismatched versions miss the
// cache instead of reading an incompatible graph.
func CacheKey(parcelVersion string, entries []string) (string, error) {
	return ValueKey(map[string]interface{}{
		"parcelVersion": parcelVersion,
		"entries":       entries,
	})
}

// DerivedKey derives a namespaced sub-key from a base cache key, e.g.
// DerivedKey(k, "requestGraph") => "<k>:requestGraph".
func DerivedKey(base, suffix string) string {
	return base + ":" + suffix
}

// File, glob and request nodes use their payload verbatim as content key;
// the remaining node kinds are namespaced so a bare path segment, env var
// or option name can never collide with a file path or request id.

// FileNameKey is the content key of the FileName node for one path segment.
func FileNameKey(segment string) string {
	return "file_name:" + segment
}

// EnvKey is the content key of the Env node for one environment variable.
func EnvKey(name string) string {
	return "env:" + name
}

// OptionKey is the content key of the Option node for one named option.
func OptionKey(name string) string {
	return "option:" + name
}
