// Package identity computes a simulation's archive name: a stable,
// content-addressed hash of its canonical settings.
package identity

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"sort"
)

// CanonicalSettings is the identity-bearing projection of a simulation:
// ordered occurrences of ordered name->value maps, with excluded
// settings already removed by the caller.
type CanonicalSettings []map[string]any

// sortedMap renders m as an ordered slice of [name, value] pairs so its
// JSON encoding has a stable key order regardless of map iteration
// order.
type sortedMap struct {
	pairs [][2]any
}

func (s sortedMap) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, p := range s.pairs {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(p[0])
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p[1])
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func toSortedMap(m map[string]any) sortedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]any, len(keys))
	for i, k := range keys {
		pairs[i] = [2]any{k, m[k]}
	}
	return sortedMap{pairs: pairs}
}

// CanonicalJSON encodes settings with sorted keys at every level, the
// "json(canonical_settings, sorted_keys)" step of the spec's identity
// formula.
func CanonicalJSON(settings CanonicalSettings) ([]byte, error) {
	sorted := make([]sortedMap, len(settings))
	for i, m := range settings {
		sorted[i] = toSortedMap(m)
	}
	return json.Marshal(sorted)
}

// Hash computes the 22-character URL-safe archive name for settings:
// md5(base64url(json(settings, sorted_keys))), itself base64url-encoded
// and trimmed of padding.
func Hash(settings CanonicalSettings) (string, error) {
	canonical, err := CanonicalJSON(settings)
	if err != nil {
		return "", err
	}
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(canonical)
	sum := md5.Sum([]byte(encoded))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sum[:]), nil
}
