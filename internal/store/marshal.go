package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/factrule/internal/ir"
)

// marshalStrings converts a string map to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalStrings(m map[string]string) (string, error) {
	obj := make(map[string]any, len(m))
	for k, v := range m {
		obj[k] = v
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// marshalAlignment stores an alignment as {"aspect": "value"}.
func marshalAlignment(a ir.Alignment) (string, error) {
	s, err := marshalStrings(a.Map())
	if err != nil {
		return "", fmt.Errorf("marshal alignment: %w", err)
	}
	return s, nil
}

// marshalTags stores tag values in their display form.
func marshalTags(tags map[string]ir.Value) (string, error) {
	m := make(map[string]string, len(tags))
	for k, v := range tags {
		m[k] = v.Format()
	}
	s, err := marshalStrings(m)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return s, nil
}

// marshalFactIDs stores contributing fact ids as a JSON array.
func marshalFactIDs(ids []ir.FactID) (string, error) {
	arr := make([]any, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal facts: %w", err)
	}
	return string(data), nil
}

// marshalNames stores a sorted name list as a JSON array.
func marshalNames(names []string) (string, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	arr := make([]any, len(sorted))
	for i, n := range sorted {
		arr[i] = n
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal names: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings parses a JSON object of strings. Empty input is an
// empty map.
func unmarshalStrings(data string) (map[string]string, error) {
	m := map[string]string{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return m, nil
}

// unmarshalFactIDs parses a JSON array of fact ids. Integers are decoded
// directly, never through float64.
func unmarshalFactIDs(data string) ([]ir.FactID, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal facts: %w", err)
	}
	out := make([]ir.FactID, len(ids))
	for i, id := range ids {
		out[i] = ir.FactID(id)
	}
	return out, nil
}

// unmarshalNames parses a JSON array of names.
func unmarshalNames(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	return names, nil
}
