package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCacheKey = "factrule/cache/v1"
	DomainResult   = "factrule/result/v1"
	DomainRuleSet  = "factrule/ruleset/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DepValue is the current value of one dependency when a cache key is built.
// Missing marks a dependency that has no current value.
type DepValue struct {
	Node    NodeID
	Value   Value
	Missing bool
}

// CacheKey identifies the value set a node evaluates to, given the current
// values of its dependencies and the enclosing alignment. extra carries
// evaluation context that is not a node value (ambient filters).
func CacheKey(node NodeID, deps []DepValue, align Alignment, extra string) (string, error) {
	depList := make([]any, 0, len(deps))
	for _, d := range deps {
		entry := map[string]any{"node": int64(d.Node)}
		if d.Missing {
			entry["missing"] = true
		} else {
			entry["value"] = d.Value.Key()
		}
		depList = append(depList, entry)
	}
	obj := map[string]any{
		"node":      int64(node),
		"deps":      depList,
		"alignment": align.Key(),
		"extra":     extra,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CacheKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCacheKey, canonical), nil
}

// ResultID computes the content-addressed id of a rule result. The same
// rule producing the same value under the same alignment from the same facts
// in one run always gets the same id.
func ResultID(runID, rule string, v Value, align Alignment, facts []FactID) (string, error) {
	factList := make([]any, len(facts))
	for i, id := range facts {
		factList[i] = int64(id)
	}
	obj := map[string]any{
		"run_id":    runID,
		"rule":      rule,
		"value":     v.rawKey(),
		"alignment": align.Key(),
		"facts":     factList,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ResultID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainResult, canonical), nil
}

// RuleSetHash fingerprints a compiled rule-set source.
func RuleSetHash(source []byte) string {
	return hashWithDomain(DomainRuleSet, source)
}

// MustResultID is like ResultID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustResultID(runID, rule string, v Value, align Alignment, facts []FactID) string {
	id, err := ResultID(runID, rule, v, align, facts)
	if err != nil {
		panic(err)
	}
	return id
}
