package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"

	"github.com/roach88/factrule/internal/ir"
)

// GoldenDir is where RunWithGolden and AssertGolden keep their fixtures,
// relative to the test's package directory.
const GoldenDir = "testdata/golden"

// GoldenSuffix is the golden file extension.
const GoldenSuffix = ".golden"

// ResultSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type ResultSnapshot struct {
	ScenarioName    string        `json:"scenario_name"`
	RunID           string        `json:"run_id"`
	Trace           []ResultEvent `json:"trace"`
	FailedRules     []string      `json:"failed_rules,omitempty"`
	FailedConstants []string      `json:"failed_constants,omitempty"`
}

// toCanonicalMap converts a ResultSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles primitives, slices and maps.
func (s *ResultSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":      ev.Seq,
			"rule":     ev.Rule,
			"severity": ev.Severity,
			"value":    ev.Value,
		}
		if ev.Kind != "" {
			m["kind"] = ev.Kind
		}
		if len(ev.Alignment) > 0 {
			m["alignment"] = stringMap(ev.Alignment)
		}
		if len(ev.Facts) > 0 {
			facts := make([]any, len(ev.Facts))
			for j, id := range ev.Facts {
				facts[j] = id
			}
			m["facts"] = facts
		}
		if len(ev.Tags) > 0 {
			m["tags"] = stringMap(ev.Tags)
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		trace[i] = m
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"run_id":        s.RunID,
		"trace":         trace,
	}
	if len(s.FailedRules) > 0 {
		out["failed_rules"] = stringList(s.FailedRules)
	}
	if len(s.FailedConstants) > 0 {
		out["failed_constants"] = stringList(s.FailedConstants)
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Snapshot renders a result as canonical JSON.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := ResultSnapshot{
		ScenarioName:    scenarioName,
		RunID:           result.RunID,
		Trace:           result.Trace,
		FailedRules:     result.FailedRules,
		FailedConstants: result.FailedConstants,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result, opts...)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running. Options override
// the default fixture directory and suffix.
func AssertGolden(t *testing.T, scenarioName string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(GoldenSuffix),
	}, opts...)...)
	g.Assert(t, scenarioName, data)
	return nil
}

// CompareGolden checks a result against {dir}/{name}.golden outside of go
// test. With update set, the file is (re)written instead. A missing golden
// file is not an error; the scenario has no snapshot yet.
func CompareGolden(dir, scenarioName string, result *Result, update bool) error {
	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", scenarioName, err)
	}
	path := filepath.Join(dir, scenarioName+GoldenSuffix)

	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("golden mismatch for %s (-want +got):\n%s", scenarioName, cmp.Diff(string(want), string(data)))
	}
	return nil
}
