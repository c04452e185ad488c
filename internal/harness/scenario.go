package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/factrule/internal/factfile"
)

// Scenario defines a test case for the rule engine.
// Loaded from YAML files in testdata/scenarios/.
type Scenario struct {
	// Name is the unique identifier for this scenario.
	// Used for golden file naming: testdata/golden/{name}.golden
	Name string `yaml:"name"`

	// Description explains what this scenario tests.
	Description string `yaml:"description"`

	// Rules is an inline CUE rule set.
	Rules string `yaml:"rules,omitempty"`

	// RulesDir is a directory holding a CUE rule set package, relative to
	// the scenario file. Exactly one of Rules and RulesDir is set.
	RulesDir string `yaml:"rules_dir,omitempty"`

	// Facts is an inline fact document.
	Facts *factfile.Document `yaml:"facts,omitempty"`

	// FactsFile is a YAML fact file relative to the scenario file.
	// Exactly one of Facts and FactsFile is set.
	FactsFile string `yaml:"facts_file,omitempty"`

	// RunID fixes the run id so result ids are reproducible.
	// Defaults to "test-run".
	RunID string `yaml:"run_id,omitempty"`

	// Options configure the processor.
	Options Options `yaml:"options,omitempty"`

	// Assertions are checked against the run's messages and store.
	Assertions []Assertion `yaml:"assertions"`
}

// Options select the fact index and processor settings for a scenario.
type Options struct {
	Index         string `yaml:"index,omitempty"` // "memory" (default) or "sql"
	Workers       int    `yaml:"workers,omitempty"`
	IncludeNils   bool   `yaml:"include_nils,omitempty"`
	MaxIterations int    `yaml:"max_iterations,omitempty"`
}

// Fact index names.
const (
	IndexMemory = "memory"
	IndexSQL    = "sql"
)

// Assertion defines a post-execution check.
type Assertion struct {
	// Type is the assertion type.
	Type string `yaml:"type"`

	// Rule names the rule the assertion is about.
	Rule string `yaml:"rule,omitempty"`

	// Value is the expected formatted value (result_contains).
	Value *string `yaml:"value,omitempty"`

	// Severity is the expected severity (result_contains).
	Severity string `yaml:"severity,omitempty"`

	// Alignment is matched as a subset of the message alignment
	// (result_contains).
	Alignment map[string]string `yaml:"alignment,omitempty"`

	// Count is the expected number of results (result_count).
	Count int `yaml:"count,omitempty"`

	// Rules is the expected order of first appearance (result_order).
	Rules []string `yaml:"rules,omitempty"`

	// Contains is a substring of the processing error (processing_error).
	Contains string `yaml:"contains,omitempty"`

	// Status is the expected stored run status (run_status).
	Status string `yaml:"status,omitempty"`

	// Table specifies which store table to query (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertResultContains  = "result_contains"
	AssertResultCount     = "result_count"
	AssertResultOrder     = "result_order"
	AssertProcessingError = "processing_error"
	AssertRunStatus       = "run_status"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Relative rules_dir and facts_file paths are resolved against the
// scenario file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving relative paths against
// basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if basePath != "" {
		if scenario.RulesDir != "" && !filepath.IsAbs(scenario.RulesDir) {
			scenario.RulesDir = filepath.Join(basePath, scenario.RulesDir)
		}
		if scenario.FactsFile != "" && !filepath.IsAbs(scenario.FactsFile) {
			scenario.FactsFile = filepath.Join(basePath, scenario.FactsFile)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Rules == "" && s.RulesDir == "":
		return fmt.Errorf("one of rules or rules_dir is required")
	case s.Rules != "" && s.RulesDir != "":
		return fmt.Errorf("rules and rules_dir are mutually exclusive")
	}
	if s.RulesDir != "" {
		if info, err := os.Stat(s.RulesDir); err != nil || !info.IsDir() {
			return fmt.Errorf("rules directory not found: %s", s.RulesDir)
		}
	}

	switch {
	case s.Facts == nil && s.FactsFile == "":
		return fmt.Errorf("one of facts or facts_file is required")
	case s.Facts != nil && s.FactsFile != "":
		return fmt.Errorf("facts and facts_file are mutually exclusive")
	}
	if s.FactsFile != "" {
		if _, err := os.Stat(s.FactsFile); os.IsNotExist(err) {
			return fmt.Errorf("facts file not found: %s", s.FactsFile)
		}
	}

	switch s.Options.Index {
	case "", IndexMemory, IndexSQL:
	default:
		return fmt.Errorf("options.index must be %s or %s, got %q", IndexMemory, IndexSQL, s.Options.Index)
	}
	if s.Options.Workers < 0 {
		return fmt.Errorf("options.workers must be non-negative")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertResultContains:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for result_contains", index)
		}
		if a.Value == nil && a.Severity == "" && len(a.Alignment) == 0 {
			return fmt.Errorf("assertions[%d]: result_contains needs a value, severity or alignment", index)
		}
	case AssertResultCount:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for result_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for result_count", index)
		}
	case AssertResultOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for result_order", index)
		}
	case AssertProcessingError:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for processing_error", index)
		}
	case AssertRunStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for run_status", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
