package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: net_assets
description: "Net assets per period"
rules: |
  rule: "net-assets": {
    expr: {op: "-", args: [{factset: {concept: "Assets"}}, {factset: {concept: "Liabilities"}}]}
  }
facts:
  defaults: {entity: "http://example.com|ACME", unit: USD}
  facts:
    - {concept: Assets, period: 2020-12-31, value: 100.50}
    - {concept: Liabilities, period: 2020-12-31, value: 40}
options:
  index: sql
  workers: 2
assertions:
  - type: result_contains
    rule: net-assets
    value: "60.50"
    alignment: {period: "2020-12-31"}
`

func TestParseScenario_Valid(t *testing.T) {
	scenario, err := ParseScenario([]byte(validScenario), "")
	require.NoError(t, err)

	assert.Equal(t, "net_assets", scenario.Name)
	assert.Contains(t, scenario.Rules, `rule: "net-assets"`)
	require.NotNil(t, scenario.Facts)
	require.Len(t, scenario.Facts.Facts, 2)
	assert.Equal(t, "100.50", string(scenario.Facts.Facts[0].Value), "lexical form is kept")
	assert.Equal(t, IndexSQL, scenario.Options.Index)
	assert.Equal(t, 2, scenario.Options.Workers)
	require.Len(t, scenario.Assertions, 1)
	require.NotNil(t, scenario.Assertions[0].Value)
	assert.Equal(t, "60.50", *scenario.Assertions[0].Value)
	assert.Equal(t, map[string]string{"period": "2020-12-31"}, scenario.Assertions[0].Alignment)
}

func TestLoadScenario_ResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rules", "balance"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "facts.yaml"), []byte("facts: []\n"), 0o644))

	path := filepath.Join(dir, "scenario.yaml")
	content := `
name: files
description: "rules and facts from files"
rules_dir: rules/balance
facts_file: facts.yaml
assertions:
  - type: run_status
    status: finished
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rules", "balance"), scenario.RulesDir)
	assert.Equal(t, filepath.Join(dir, "facts.yaml"), scenario.FactsFile)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	const facts = "facts: {facts: []}\n"
	const rules = "rules: \"rule: r: expr: {lit: 1}\"\n"

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: d\nassertion: []\n",
			wantErr: "field assertion not found",
		},
		{
			name:    "missing name",
			yaml:    "description: d\n" + rules + facts + "assertions: [{type: run_status, status: finished}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\n" + rules + facts + "assertions: [{type: run_status, status: finished}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no rules",
			yaml:    "name: x\ndescription: d\n" + facts + "assertions: [{type: run_status, status: finished}]\n",
			wantErr: "one of rules or rules_dir is required",
		},
		{
			name:    "both rules",
			yaml:    "name: x\ndescription: d\n" + rules + "rules_dir: /tmp\n" + facts + "assertions: [{type: run_status, status: finished}]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "missing rules dir",
			yaml:    "name: x\ndescription: d\nrules_dir: /nonexistent/rules\n" + facts + "assertions: [{type: run_status, status: finished}]\n",
			wantErr: "rules directory not found",
		},
		{
			name:    "no facts",
			yaml:    "name: x\ndescription: d\n" + rules + "assertions: [{type: run_status, status: finished}]\n",
			wantErr: "one of facts or facts_file is required",
		},
		{
			name:    "missing facts file",
			yaml:    "name: x\ndescription: d\n" + rules + "facts_file: /nonexistent/facts.yaml\nassertions: [{type: run_status, status: finished}]\n",
			wantErr: "facts file not found",
		},
		{
			name:    "bad index",
			yaml:    "name: x\ndescription: d\n" + rules + facts + "options: {index: disk}\nassertions: [{type: run_status, status: finished}]\n",
			wantErr: "options.index must be memory or sql",
		},
		{
			name:    "no assertions",
			yaml:    "name: x\ndescription: d\n" + rules + facts,
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: d\n" + rules + facts + "assertions: [{type: trace_contains}]\n",
			wantErr: `unknown assertion type "trace_contains"`,
		},
		{
			name:    "result_contains without expectation",
			yaml:    "name: x\ndescription: d\n" + rules + facts + "assertions: [{type: result_contains, rule: r}]\n",
			wantErr: "needs a value, severity or alignment",
		},
		{
			name:    "result_count without rule",
			yaml:    "name: x\ndescription: d\n" + rules + facts + "assertions: [{type: result_count, count: 1}]\n",
			wantErr: "rule is required for result_count",
		},
		{
			name:    "result_order without rules",
			yaml:    "name: x\ndescription: d\n" + rules + facts + "assertions: [{type: result_order}]\n",
			wantErr: "rules list is required",
		},
		{
			name:    "run_status without status",
			yaml:    "name: x\ndescription: d\n" + rules + facts + "assertions: [{type: run_status}]\n",
			wantErr: "status is required",
		},
		{
			name:    "final_state without expect",
			yaml:    "name: x\ndescription: d\n" + rules + facts + "assertions: [{type: final_state, table: runs}]\n",
			wantErr: "expect is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
