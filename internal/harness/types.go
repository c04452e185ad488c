package harness

import (
	"github.com/roach88/factrule/internal/ir"
)

// ResultEvent is one message of a scenario run in comparable form.
type ResultEvent struct {
	Seq       int64             `json:"seq"`
	Rule      string            `json:"rule"`
	Severity  string            `json:"severity"`
	Kind      string            `json:"kind,omitempty"`
	Value     string            `json:"value"`
	Alignment map[string]string `json:"alignment,omitempty"`
	Facts     []int64           `json:"facts,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// RunID is the id the scenario ran under.
	RunID string `json:"run_id"`

	// Trace contains every emitted message in sequence order.
	// Used for assertions and golden comparison.
	Trace []ResultEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// FailedRules and FailedConstants come from the run summary.
	FailedRules     []string `json:"failed_rules,omitempty"`
	FailedConstants []string `json:"failed_constants,omitempty"`

	// Warnings are non-fatal rule set diagnostics (recursive functions).
	Warnings []string `json:"warnings,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult(runID string) *Result {
	return &Result{
		Pass:   true,
		RunID:  runID,
		Trace:  []ResultEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddMessage appends an emitted message to the trace.
func (r *Result) AddMessage(msg ir.Message) {
	ev := ResultEvent{
		Seq:      msg.Seq,
		Rule:     msg.Rule,
		Severity: string(msg.Severity),
		Value:    msg.Value.Format(),
		Error:    msg.Error,
	}
	if msg.Error == "" {
		ev.Kind = msg.Value.Kind.String()
	}
	if !msg.Alignment.IsNone() {
		ev.Alignment = msg.Alignment.Map()
	}
	for _, id := range msg.Facts {
		ev.Facts = append(ev.Facts, int64(id))
	}
	if len(msg.Tags) > 0 {
		ev.Tags = make(map[string]string, len(msg.Tags))
		for name, v := range msg.Tags {
			ev.Tags[name] = v.Format()
		}
	}
	r.Trace = append(r.Trace, ev)
}

// ForRule returns the trace events of one rule.
func (r *Result) ForRule(rule string) []ResultEvent {
	var out []ResultEvent
	for _, ev := range r.Trace {
		if ev.Rule == rule {
			out = append(out, ev)
		}
	}
	return out
}
