package cli

import (
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/store"
)

// DefaultTemplate is used for rules that declare no message.
const DefaultTemplate = "{result}"

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.:-]*)\}`)

// ResultView is one rule result as the CLI prints it.
type ResultView struct {
	Seq       int64             `json:"seq"`
	ID        string            `json:"id"`
	Rule      string            `json:"rule"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Kind      string            `json:"kind,omitempty"`
	Value     string            `json:"value,omitempty"`
	Alignment map[string]string `json:"alignment,omitempty"`
	Facts     []ir.FactID       `json:"facts,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Location  string            `json:"location,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// resultOf converts a live message to its stored form.
func resultOf(msg ir.Message) store.Result {
	tags := make(map[string]string, len(msg.Tags))
	for k, v := range msg.Tags {
		tags[k] = v.Format()
	}
	return store.Result{
		ID:        msg.ID,
		RunID:     msg.RunID,
		Seq:       msg.Seq,
		Rule:      msg.Rule,
		Severity:  msg.Severity,
		Template:  msg.Template,
		Location:  msg.Location.String(),
		Kind:      msg.Value.Kind.String(),
		Value:     msg.Value.Format(),
		Alignment: msg.Alignment.Map(),
		Facts:     msg.Facts,
		Tags:      tags,
		Error:     msg.Error,
	}
}

// Render expands the result's message template.
func Render(r store.Result) ResultView {
	v := ResultView{
		Seq:       r.Seq,
		ID:        r.ID,
		Rule:      r.Rule,
		Severity:  string(r.Severity),
		Alignment: r.Alignment,
		Facts:     r.Facts,
		Tags:      r.Tags,
		Location:  r.Location,
		Error:     r.Error,
	}
	if r.Severity == ir.SeverityProcessingError {
		v.Message = r.Error
		return v
	}
	v.Kind = r.Kind
	v.Value = r.Value
	v.Message = ExpandTemplate(r)
	return v
}

// ExpandTemplate substitutes {result}, {alignment}, {rule}, {severity} and
// tag placeholders. Unknown placeholders are left as written.
func ExpandTemplate(r store.Result) string {
	tmpl := r.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		switch name {
		case "result":
			return r.Value
		case "alignment":
			return FormatAlignment(r.Alignment)
		case "rule":
			return r.Rule
		case "severity":
			return string(r.Severity)
		}
		if v, ok := r.Tags[name]; ok {
			return v
		}
		return m
	})
}

// FormatAlignment renders an alignment as "period=2020-12-31, unit=USD",
// sorted by aspect key. An empty alignment renders as "none".
func FormatAlignment(a map[string]string) string {
	if len(a) == 0 {
		return "none"
	}
	keys := slices.Sorted(maps.Keys(a))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + a[k]
	}
	return strings.Join(parts, ", ")
}

// textLine is the one-line text form of a result.
func textLine(v ResultView) string {
	var b strings.Builder
	b.WriteString("[" + v.Severity + "] " + v.Rule + ": " + v.Message)
	if v.Severity != string(ir.SeverityProcessingError) && len(v.Alignment) > 0 {
		b.WriteString(" (" + FormatAlignment(v.Alignment) + ")")
	}
	return b.String()
}
