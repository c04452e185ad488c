package ir

import "fmt"

// Severity classifies rule output.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityOK      Severity = "ok"

	// SeverityProcessingError marks a rule that aborted with an evaluation error.
	SeverityProcessingError Severity = "processing-error"
)

// ParseSeverity validates a severity name. Empty means error.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityError, nil
	case SeverityError, SeverityWarning, SeverityInfo, SeverityOK:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Location points at the source of a rule.
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Message is one result emitted to a sink.
type Message struct {
	ID        string    // content-addressed, see ResultID
	RunID     string
	Seq       int64
	Rule      string
	Severity  Severity
	Template  string // message text with {result}-style placeholders
	Location  Location
	Value     Value
	Alignment Alignment
	Facts     []FactID
	Tags      map[string]Value
	Error     string // set for processing errors
}
