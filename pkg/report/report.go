package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nixhound/nixhound/pkg/constants"
)

// Severity classifies how serious a diagnostic is
type Severity string

const (
	SeverityNotice  Severity = "notice"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity converts a wire string into a Severity
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityNotice, SeverityWarning, SeverityError:
		return Severity(s), nil
	}
	return "", fmt.Errorf("invalid severity %q (expected notice, warning or error)", s)
}

// Reserved rule names produced by nixhound itself rather than by a check.
// They render exactly like rule-detected diagnostics.
const (
	RuleEvalError        = "EvalError"
	RuleAttrPathNotFound = "AttrPathNotFound"
	RuleNoBuildOutput    = "no-build-output"
	RuleReportEvalFailed = "report-eval-failed"
)

// SourceLocation identifies a position in a build-definition source file.
// Column is 1-indexed; zero means the column is unknown.
type SourceLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

func (l SourceLocation) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// ParsePosition parses a "file:line[:column]" position string as emitted
// by the evaluator. File paths may themselves contain colons, so the
// line and column are taken from the end.
func ParsePosition(pos string) (*SourceLocation, error) {
	if pos == "" {
		return nil, fmt.Errorf("empty position string")
	}

	parts := strings.Split(pos, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("position %q is not file:line[:column] shaped", pos)
	}

	// Try file:line:column first, fall back to file:line
	if len(parts) >= 3 {
		line, lineErr := strconv.Atoi(parts[len(parts)-2])
		column, colErr := strconv.Atoi(parts[len(parts)-1])
		if lineErr == nil && colErr == nil && line > 0 && column > 0 {
			return &SourceLocation{
				File:   strings.Join(parts[:len(parts)-2], ":"),
				Line:   line,
				Column: column,
			}, nil
		}
	}

	line, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || line <= 0 {
		return nil, fmt.Errorf("position %q has no valid line number", pos)
	}
	return &SourceLocation{
		File: strings.Join(parts[:len(parts)-1], ":"),
		Line: line,
	}, nil
}

// Diagnostic is one rule violation or informational notice about an
// attribute. Name doubles as the stable rule identifier used for
// exclusion filtering and documentation links.
type Diagnostic struct {
	Name      string           `json:"name"`
	Message   string           `json:"msg"`
	Severity  Severity         `json:"severity"`
	Locations []SourceLocation `json:"locations"`
	// Link controls whether a documentation URL is synthesized from
	// Name. Absent on the wire means true.
	Link bool `json:"link"`
}

// MarshalJSON encodes the diagnostic, normalizing a nil location list
// to [] so list-typed fields never encode as null.
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	type alias Diagnostic
	a := alias(d)
	if a.Locations == nil {
		a.Locations = []SourceLocation{}
	}
	return json.Marshal(a)
}

// UnmarshalJSON decodes a diagnostic, defaulting an absent link field
// to true and rejecting unknown severities.
func (d *Diagnostic) UnmarshalJSON(data []byte) error {
	type alias Diagnostic
	aux := struct {
		*alias
		Link *bool `json:"link"`
	}{alias: (*alias)(d)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	d.Link = aux.Link == nil || *aux.Link

	if d.Name == "" {
		return fmt.Errorf("diagnostic is missing a name")
	}
	if _, err := ParseSeverity(string(d.Severity)); err != nil {
		return fmt.Errorf("diagnostic %q: %w", d.Name, err)
	}
	return nil
}

// DocURL returns the documentation URL for this diagnostic's rule, or
// the empty string when the diagnostic carries no documentation link.
func (d *Diagnostic) DocURL() string {
	if !d.Link {
		return ""
	}
	return constants.RuleDocBaseURL + d.Name
}

// AttributeDescriptor is the resolved metadata for one attribute.
// OutputPath is populated only when the build output existed on disk at
// resolution time. The JSON field names are fixed by the plugin
// protocol.
type AttributeDescriptor struct {
	Name       string          `json:"name"`
	Location   *SourceLocation `json:"location,omitempty"`
	DrvPath    string          `json:"drv,omitempty"`
	OutputPath string          `json:"output,omitempty"`
}

// HasOutput reports whether the attribute's build output existed on
// disk when it was resolved.
func (a *AttributeDescriptor) HasOutput() bool {
	return a.OutputPath != ""
}
