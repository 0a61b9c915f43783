package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/nixhound/nixhound/pkg/report"
)

// Kind classifies the outcome of resolving one attribute path.
type Kind int

const (
	// KindFailed means evaluating the attribute itself raised an error.
	KindFailed Kind = iota
	// KindNotFound means the attribute path does not exist in the
	// package set.
	KindNotFound
	// KindResolved means the attribute value was produced.
	KindResolved
)

// Resolution is the outcome for one requested attribute path. The
// descriptor is always populated with at least the attribute name so
// downstream consumers never see a missing key; for failed and
// not-found outcomes it carries no location, drv path or output path.
type Resolution struct {
	Attr        string
	Kind        Kind
	Descriptor  report.AttributeDescriptor
	Diagnostics []report.Diagnostic
	// ReportFailed is set on resolved attributes whose embedded-check
	// evaluation crashed; their diagnostic list degraded to empty.
	ReportFailed bool
}

// Resolver drives the external build-description evaluator. One
// Resolve call performs a single batched evaluation for all requested
// attribute paths.
type Resolver struct {
	// Evaluator is the evaluator executable, e.g. "nix-instantiate".
	Evaluator string
	// Verbose echoes the evaluator invocation to stdout.
	Verbose bool
}

// New creates a resolver using the given evaluator executable.
func New(evaluator string) *Resolver {
	return &Resolver{Evaluator: evaluator}
}

// wireAttr is the per-attribute shape the batch expression produces.
// The loosely typed fields are validated as they are converted, not
// trusted at access time.
type wireAttr struct {
	Found      bool            `json:"found"`
	Success    bool            `json:"success"`
	Error      string          `json:"error"`
	Report     json.RawMessage `json:"report"`
	Location   json.RawMessage `json:"location"`
	DrvPath    *string         `json:"drvPath"`
	OutputPath *string         `json:"outputPath"`
}

// Resolve evaluates all requested attribute paths in one evaluator
// invocation and classifies each outcome. The returned slice follows
// the request's attribute order. An evaluator that cannot be started,
// exits non-zero, or produces undecodable output is a fatal error for
// the whole run.
func (r *Resolver) Resolve(ctx context.Context, req *Request) ([]Resolution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	raw, err := r.evaluate(ctx, req.Expression())
	if err != nil {
		return nil, err
	}

	var batch map[string]wireAttr
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("undecodable evaluator output: %w", err)
	}

	resolutions := make([]Resolution, 0, len(req.AttrPaths))
	for _, attr := range req.AttrPaths {
		wire, ok := batch[attr]
		if !ok {
			// The batch expression emits every requested path; a
			// missing key means the evaluator contract is broken.
			return nil, fmt.Errorf("evaluator output is missing attribute %q", attr)
		}
		resolutions = append(resolutions, classify(attr, wire))
	}
	return resolutions, nil
}

// evaluate runs the evaluator once with the batch expression.
func (r *Resolver) evaluate(ctx context.Context, expr string) ([]byte, error) {
	args := []string{"--eval", "--strict", "--json", "--expr", expr}

	cmd := exec.CommandContext(ctx, r.Evaluator, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Verbose {
		fmt.Fprintf(os.Stderr, "running %s --eval --strict --json --expr <batch>\n", r.Evaluator)
	}

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("evaluator %s failed: %w\n%s", r.Evaluator, err, detail)
		}
		return nil, fmt.Errorf("evaluator %s failed: %w", r.Evaluator, err)
	}
	return stdout.Bytes(), nil
}

// classify converts one wire entry into its Resolution.
func classify(attr string, wire wireAttr) Resolution {
	switch {
	case !wire.Found:
		return Resolution{
			Attr:        attr,
			Kind:        KindNotFound,
			Descriptor:  report.AttributeDescriptor{Name: attr},
			Diagnostics: []report.Diagnostic{attrNotFoundDiagnostic(attr)},
		}
	case !wire.Success:
		return Resolution{
			Attr:        attr,
			Kind:        KindFailed,
			Descriptor:  report.AttributeDescriptor{Name: attr},
			Diagnostics: []report.Diagnostic{evalErrorDiagnostic(attr, wire.Error)},
		}
	}

	res := Resolution{
		Attr: attr,
		Kind: KindResolved,
		Descriptor: report.AttributeDescriptor{
			Name:     attr,
			Location: decodeLocation(wire.Location),
		},
	}

	if wire.DrvPath != nil {
		res.Descriptor.DrvPath = *wire.DrvPath
	}
	if wire.OutputPath != nil && pathExists(*wire.OutputPath) {
		res.Descriptor.OutputPath = *wire.OutputPath
	}

	diags, reportFailed := decodeReport(attr, wire.Report)
	res.Diagnostics = diags
	res.ReportFailed = reportFailed
	return res
}

// decodeReport decodes an attribute's embedded diagnostic list. A null
// report means the embedded-check evaluation crashed: the list degrades
// to a single low-severity notice rather than aborting the run or
// hiding the crash entirely.
func decodeReport(attr string, raw json.RawMessage) ([]report.Diagnostic, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return []report.Diagnostic{reportEvalFailedDiagnostic(attr)}, true
	}

	var diags []report.Diagnostic
	if err := json.Unmarshal(raw, &diags); err != nil {
		// Malformed embedded reports are a check bug, not a packaging
		// problem with the attribute; degrade the same way.
		return []report.Diagnostic{reportEvalFailedDiagnostic(attr)}, true
	}
	return diags, false
}

// decodeLocation accepts both location shapes the evaluator may emit:
// a "file:line[:column]" position string, or an object with explicit
// file/line/column fields. Anything else resolves to no location.
func decodeLocation(raw json.RawMessage) *report.SourceLocation {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var pos string
	if err := json.Unmarshal(raw, &pos); err == nil {
		loc, err := report.ParsePosition(pos)
		if err != nil {
			return nil
		}
		return loc
	}

	var loc report.SourceLocation
	if err := json.Unmarshal(raw, &loc); err == nil && loc.File != "" && loc.Line > 0 {
		return &loc
	}
	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func attrNotFoundDiagnostic(attr string) report.Diagnostic {
	return report.Diagnostic{
		Name:     report.RuleAttrPathNotFound,
		Message:  fmt.Sprintf("attribute path ‘%s’ does not exist in the package set", attr),
		Severity: report.SeverityError,
	}
}

func evalErrorDiagnostic(attr, detail string) report.Diagnostic {
	msg := fmt.Sprintf("evaluating attribute ‘%s’ failed", attr)
	if detail != "" {
		msg += ": " + detail
	}
	return report.Diagnostic{
		Name:     report.RuleEvalError,
		Message:  msg,
		Severity: report.SeverityWarning,
	}
}

func reportEvalFailedDiagnostic(attr string) report.Diagnostic {
	return report.Diagnostic{
		Name:     report.RuleReportEvalFailed,
		Message:  fmt.Sprintf("the embedded checks for ‘%s’ could not be evaluated; their findings are unavailable for this run", attr),
		Severity: report.SeverityNotice,
	}
}
