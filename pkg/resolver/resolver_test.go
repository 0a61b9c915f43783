package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixhound/nixhound/pkg/report"
)

// writeFakeEvaluator writes an executable that ignores its arguments
// and prints the given JSON, standing in for the real evaluator.
func writeFakeEvaluator(t *testing.T, output string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-evaluator")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\n", output)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake evaluator: %v", err)
	}
	return path
}

// writeFailingEvaluator writes an executable that exits non-zero.
func writeFailingEvaluator(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broken-evaluator")
	script := "#!/bin/sh\necho 'evaluation exploded' >&2\nexit 1\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing failing evaluator: %v", err)
	}
	return path
}

func TestResolveClassification(t *testing.T) {
	// pkgA resolves with one embedded warning; missingPkg does not
	// exist; brokenPkg fails to evaluate.
	artifact := filepath.Join(t.TempDir(), "pkgA-output")
	if err := os.WriteFile(artifact, []byte("built"), 0644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}

	output := fmt.Sprintf(`{
		"pkgA": {
			"found": true, "success": true,
			"report": [{"name":"unused-dependency","msg":"dep is unused","severity":"warning","locations":[]}],
			"location": "pkgs/a/default.nix:3:7",
			"drvPath": "/nix/store/abc-pkgA.drv",
			"outputPath": %q
		},
		"missingPkg": {"found": false},
		"brokenPkg": {"found": true, "success": false, "error": "infinite recursion"}
	}`, artifact)

	r := New(writeFakeEvaluator(t, output))
	req := &Request{
		NixpkgsPath: "./.",
		AttrPaths:   []string{"pkgA", "missingPkg", "brokenPkg"},
	}

	resolutions, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolutions) != 3 {
		t.Fatalf("got %d resolutions, want 3", len(resolutions))
	}

	pkgA := resolutions[0]
	if pkgA.Kind != KindResolved {
		t.Errorf("pkgA kind = %v, want KindResolved", pkgA.Kind)
	}
	if len(pkgA.Diagnostics) != 1 || pkgA.Diagnostics[0].Name != "unused-dependency" {
		t.Errorf("pkgA diagnostics = %+v, want the embedded warning verbatim", pkgA.Diagnostics)
	}
	if pkgA.Diagnostics[0].Severity != report.SeverityWarning {
		t.Errorf("pkgA severity = %q, want warning", pkgA.Diagnostics[0].Severity)
	}
	if !pkgA.Diagnostics[0].Link {
		t.Error("embedded diagnostic without explicit link should default to linked")
	}
	if pkgA.Descriptor.Location == nil || pkgA.Descriptor.Location.Line != 3 || pkgA.Descriptor.Location.Column != 7 {
		t.Errorf("pkgA location = %+v, want pkgs/a/default.nix:3:7", pkgA.Descriptor.Location)
	}
	if pkgA.Descriptor.DrvPath != "/nix/store/abc-pkgA.drv" {
		t.Errorf("pkgA drv path = %q", pkgA.Descriptor.DrvPath)
	}
	if pkgA.Descriptor.OutputPath != artifact {
		t.Errorf("pkgA output path = %q, want %q (exists on disk)", pkgA.Descriptor.OutputPath, artifact)
	}

	missing := resolutions[1]
	if missing.Kind != KindNotFound {
		t.Errorf("missingPkg kind = %v, want KindNotFound", missing.Kind)
	}
	if len(missing.Diagnostics) != 1 {
		t.Fatalf("missingPkg diagnostics = %+v, want exactly one", missing.Diagnostics)
	}
	diag := missing.Diagnostics[0]
	if diag.Name != report.RuleAttrPathNotFound || diag.Severity != report.SeverityError {
		t.Errorf("missingPkg diagnostic = %+v, want AttrPathNotFound at error severity", diag)
	}
	if len(diag.Locations) != 0 {
		t.Errorf("AttrPathNotFound should carry no locations, got %+v", diag.Locations)
	}
	if diag.Link {
		t.Error("AttrPathNotFound should not carry a documentation link")
	}
	if missing.Descriptor.DrvPath != "" || missing.Descriptor.OutputPath != "" {
		t.Errorf("missingPkg descriptor should have no paths: %+v", missing.Descriptor)
	}

	broken := resolutions[2]
	if broken.Kind != KindFailed {
		t.Errorf("brokenPkg kind = %v, want KindFailed", broken.Kind)
	}
	if len(broken.Diagnostics) != 1 || broken.Diagnostics[0].Name != report.RuleEvalError {
		t.Errorf("brokenPkg diagnostics = %+v, want one EvalError", broken.Diagnostics)
	}
	if broken.Diagnostics[0].Severity != report.SeverityWarning {
		t.Errorf("EvalError severity = %q, want warning", broken.Diagnostics[0].Severity)
	}
}

func TestResolveSecondaryEvalFailureDegrades(t *testing.T) {
	// A null report means evaluating the embedded checks crashed; the
	// attribute still resolves and gains only the low-severity notice.
	output := `{
		"pkgA": {"found": true, "success": true, "report": null, "location": null, "drvPath": null, "outputPath": null}
	}`

	r := New(writeFakeEvaluator(t, output))
	req := &Request{NixpkgsPath: "./.", AttrPaths: []string{"pkgA"}}

	resolutions, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	res := resolutions[0]
	if res.Kind != KindResolved {
		t.Fatalf("kind = %v, want KindResolved", res.Kind)
	}
	if !res.ReportFailed {
		t.Error("ReportFailed should be set for a null report")
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Name != report.RuleReportEvalFailed {
		t.Errorf("diagnostics = %+v, want the report-eval-failed notice", res.Diagnostics)
	}
	if res.Diagnostics[0].Severity != report.SeverityNotice {
		t.Errorf("report-eval-failed severity = %q, want notice", res.Diagnostics[0].Severity)
	}
}

func TestResolveNonexistentOutputPathDropped(t *testing.T) {
	output := `{
		"pkgA": {"found": true, "success": true, "report": [], "location": null,
		         "drvPath": "/nix/store/abc.drv", "outputPath": "/nix/store/does-not-exist-anywhere"}
	}`

	r := New(writeFakeEvaluator(t, output))
	resolutions, err := r.Resolve(context.Background(), &Request{NixpkgsPath: "./.", AttrPaths: []string{"pkgA"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolutions[0].Descriptor.OutputPath != "" {
		t.Errorf("output path %q should be dropped when it does not exist on disk", resolutions[0].Descriptor.OutputPath)
	}
}

func TestResolveObjectLocation(t *testing.T) {
	output := `{
		"pkgA": {"found": true, "success": true, "report": [],
		         "location": {"file": "pkgs/a/default.nix", "line": 9, "column": 2},
		         "drvPath": null, "outputPath": null}
	}`

	r := New(writeFakeEvaluator(t, output))
	resolutions, err := r.Resolve(context.Background(), &Request{NixpkgsPath: "./.", AttrPaths: []string{"pkgA"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	loc := resolutions[0].Descriptor.Location
	if loc == nil || loc.File != "pkgs/a/default.nix" || loc.Line != 9 || loc.Column != 2 {
		t.Errorf("location = %+v, want the decoded object form", loc)
	}
}

func TestResolveMissingAttributeKeyIsFatal(t *testing.T) {
	r := New(writeFakeEvaluator(t, `{}`))
	_, err := r.Resolve(context.Background(), &Request{NixpkgsPath: "./.", AttrPaths: []string{"pkgA"}})
	if err == nil {
		t.Fatal("expected error when the evaluator output misses a requested attribute")
	}
}

func TestResolveEvaluatorFailureIsFatal(t *testing.T) {
	r := New(writeFailingEvaluator(t))
	_, err := r.Resolve(context.Background(), &Request{NixpkgsPath: "./.", AttrPaths: []string{"pkgA"}})
	if err == nil {
		t.Fatal("expected error from a failing evaluator")
	}
}

func TestResolveUndecodableOutputIsFatal(t *testing.T) {
	r := New(writeFakeEvaluator(t, "this is not json"))
	_, err := r.Resolve(context.Background(), &Request{NixpkgsPath: "./.", AttrPaths: []string{"pkgA"}})
	if err == nil {
		t.Fatal("expected error for undecodable evaluator output")
	}
}
