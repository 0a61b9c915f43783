package checker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nixhound/nixhound/pkg/plugin"
	"github.com/nixhound/nixhound/pkg/report"
)

// fakeEvaluator writes an executable printing the given batch JSON.
func fakeEvaluator(t *testing.T, output string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-evaluator")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\n", output)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake evaluator: %v", err)
	}
	return path
}

// fakePlugin writes an executable check into dir.
func fakePlugin(t *testing.T, dir, name, script string) {
	t.Helper()
	path := filepath.Join(dir, "nixhound-check-"+name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\ncat > /dev/null\n"+script), 0755); err != nil {
		t.Fatalf("writing plugin %s: %v", name, err)
	}
}

func diagNames(t *testing.T, bundle *report.Bundle, attr string) []string {
	t.Helper()
	diags, ok := bundle.Get(attr)
	if !ok {
		t.Fatalf("attribute %s is missing from the bundle", attr)
	}
	var out []string
	for _, d := range diags {
		out = append(out, d.Name)
	}
	return out
}

// Scenario from the contract: pkgA resolves with an artifact on disk
// and one embedded warning; missingPkg does not exist; no plugins.
func TestCollectResolvedAndMissing(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "pkgA-out")
	if err := os.WriteFile(artifact, []byte("built"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := &Options{
		Nixpkgs: "./.",
		Attrs:   []string{"pkgA", "missingPkg"},
		Evaluator: fakeEvaluator(t, fmt.Sprintf(`{
			"pkgA": {"found": true, "success": true,
				"report": [{"name":"unused-dependency","msg":"m","severity":"warning","locations":[]}],
				"location": null, "drvPath": "/nix/store/a.drv", "outputPath": %q},
			"missingPkg": {"found": false}
		}`, artifact)),
	}

	bundle, err := Collect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if got := bundle.Names(); !reflect.DeepEqual(got, []string{"pkgA", "missingPkg"}) {
		t.Errorf("bundle keys = %v, want exactly the requested set in order", got)
	}
	if got := diagNames(t, bundle, "pkgA"); !reflect.DeepEqual(got, []string{"unused-dependency"}) {
		t.Errorf("pkgA diagnostics = %v, want [unused-dependency]", got)
	}
	if got := diagNames(t, bundle, "missingPkg"); !reflect.DeepEqual(got, []string{report.RuleAttrPathNotFound}) {
		t.Errorf("missingPkg diagnostics = %v, want [AttrPathNotFound]", got)
	}

	diags, _ := bundle.Get("missingPkg")
	if diags[0].Severity != report.SeverityError {
		t.Errorf("AttrPathNotFound severity = %q, want error", diags[0].Severity)
	}
}

// Scenario from the contract: pkgA resolves without an artifact, one
// plugin reports license-mismatch; the built-in notice must precede
// the plugin diagnostic.
func TestCollectBuiltinNoticePrecedesPlugin(t *testing.T) {
	pluginDir := t.TempDir()
	fakePlugin(t, pluginDir, "license",
		`echo '{"pkgA": [{"name":"license-mismatch","msg":"m","severity":"warning","locations":[]}]}'`)

	opts := &Options{
		Nixpkgs:    "./.",
		Attrs:      []string{"pkgA"},
		PluginDirs: []string{pluginDir},
		Evaluator: fakeEvaluator(t, `{
			"pkgA": {"found": true, "success": true, "report": [],
				"location": null, "drvPath": "/nix/store/a.drv", "outputPath": null}
		}`),
	}

	bundle, err := Collect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	want := []string{report.RuleNoBuildOutput, "license-mismatch"}
	if got := diagNames(t, bundle, "pkgA"); !reflect.DeepEqual(got, want) {
		t.Errorf("pkgA diagnostics = %v, want %v in that order", got, want)
	}
}

func TestCollectPluginOrderIsStableAcrossRuns(t *testing.T) {
	pluginDir := t.TempDir()
	fakePlugin(t, pluginDir, "bbb",
		`echo '{"pkgA": [{"name":"from-bbb","msg":"m","severity":"notice","locations":[]}]}'`)
	fakePlugin(t, pluginDir, "aaa", `sleep 1
echo '{"pkgA": [{"name":"from-aaa","msg":"m","severity":"notice","locations":[]}]}'`)

	opts := &Options{
		Nixpkgs:    "./.",
		Attrs:      []string{"pkgA"},
		PluginDirs: []string{pluginDir},
		Exclude:    []string{report.RuleNoBuildOutput},
		Evaluator: fakeEvaluator(t, `{
			"pkgA": {"found": true, "success": true, "report": [], "location": null, "drvPath": null, "outputPath": null}
		}`),
	}

	want := []string{"from-aaa", "from-bbb"}
	for run := 0; run < 2; run++ {
		bundle, err := Collect(context.Background(), opts)
		if err != nil {
			t.Fatalf("run %d: Collect failed: %v", run, err)
		}
		if got := diagNames(t, bundle, "pkgA"); !reflect.DeepEqual(got, want) {
			t.Errorf("run %d: order = %v, want registration order %v regardless of completion", run, got, want)
		}
	}
}

func TestCollectExcludesBuiltinNotice(t *testing.T) {
	opts := &Options{
		Nixpkgs: "./.",
		Attrs:   []string{"pkgA"},
		Exclude: []string{report.RuleNoBuildOutput},
		Evaluator: fakeEvaluator(t, `{
			"pkgA": {"found": true, "success": true, "report": [], "location": null, "drvPath": null, "outputPath": null}
		}`),
	}

	bundle, err := Collect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if diags, _ := bundle.Get("pkgA"); len(diags) != 0 {
		t.Errorf("pkgA diagnostics = %v, want none with no-build-output excluded", diags)
	}
}

func TestCollectExcludesEmbeddedRule(t *testing.T) {
	opts := &Options{
		Nixpkgs: "./.",
		Attrs:   []string{"pkgA"},
		Exclude: []string{"unused-dependency", report.RuleNoBuildOutput},
		Evaluator: fakeEvaluator(t, `{
			"pkgA": {"found": true, "success": true,
				"report": [
					{"name":"unused-dependency","msg":"m","severity":"warning","locations":[]},
					{"name":"missing-license","msg":"m","severity":"notice","locations":[]}
				],
				"location": null, "drvPath": null, "outputPath": null}
		}`),
	}

	bundle, err := Collect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := diagNames(t, bundle, "pkgA"); !reflect.DeepEqual(got, []string{"missing-license"}) {
		t.Errorf("pkgA diagnostics = %v, excluded rule should be filtered", got)
	}
}

func TestCollectPluginFailureAbortsRun(t *testing.T) {
	pluginDir := t.TempDir()
	fakePlugin(t, pluginDir, "crashy", "exit 2")

	opts := &Options{
		Nixpkgs:    "./.",
		Attrs:      []string{"pkgA"},
		PluginDirs: []string{pluginDir},
		Evaluator: fakeEvaluator(t, `{
			"pkgA": {"found": true, "success": true, "report": [], "location": null, "drvPath": null, "outputPath": null}
		}`),
	}

	bundle, err := Collect(context.Background(), opts)
	if err == nil {
		t.Fatal("expected a fatal error from a crashing plugin")
	}
	if bundle != nil {
		t.Error("no partial bundle may be produced when a plugin fails")
	}
	var protoErr *plugin.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Plugin != "crashy" {
		t.Errorf("error = %v, want a ProtocolError naming crashy", err)
	}
}

func TestCollectRejectsPluginReportingUnknownAttr(t *testing.T) {
	pluginDir := t.TempDir()
	fakePlugin(t, pluginDir, "confused",
		`echo '{"otherPkg": [{"name":"x","msg":"m","severity":"notice","locations":[]}]}'`)

	opts := &Options{
		Nixpkgs:    "./.",
		Attrs:      []string{"pkgA"},
		PluginDirs: []string{pluginDir},
		Evaluator: fakeEvaluator(t, `{
			"pkgA": {"found": true, "success": true, "report": [], "location": null, "drvPath": null, "outputPath": null}
		}`),
	}

	_, err := Collect(context.Background(), opts)
	if err == nil {
		t.Fatal("expected an error for a plugin reporting on an attribute outside its batch")
	}
	var protoErr *plugin.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Plugin != "confused" {
		t.Errorf("error = %v, want a ProtocolError naming confused", err)
	}
}

func TestCollectEvaluatorFailureIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken-evaluator")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}

	opts := &Options{Nixpkgs: "./.", Attrs: []string{"pkgA"}, Evaluator: path}
	if _, err := Collect(context.Background(), opts); err == nil {
		t.Fatal("expected a fatal error from a failing evaluator")
	}
}
