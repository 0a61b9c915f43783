package resolver

import (
	"fmt"
	"strings"
)

// Request describes one batched evaluation: which package set to load,
// which attribute paths to resolve, and which overlay of
// diagnostic-producing transformations to layer on top. Building the
// evaluator expression from explicit fields keeps attribute path
// segments out of hand-assembled template strings.
type Request struct {
	// NixpkgsPath is the package-set source passed to the evaluator.
	NixpkgsPath string
	// AttrPaths are the attribute paths to resolve, in caller order.
	AttrPaths []string
	// OverlaysPath points at the overlay that injects the embedded
	// checks. Empty means the package set is evaluated as-is.
	OverlaysPath string
}

// Validate reports whether the request can be evaluated at all.
func (r *Request) Validate() error {
	if r.NixpkgsPath == "" {
		return fmt.Errorf("request has no package-set path")
	}
	if len(r.AttrPaths) == 0 {
		return fmt.Errorf("request has no attribute paths")
	}
	seen := make(map[string]struct{}, len(r.AttrPaths))
	for _, attr := range r.AttrPaths {
		if attr == "" {
			return fmt.Errorf("request contains an empty attribute path")
		}
		if _, dup := seen[attr]; dup {
			return fmt.Errorf("attribute path %q requested twice", attr)
		}
		seen[attr] = struct{}{}
	}
	return nil
}

// nixString encodes a Go string as a Nix string literal.
func nixString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '$':
			b.WriteString(`\$`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// nixStringList encodes a slice of Go strings as a Nix list literal.
func nixStringList(items []string) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = nixString(item)
	}
	return "[ " + strings.Join(parts, " ") + " ]"
}

// Expression serializes the request into the single evaluator
// expression for the whole batch. Per attribute path the expression
// yields one of:
//
//	{ found = false; }
//	{ found = true; success = false; error = "..."; }
//	{ found = true; success = true; report = [...] | null;
//	  location = "file:line:column" | null;
//	  drvPath = "..." | null; outputPath = "..." | null; }
//
// report is null when the embedded-check evaluation itself failed; the
// attribute still counts as resolved in that case.
func (r *Request) Expression() string {
	overlays := "[ ]"
	if r.OverlaysPath != "" {
		overlays = "[ (import " + nixString(r.OverlaysPath) + ") ]"
	}

	var b strings.Builder
	b.WriteString("let\n")
	b.WriteString("  pkgs = import " + nixString(r.NixpkgsPath) + " { overlays = " + overlays + "; };\n")
	b.WriteString("  lib = pkgs.lib;\n")
	b.WriteString("  attrPaths = " + nixStringList(r.AttrPaths) + ";\n")
	b.WriteString(`  resolve = path:
    let segments = lib.splitString "." path;
    in if !(lib.hasAttrByPath segments pkgs) then { found = false; }
    else
      let
        attempt = builtins.tryEval (lib.getAttrFromPath segments pkgs);
      in if !attempt.success then { found = true; success = false; error = "evaluation failed"; }
      else
        let
          drv = attempt.value;
          reportAttempt = builtins.tryEval (builtins.deepSeq (drv.__nixhoundReport or [ ]) (drv.__nixhoundReport or [ ]));
          drvPathAttempt = builtins.tryEval (drv.drvPath or null);
          outputAttempt = builtins.tryEval (drv.outPath or null);
        in {
          found = true;
          success = true;
          report = if reportAttempt.success then reportAttempt.value else null;
          location = drv.meta.position or null;
          drvPath = if drvPathAttempt.success then drvPathAttempt.value else null;
          outputPath = if outputAttempt.success then outputAttempt.value else null;
        };
`)
	b.WriteString("in builtins.listToAttrs (map (path: { name = path; value = resolve path; }) attrPaths)\n")
	return b.String()
}
