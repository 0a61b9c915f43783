package checker

import (
	"github.com/nixhound/nixhound/pkg/report"
)

// Merge combines diagnostics from the resolver, the built-in notice
// pass and each plugin into one bundle. It is a pure concatenation in
// fixed source order: resolver first, built-in notices second, then
// plugins in registration order. Nothing is deduplicated and nothing
// is reordered by severity; render-time grouping is the caller's
// business, so merge output order always matches invocation order.
//
// Every requested attribute appears as a key even when no source
// reported anything for it. Attribute names that appear only in a
// source bundle are appended after the requested set, preserving the
// order they were first seen in.
func Merge(requested []string, resolverBundle, builtinBundle *report.Bundle, pluginBundles ...*report.Bundle) *report.Bundle {
	merged := report.NewBundle()
	for _, attr := range requested {
		merged.Ensure(attr)
	}

	sources := make([]*report.Bundle, 0, 2+len(pluginBundles))
	sources = append(sources, resolverBundle, builtinBundle)
	sources = append(sources, pluginBundles...)

	for _, source := range sources {
		if source == nil {
			continue
		}
		for _, attr := range source.Names() {
			diags, _ := source.Get(attr)
			if len(diags) == 0 {
				merged.Ensure(attr)
				continue
			}
			merged.Append(attr, diags...)
		}
	}
	return merged
}
