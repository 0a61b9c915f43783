package checker

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nixhound/nixhound/pkg/console"
	"github.com/nixhound/nixhound/pkg/report"
)

// renderJSON emits the full bundle as JSON for downstream tooling.
func renderJSON(bundle *report.Bundle, out io.Writer) error {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// renderTerminal prints the annotated human-readable form: one section
// per attribute in bundle order, each diagnostic with its source
// excerpts. A location whose file or line cannot be read aborts
// rendering; it points at a location-tracking bug that must surface
// rather than be skipped.
func renderTerminal(bundle *report.Bundle, out io.Writer) error {
	for i, attr := range bundle.Names() {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, console.FormatAttrHeader(attr))

		diags, _ := bundle.Get(attr)
		if len(diags) == 0 {
			fmt.Fprintln(out, console.FormatSuccessMessage("no issues found"))
			continue
		}

		for d := range diags {
			diag := &diags[d]
			fmt.Fprintln(out)
			fmt.Fprint(out, console.FormatDiagnostic(diag))

			for _, loc := range diag.Locations {
				excerpt, err := console.FormatSourceExcerpt(loc)
				if err != nil {
					return fmt.Errorf("rendering %s for ‘%s’: %w", diag.Name, attr, err)
				}
				fmt.Fprint(out, excerpt)
			}

			fmt.Fprint(out, console.FormatDocLink(diag))
		}
	}
	return nil
}
