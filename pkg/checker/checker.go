package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nixhound/nixhound/pkg/console"
	"github.com/nixhound/nixhound/pkg/plugin"
	"github.com/nixhound/nixhound/pkg/report"
	"github.com/nixhound/nixhound/pkg/resolver"
)

// Options parameterizes one check run. The CLI layer fills it from
// flags, the environment listing and the optional project config, so
// nothing below this point touches process-global state.
type Options struct {
	// Nixpkgs is the package-set source path.
	Nixpkgs string
	// Attrs are the attribute paths to check, in caller order.
	Attrs []string
	// Overlays points at the overlay injecting the embedded checks.
	Overlays string
	// Evaluator is the evaluator executable.
	Evaluator string
	// Exclude disables checks by name (rules, plugins, and the
	// built-in no-build-output pass).
	Exclude []string
	// PluginDirs and PluginNames configure external check discovery.
	PluginDirs  []string
	PluginNames []string
	// Timeout bounds each plugin invocation; zero means unbounded.
	Timeout time.Duration
	// Jobs caps concurrent plugin invocations; zero picks a default.
	Jobs int
	// JSON selects structured output instead of annotated terminal
	// output.
	JSON bool
	// Verbose echoes pipeline progress.
	Verbose bool
}

func (o *Options) pluginConfig() *plugin.Config {
	return &plugin.Config{
		Names:      o.PluginNames,
		Dirs:       o.PluginDirs,
		Exclude:    o.Exclude,
		Timeout:    o.Timeout,
		MaxWorkers: o.Jobs,
	}
}

// DiscoverPlugins resolves the external check set this run would use.
func (o *Options) DiscoverPlugins() ([]plugin.Plugin, error) {
	return o.pluginConfig().Discover()
}

func (o *Options) excluded(name string) bool {
	for _, excluded := range o.Exclude {
		if excluded == name {
			return true
		}
	}
	return false
}

// Run executes the whole pipeline once: batched resolution, the
// built-in notice pass, the plugin fan-out, the merge, and rendering
// to out. Diagnostics, even error-severity ones, are not an error;
// only evaluator and protocol failures are.
func Run(ctx context.Context, opts *Options, out io.Writer) error {
	bundle, err := Collect(ctx, opts)
	if err != nil {
		return err
	}

	if opts.JSON {
		return renderJSON(bundle, out)
	}
	return renderTerminal(bundle, out)
}

// Collect produces the merged bundle for a run without rendering it.
func Collect(ctx context.Context, opts *Options) (*report.Bundle, error) {
	req := &resolver.Request{
		NixpkgsPath:  opts.Nixpkgs,
		AttrPaths:    opts.Attrs,
		OverlaysPath: opts.Overlays,
	}

	res := resolver.New(opts.Evaluator)
	res.Verbose = opts.Verbose

	var resolutions []resolver.Resolution
	err := console.WithSpinner(fmt.Sprintf("Evaluating %d attribute(s)...", len(opts.Attrs)), func() error {
		var evalErr error
		resolutions, evalErr = res.Resolve(ctx, req)
		return evalErr
	})
	if err != nil {
		return nil, err
	}

	resolverBundle := report.NewBundle()
	descriptors := make([]report.AttributeDescriptor, 0, len(resolutions))
	resolved := make([]report.AttributeDescriptor, 0, len(resolutions))
	for _, resolution := range resolutions {
		resolverBundle.Ensure(resolution.Attr)
		descriptors = append(descriptors, resolution.Descriptor)

		switch resolution.Kind {
		case resolver.KindNotFound, resolver.KindFailed:
			resolverBundle.Append(resolution.Attr, resolution.Diagnostics...)
		case resolver.KindResolved:
			resolved = append(resolved, resolution.Descriptor)
			for _, diag := range resolution.Diagnostics {
				if opts.excluded(diag.Name) {
					continue
				}
				resolverBundle.Append(resolution.Attr, diag)
			}
		}
	}

	// Attributes that never resolved already carry their synthetic
	// diagnostic; piling a missing-output notice on top would be noise.
	var builtinBundle *report.Bundle
	if !opts.excluded(report.RuleNoBuildOutput) {
		builtinBundle = plugin.NoBuildOutputNotices(resolved)
	}

	cfg := opts.pluginConfig()
	plugins, err := cfg.Discover()
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		fmt.Println(console.FormatVerboseMessage(fmt.Sprintf("running %d external check(s)", len(plugins))))
	}

	var results []plugin.Result
	if len(plugins) > 0 {
		err = console.WithSpinner(fmt.Sprintf("Running %d external check(s)...", len(plugins)), func() error {
			var runErr error
			results, runErr = plugin.Run(ctx, cfg, plugins, descriptors)
			return runErr
		})
		if err != nil {
			return nil, err
		}
	}

	pluginBundles := make([]*report.Bundle, 0, len(results))
	for _, result := range results {
		if err := verifyPluginBundle(result, opts.Attrs, descriptors); err != nil {
			return nil, err
		}
		pluginBundles = append(pluginBundles, result.Bundle)
	}

	return Merge(opts.Attrs, resolverBundle, builtinBundle, pluginBundles...), nil
}

// verifyPluginBundle rejects plugin output that reports on attributes
// outside the batch it was given. The schema cannot express this, and
// letting unknown keys through would break the requested-set invariant
// of the final bundle.
func verifyPluginBundle(result plugin.Result, requested []string, descriptors []report.AttributeDescriptor) error {
	known := make(map[string]struct{}, len(requested))
	for _, attr := range requested {
		known[attr] = struct{}{}
	}
	for _, attr := range result.Bundle.Names() {
		if _, ok := known[attr]; !ok {
			input, _ := json.Marshal(descriptors)
			return &plugin.ProtocolError{
				Plugin: result.Plugin.Name,
				Input:  input,
				Err:    fmt.Errorf("reported on attribute %q, which was not in its input batch", attr),
			}
		}
	}
	return nil
}
