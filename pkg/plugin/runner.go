package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/nixhound/nixhound/pkg/report"
)

// ProtocolError is the fatal error raised when an external check
// violates the protocol: non-zero exit, timeout, unreachable
// executable, or malformed output. It carries the exact input payload
// so the failure can be reproduced by piping Input into the plugin.
type ProtocolError struct {
	Plugin string
	Input  []byte
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("external check %q failed: %v\nreproduce by piping this input into the check:\n%s",
		e.Plugin, e.Err, e.Input)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Result is one plugin's contribution, tagged with the plugin it came
// from.
type Result struct {
	Plugin Plugin
	Bundle *report.Bundle
}

// Run invokes every registered plugin exactly once with the JSON-encoded
// descriptor batch on stdin and collects each plugin's bundle from its
// stdout. Plugins run concurrently up to cfg.MaxWorkers, but the
// returned slice always follows registration order, never completion
// order. Any protocol violation aborts the whole run.
func Run(ctx context.Context, cfg *Config, plugins []Plugin, descriptors []report.AttributeDescriptor) ([]Result, error) {
	if len(plugins) == 0 {
		return nil, nil
	}

	// The batch is encoded once and shared by every invocation.
	input, err := json.Marshal(descriptors)
	if err != nil {
		return nil, fmt.Errorf("encoding descriptor batch: %w", err)
	}

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	type indexed struct {
		idx    int
		bundle *report.Bundle
		err    error
	}

	p := pool.NewWithResults[indexed]().WithMaxGoroutines(workers)
	for i, plg := range plugins {
		i, plg := i, plg
		p.Go(func() indexed {
			bundle, err := invoke(ctx, cfg, plg, input)
			return indexed{idx: i, bundle: bundle, err: err}
		})
	}

	outcomes := p.Wait()
	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].idx < outcomes[b].idx })

	results := make([]Result, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.err != nil {
			return nil, outcome.err
		}
		results = append(results, Result{Plugin: plugins[outcome.idx], Bundle: outcome.bundle})
	}
	return results, nil
}

// invoke runs one plugin subprocess through the stdin/stdout protocol.
func invoke(ctx context.Context, cfg *Config, plg Plugin, input []byte) (*report.Bundle, error) {
	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, plg.Path)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// A killed plugin can leave children holding the output pipes open;
	// without a wait delay that would block the run past the timeout.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &ProtocolError{
				Plugin: plg.Name,
				Input:  input,
				Err:    fmt.Errorf("timed out after %s", cfg.Timeout),
			}
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w\n%s", err, detail)
		}
		return nil, &ProtocolError{Plugin: plg.Name, Input: input, Err: err}
	}

	output := bytes.TrimSpace(stdout.Bytes())
	if len(output) == 0 {
		// Empty output is the protocol's "no diagnostics anywhere".
		return report.NewBundle(), nil
	}

	if err := validateOutput(output); err != nil {
		return nil, &ProtocolError{Plugin: plg.Name, Input: input, Err: err}
	}

	bundle := report.NewBundle()
	if err := json.Unmarshal(output, bundle); err != nil {
		return nil, &ProtocolError{Plugin: plg.Name, Input: input, Err: err}
	}
	return bundle, nil
}

// NoBuildOutputNotices synthesizes the built-in notice set: one notice
// per attribute whose build output does not exist on disk, telling the
// user that artifact-dependent checks were skipped for it. Plugins
// cannot tell "not yet built" apart from "build genuinely absent", so
// the hint is produced here once instead of in every plugin.
func NoBuildOutputNotices(descriptors []report.AttributeDescriptor) *report.Bundle {
	bundle := report.NewBundle()
	for i := range descriptors {
		desc := &descriptors[i]
		if desc.HasOutput() {
			continue
		}
		bundle.Append(desc.Name, report.Diagnostic{
			Name:     report.RuleNoBuildOutput,
			Message:  fmt.Sprintf("‘%s’ has no build output on disk, so checks that inspect built artifacts were skipped; build the attribute and re-run to include them", desc.Name),
			Severity: report.SeverityNotice,
		})
	}
	return bundle
}
