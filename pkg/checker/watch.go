package checker

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nixhound/nixhound/pkg/console"
)

const debounceDelay = 300 * time.Millisecond

// Watch runs the pipeline once, then re-runs it whenever a build
// definition under the package-set tree changes. It returns when the
// context is cancelled or an interrupt arrives. Run failures inside
// the loop are reported and watching continues; only watcher setup
// failures are fatal.
func Watch(ctx context.Context, opts *Options, out io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, opts.Nixpkgs); err != nil {
		return err
	}

	fmt.Fprintln(out, console.FormatInfoMessage(fmt.Sprintf("Watching for changes under %s...", opts.Nixpkgs)))
	if opts.Verbose {
		fmt.Fprintln(out, console.FormatVerboseMessage("press Ctrl+C to stop watching"))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	runOnce := func() {
		if err := Run(ctx, opts, out); err != nil {
			fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
		}
	}
	runOnce()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigChan:
			fmt.Fprintln(out, console.FormatInfoMessage("stopping watch"))
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(event) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(debounceDelay)
			debounceCh = debounceTimer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, console.FormatWarningMessage(fmt.Sprintf("watch error: %v", err)))
		case <-debounceCh:
			debounceCh = nil
			runOnce()
		}
	}
}

// watchTree registers the package-set root and its subdirectories.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return watcher.Add(root)
	}

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
}

// relevantEvent filters watcher noise down to content changes of
// build-definition files.
func relevantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasSuffix(event.Name, ".nix")
}
