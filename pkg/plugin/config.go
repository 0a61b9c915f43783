package plugin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nixhound/nixhound/pkg/constants"
)

// Config is the explicit configuration for the external check
// protocol. It is assembled once at the CLI boundary; the protocol
// component never reads process-global state itself.
type Config struct {
	// Names are explicitly registered plugin names. They are resolved
	// against Dirs first and the process PATH second.
	Names []string
	// Dirs are scanned for executables following the plugin name
	// convention (see constants.PluginPrefix).
	Dirs []string
	// Exclude removes checks by name. It matches both plugin names and
	// the built-in no-build-output check.
	Exclude []string
	// Timeout bounds each plugin invocation; zero means unbounded.
	// Expiry is fatal, identical to a non-zero exit.
	Timeout time.Duration
	// MaxWorkers caps how many plugins run at once. Zero or negative
	// selects a runtime-chosen default.
	MaxWorkers int
}

// Excluded reports whether a check name is on the exclusion list.
func (c *Config) Excluded(name string) bool {
	for _, excluded := range c.Exclude {
		if excluded == name {
			return true
		}
	}
	return false
}

// Plugin is one discovered external check: its registration name and
// the executable path it resolved to.
type Plugin struct {
	Name string
	Path string
}

// Discover resolves the registered plugin set: directory-scanned
// executables plus explicitly named ones, minus exclusions, ordered
// lexicographically by name. The order is the registration order every
// later stage relies on, so it must be stable across runs.
func (c *Config) Discover() ([]Plugin, error) {
	byName := make(map[string]string)

	for _, dir := range c.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scanning plugin directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), constants.PluginPrefix) {
				continue
			}
			name := strings.TrimPrefix(entry.Name(), constants.PluginPrefix)
			if _, taken := byName[name]; !taken {
				byName[name] = filepath.Join(dir, entry.Name())
			}
		}
	}

	for _, name := range c.Names {
		if _, taken := byName[name]; taken {
			continue
		}
		path, err := c.lookupNamed(name)
		if err != nil {
			return nil, err
		}
		byName[name] = path
	}

	plugins := make([]Plugin, 0, len(byName))
	for name, path := range byName {
		if c.Excluded(name) {
			continue
		}
		plugins = append(plugins, Plugin{Name: name, Path: path})
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name < plugins[j].Name })
	return plugins, nil
}

// lookupNamed resolves an explicitly registered plugin name to an
// executable, trying the configured directories before the PATH.
func (c *Config) lookupNamed(name string) (string, error) {
	executable := constants.PluginPrefix + name
	for _, dir := range c.Dirs {
		candidate := filepath.Join(dir, executable)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(executable)
	if err != nil {
		return "", fmt.Errorf("registered check %q has no executable %s on the plugin path: %w", name, executable, err)
	}
	return path, nil
}
