package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Project is the optional per-project configuration read from
// .nixhound.yml. Command-line flags always win over file values; the
// file only supplies defaults.
type Project struct {
	// Nixpkgs is the package-set source path.
	Nixpkgs string `yaml:"nixpkgs"`
	// Evaluator overrides the evaluator executable.
	Evaluator string `yaml:"evaluator"`
	// PluginDirs are extra plugin lookup directories.
	PluginDirs []string `yaml:"plugin-dirs"`
	// Plugins are explicitly registered plugin names.
	Plugins []string `yaml:"plugins"`
	// Exclude lists check names disabled by default for this project.
	Exclude []string `yaml:"exclude"`
}

// Load reads a project configuration file. A missing file is not an
// error; it yields an empty configuration.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Project{}, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var project Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &project, nil
}
