package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nixhound/nixhound/pkg/checker"
	"github.com/nixhound/nixhound/pkg/config"
	"github.com/nixhound/nixhound/pkg/console"
	"github.com/nixhound/nixhound/pkg/constants"
)

// Build-time variables set by GoReleaser
var (
	version = "dev"
)

// Global flags
var verbose bool

var rootCmd = &cobra.Command{
	Use:   constants.CLIName,
	Short: "Package quality checker for declarative build definitions",
	Long: `nixhound aggregates quality diagnostics for package attributes.

For each requested attribute path it resolves the attribute through the
build-description evaluator, collects diagnostics embedded during
evaluation, feeds the resolved batch to every installed external check,
and renders the merged findings as annotated terminal output or JSON.

Diagnostics are not build failures: a run that merely finds problems
still exits zero. Only evaluator or check failures exit non-zero.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <attr-path>...",
	Short: "Resolve attributes and report quality-rule findings",
	Long: `Resolve one or more attribute paths and report every quality-rule
finding for them.

Examples:
  ` + constants.CLIName + ` check hello
  ` + constants.CLIName + ` check -f ./nixpkgs hello python3Packages.requests
  ` + constants.CLIName + ` check --exclude no-build-output --json hello
  ` + constants.CLIName + ` check --watch hello

External checks are discovered on the directories listed in ` + constants.PluginPathEnv + `
(executables named ` + constants.PluginPrefix + `<name>) plus any --plugin-dir and
--plugin registrations. The --exclude flag disables checks by name and
is repeatable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildOptions(cmd, args)
		if err != nil {
			return err
		}

		watch, _ := cmd.Flags().GetBool("watch")
		if watch {
			return checker.Watch(context.Background(), opts, os.Stdout)
		}
		return checker.Run(context.Background(), opts, os.Stdout)
	},
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the external checks discoverable on this system",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildOptions(cmd, nil)
		if err != nil {
			return err
		}

		plugins, err := opts.DiscoverPlugins()
		if err != nil {
			return err
		}
		if len(plugins) == 0 {
			fmt.Println(console.FormatInfoMessage("no external checks found"))
			return nil
		}

		rows := make([][]string, 0, len(plugins))
		for _, plg := range plugins {
			rows = append(rows, []string{plg.Name, plg.Path})
		}
		fmt.Print(console.RenderTable([]string{"NAME", "EXECUTABLE"}, rows))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of " + constants.CLIName,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s version %s\n", constants.CLIName, version)
	},
}

// buildOptions merges flags, the optional project config file and the
// plugin path environment listing into one Options value. This is the
// only place process-global state is read.
func buildOptions(cmd *cobra.Command, attrs []string) (*checker.Options, error) {
	configPath, _ := cmd.Flags().GetString("config")
	project, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	nixpkgs, _ := cmd.Flags().GetString("nixpkgs")
	if !cmd.Flags().Changed("nixpkgs") && project.Nixpkgs != "" {
		nixpkgs = project.Nixpkgs
	}

	evaluator, _ := cmd.Flags().GetString("evaluator")
	if !cmd.Flags().Changed("evaluator") && project.Evaluator != "" {
		evaluator = project.Evaluator
	}

	exclude, _ := cmd.Flags().GetStringArray("exclude")
	exclude = append(exclude, project.Exclude...)

	pluginDirs, _ := cmd.Flags().GetStringArray("plugin-dir")
	pluginDirs = append(pluginDirs, project.PluginDirs...)
	if pathList := os.Getenv(constants.PluginPathEnv); pathList != "" {
		pluginDirs = append(pluginDirs, filepath.SplitList(pathList)...)
	}

	pluginNames, _ := cmd.Flags().GetStringArray("plugin")
	pluginNames = append(pluginNames, project.Plugins...)

	overlays, _ := cmd.Flags().GetString("overlays")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	jobs, _ := cmd.Flags().GetInt("jobs")
	jsonOut, _ := cmd.Flags().GetBool("json")

	return &checker.Options{
		Nixpkgs:     nixpkgs,
		Attrs:       attrs,
		Overlays:    overlays,
		Evaluator:   evaluator,
		Exclude:     exclude,
		PluginDirs:  pluginDirs,
		PluginNames: pluginNames,
		Timeout:     timeout,
		Jobs:        jobs,
		JSON:        jsonOut,
		Verbose:     verbose,
	}, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	for _, cmd := range []*cobra.Command{checkCmd, pluginsCmd} {
		cmd.Flags().StringP("nixpkgs", "f", "./.", "Path to the package set to check")
		cmd.Flags().String("evaluator", constants.DefaultEvaluator, "Evaluator executable used for the batched resolution")
		cmd.Flags().String("overlays", "", "Overlay file injecting the embedded checks")
		cmd.Flags().StringArrayP("exclude", "e", nil, "Check name to disable (repeatable)")
		cmd.Flags().StringArray("plugin", nil, "Explicitly register an external check by name (repeatable)")
		cmd.Flags().StringArray("plugin-dir", nil, "Extra directory to scan for external checks (repeatable)")
		cmd.Flags().String("config", constants.ConfigFileName, "Project configuration file")
		cmd.Flags().Duration("timeout", 0, "Per-check timeout; expiry aborts the run (0 disables)")
		cmd.Flags().Int("jobs", 0, "Maximum external checks run in parallel (0 = number of CPUs)")
	}
	checkCmd.Flags().Bool("json", false, "Emit the merged bundle as JSON instead of terminal output")
	checkCmd.Flags().Bool("watch", false, "Re-run whenever build definitions change")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(strings.TrimSpace(err.Error())))
		os.Exit(1)
	}
}
