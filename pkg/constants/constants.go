package constants

// CLIName is the binary name used in user-facing output
const CLIName = "nixhound"

// RuleDocBaseURL is the base URL documentation links are synthesized
// from; the rule name is appended verbatim.
const RuleDocBaseURL = "https://nixhound.dev/rules/"

// PluginPrefix is the executable-name convention external checks must
// follow to be discovered on the plugin path.
const PluginPrefix = "nixhound-check-"

// PluginPathEnv names the environment variable carrying the
// colon-separated list of plugin lookup directories. It is read once at
// the CLI boundary, never inside the protocol component.
const PluginPathEnv = "NIXHOUND_PLUGIN_PATH"

// ConfigFileName is the optional per-project configuration file looked
// up in the working directory.
const ConfigFileName = ".nixhound.yml"

// DefaultEvaluator is the evaluator executable used when the
// configuration does not name one.
const DefaultEvaluator = "nix-instantiate"
