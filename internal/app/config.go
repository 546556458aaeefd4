package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns the user configuration directory. The CLI override wins,
// then the INK_CONFIG_DIR environment variable, then ~/.config/ink/.
func ConfigDir() (string, error) {
	dir, _, err := ResolveConfigDirDetailed()
	return dir, err
}

// ResolveConfigDirDetailed returns the config directory along with the source
// of that decision. This is for status reporting; normal code should use
// ConfigDir.
func ResolveConfigDirDetailed() (dir string, source string, err error) {
	if override := getConfigDirOverride(); override != "" {
		return override, "cli(--config-dir)", nil
	}
	if env := os.Getenv("INK_CONFIG_DIR"); env != "" {
		return env, "env(INK_CONFIG_DIR)", nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(home, ".config", "ink"), "default(~/.config/ink)", nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# ink configuration
# Run: ink --help

# Command used to launch the coding harness.
# harness_command: claude

# Tool name treated as a question for the human operator.
# question_tool: AskUserQuestion

# Wait overrides for pending hook requests, in milliseconds. Zero keeps the
# built-in defaults (300000 for permission/pre-tool, 60000 for stop).
# decision_timeout_ms: 300000
# stop_timeout_ms: 60000

# Rules applied in every project, after the project's rules.yaml.
# default_rules:
#   - id: rule-read
#     tool_name: Read
#     action: approve
#     added_by: config
`
