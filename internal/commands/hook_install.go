package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/output"
)

const inkCommandFallback = "ink"

var (
	inkHooksOnce  sync.Once
	inkHooksCache map[string]hookEntry
)

type hookHandler struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

type hookEntry struct {
	Matcher string        `json:"matcher"`
	Hooks   []hookHandler `json:"hooks"`
}

func claudeSettingsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude", "settings.json")
}

// resolveClaudeSettingsPath returns the project-scoped settings file when a
// project directory was given, the user-level one otherwise.
func resolveClaudeSettingsPath(projectDir string) string {
	if projectDir != "" {
		return filepath.Join(projectDir, ".claude", "settings.json")
	}
	return claudeSettingsPath()
}

func inkExecutable() string {
	exe, err := os.Executable()
	if err != nil || strings.TrimSpace(exe) == "" {
		return inkCommandFallback
	}
	return exe
}

// buildInkHookCommand constructs the hook command string for settings.json.
func buildInkHookCommand() string {
	exe := inkExecutable()
	if exe == inkCommandFallback {
		return "ink hook forward"
	}
	// Quote the executable path so hook commands are robust with spaces.
	return fmt.Sprintf("%q hook forward", exe)
}

// inkHooks returns the hook definitions for settings.json.
// Cached via sync.Once since buildInkHookCommand resolves the executable path.
func inkHooks() map[string]hookEntry {
	inkHooksOnce.Do(func() {
		inkHooksCache = buildInkHooks()
	})
	return inkHooksCache
}

// buildInkHooks routes every harness event through the forwarder. Decision
// hooks get headroom above the server's decision window; the rest only need
// the round trip.
func buildInkHooks() map[string]hookEntry {
	command := buildInkHookCommand()
	entry := func(timeout int) hookEntry {
		return hookEntry{Hooks: []hookHandler{{
			Type:    "command",
			Command: command,
			Timeout: timeout,
		}}}
	}

	const (
		decisionTimeout      = 310000
		stopTimeout          = 70000
		informationalTimeout = 10000
	)

	hooks := map[string]hookEntry{
		"PermissionRequest": entry(decisionTimeout),
		"PreToolUse":        entry(decisionTimeout),
		"Stop":              entry(stopTimeout),
	}
	for _, name := range []string{
		"SessionStart", "SessionEnd", "UserPromptSubmit", "PostToolUse",
		"PostToolUseFailure", "SubagentStart", "SubagentStop", "Notification",
		"PreCompact", "Setup", "TeammateIdle", "TaskCompleted", "ConfigChange",
	} {
		hooks[name] = entry(informationalTimeout)
	}
	return hooks
}

func inkHookEventNames() []string {
	events := make([]string, 0, len(inkHooks()))
	for name := range inkHooks() {
		events = append(events, name)
	}
	sort.Strings(events)
	return events
}

// readSettings reads and parses a Claude settings.json.
// Returns an empty map if the file doesn't exist.
func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: settings path is derived, not user-controlled input
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return settings, nil
}

// writeSettings writes settings back with 2-space indent.
func writeSettings(path string, settings map[string]any) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

func isInkHookCommand(command string) bool {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false
	}
	parts := strings.Fields(cmd)
	if len(parts) < 3 {
		return false
	}

	execToken := strings.Trim(parts[0], "\"'")
	if filepath.Base(execToken) != "ink" {
		return false
	}
	return parts[1] == "hook" && parts[2] == "forward"
}

// hookEntryEqual compares two parsed hook entries by their JSON representation.
// Simpler than reflect.DeepEqual and sufficient since both sides originate from JSON.
func hookEntryEqual(a, b map[string]any) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// installOutcome indicates what happened when upserting a hook entry.
type installOutcome int

const (
	hookInstalled installOutcome = iota
	hookUpdated
	hookSkipped
)

// upsertInkHookEntry replaces any existing ink hook entry or appends a new
// one. Non-ink entries are preserved. Returns the updated slice and the
// outcome.
func upsertInkHookEntry(existing []any, newEntry map[string]any) ([]any, installOutcome) {
	var kept []any
	hadInk := false
	matchingInk := false

	for _, currentEntry := range existing {
		entryObj, ok := currentEntry.(map[string]any)
		if !ok {
			kept = append(kept, currentEntry)
			continue
		}
		hooks, ok := entryObj["hooks"].([]any)
		if !ok {
			kept = append(kept, currentEntry)
			continue
		}
		isInk := false
		for _, h := range hooks {
			hMap, ok := h.(map[string]any)
			if !ok {
				continue
			}
			cmd, _ := hMap["command"].(string)
			if isInkHookCommand(cmd) {
				isInk = true
				break
			}
		}
		if isInk {
			hadInk = true
			if hookEntryEqual(entryObj, newEntry) {
				matchingInk = true
			}
			continue // strip old ink entry; re-appended below
		}
		kept = append(kept, currentEntry)
	}

	entries := append(kept, newEntry)
	if matchingInk {
		return entries, hookSkipped
	}
	if hadInk {
		return entries, hookUpdated
	}
	return entries, hookInstalled
}

func newHookInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install ink hooks into Claude settings.json",
		Long: `Installs hook entries that route every harness callback through
'ink hook forward'. Idempotent; existing non-ink hooks are preserved.

With --project <dir> the entries go into <dir>/.claude/settings.json
instead of ~/.claude/settings.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, _ := cmd.Flags().GetString("project")
			path := resolveClaudeSettingsPath(projectDir)

			settings, err := readSettings(path)
			if err != nil {
				return cmdErr(err)
			}

			hooksObj, _ := settings["hooks"].(map[string]any)
			if hooksObj == nil {
				hooksObj = map[string]any{}
			}

			var installed []string
			var updated []string
			var skipped []string

			for eventName, entry := range inkHooks() {
				existing, _ := hooksObj[eventName].([]any)

				entryJSON, _ := json.Marshal(entry)
				var entryMap map[string]any
				_ = json.Unmarshal(entryJSON, &entryMap)

				entries, outcome := upsertInkHookEntry(existing, entryMap)
				hooksObj[eventName] = entries

				switch outcome {
				case hookInstalled:
					installed = append(installed, eventName)
				case hookUpdated:
					updated = append(updated, eventName)
				case hookSkipped:
					skipped = append(skipped, eventName)
				}
			}

			settings["hooks"] = hooksObj
			if err := writeSettings(path, settings); err != nil {
				return cmdErr(err)
			}

			sort.Strings(installed)
			sort.Strings(updated)
			sort.Strings(skipped)

			type result struct {
				Message   string   `json:"message"`
				Path      string   `json:"path"`
				Installed []string `json:"installed"`
				Updated   []string `json:"updated,omitempty"`
				Skipped   []string `json:"skipped"`
			}

			msg := "hooks already installed"
			switch {
			case len(installed) > 0 && len(updated) > 0:
				msg = fmt.Sprintf("hooks installed (%d) and updated (%d)", len(installed), len(updated))
			case len(installed) > 0:
				msg = fmt.Sprintf("hooks installed (%d)", len(installed))
			case len(updated) > 0:
				msg = fmt.Sprintf("hooks updated (%d)", len(updated))
			}

			return output.PrintSuccess(result{
				Message:   msg + ". Run 'ink status' to verify.",
				Path:      path,
				Installed: installed,
				Updated:   updated,
				Skipped:   skipped,
			})
		},
	}

	return cmd
}

func newHookUninstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove ink hooks from Claude settings.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, _ := cmd.Flags().GetString("project")
			path := resolveClaudeSettingsPath(projectDir)

			settings, err := readSettings(path)
			if err != nil {
				return cmdErr(err)
			}

			type result struct {
				Path    string   `json:"path"`
				Removed []string `json:"removed"`
			}

			hooksObj, _ := settings["hooks"].(map[string]any)
			if hooksObj == nil {
				return output.PrintSuccess(result{Path: path, Removed: []string{}})
			}

			var removed []string
			for _, eventName := range inkHookEventNames() {
				entries, ok := hooksObj[eventName].([]any)
				if !ok {
					continue
				}

				var kept []any
				for _, entry := range entries {
					entryMap, ok := entry.(map[string]any)
					if !ok {
						kept = append(kept, entry)
						continue
					}
					hooks, ok := entryMap["hooks"].([]any)
					if !ok {
						kept = append(kept, entry)
						continue
					}

					isInk := false
					for _, h := range hooks {
						hMap, ok := h.(map[string]any)
						if !ok {
							continue
						}
						cmd, _ := hMap["command"].(string)
						if isInkHookCommand(cmd) {
							isInk = true
							break
						}
					}

					if !isInk {
						kept = append(kept, entry)
					}
				}

				if len(kept) != len(entries) {
					removed = append(removed, eventName)
				}

				if len(kept) == 0 {
					delete(hooksObj, eventName)
				} else {
					hooksObj[eventName] = kept
				}
			}

			settings["hooks"] = hooksObj
			if err := writeSettings(path, settings); err != nil {
				return cmdErr(err)
			}

			sort.Strings(removed)
			return output.PrintSuccess(result{Path: path, Removed: removed})
		},
	}

	return cmd
}
