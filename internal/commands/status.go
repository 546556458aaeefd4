package commands

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/output"
	"github.com/dotcommander/ink/internal/policy"
)

// NewStatusCmd creates the status command.
//
//nolint:funlen // status display is a linear collection flow; splitting degrades readability
func NewStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ink installation status and project overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. Resolve config dir
			configDir, configSource, err := app.ResolveConfigDirDetailed()
			if err != nil {
				return cmdErr(err)
			}

			// 2. Build response structure
			type configInfo struct {
				Dir            string `json:"dir"`
				Source         string `json:"source"`
				QuestionTool   string `json:"question_tool"`
				HarnessCommand string `json:"harness_command,omitempty"`
				DecisionWaitMs int64  `json:"decision_wait_ms,omitempty"`
				StopWaitMs     int64  `json:"stop_wait_ms,omitempty"`
				DefaultRules   int    `json:"default_rules"`
				Error          string `json:"error,omitempty"`
			}

			type hooksInfo struct {
				Installed     bool            `json:"installed"`
				Events        map[string]bool `json:"events"`
				SettingsPaths []string        `json:"settings_paths,omitempty"`
			}

			type instanceInfo struct {
				Socket    string `json:"socket,omitempty"`
				Reachable *bool  `json:"reachable,omitempty"`
			}

			type projectInfo struct {
				Dir            string       `json:"dir"`
				RulesPath      string       `json:"rules_path"`
				Rules          int          `json:"rules"`
				RulesError     string       `json:"rules_error,omitempty"`
				Sessions       int          `json:"sessions"`
				ActiveSessions int          `json:"active_sessions"`
				Instance       instanceInfo `json:"instance"`
			}

			type resp struct {
				Config  configInfo  `json:"config"`
				Hooks   hooksInfo   `json:"hooks"`
				Project projectInfo `json:"project"`
			}

			result := resp{
				Config: configInfo{
					Dir:          configDir,
					Source:       configSource,
					QuestionTool: policy.DefaultQuestionTool,
				},
			}

			// 3. Settings (tolerate a broken config; status should still report)
			settings, err := app.LoadSettings()
			if err != nil {
				result.Config.Error = err.Error()
			} else {
				if settings.QuestionTool != "" {
					result.Config.QuestionTool = settings.QuestionTool
				}
				result.Config.HarnessCommand = settings.HarnessCommand
				result.Config.DefaultRules = len(settings.DefaultRules)
			}
			waits := app.EffectiveDecisionWaits()
			result.Config.DecisionWaitMs = waits.Decision.Milliseconds()
			result.Config.StopWaitMs = waits.Stop.Milliseconds()

			// 4. Check hooks
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}
			result.Hooks.Installed, result.Hooks.Events, result.Hooks.SettingsPaths = checkInkHooks(projectDir)

			// 5. Project state
			result.Project.Dir = projectDir
			result.Project.RulesPath = app.RulesPath(projectDir)
			if rules, rulesErr := app.LoadRules(projectDir); rulesErr != nil {
				result.Project.RulesError = rulesErr.Error()
			} else {
				result.Project.Rules = len(rules)
			}

			if sessions, sessErr := listSessions(projectDir); sessErr == nil {
				result.Project.Sessions = len(sessions)
				for _, s := range sessions {
					if s.Active {
						result.Project.ActiveSessions++
					}
				}
			}

			// 6. Running instance
			if socket, sockErr := app.DiscoverSocket(projectDir); sockErr == nil {
				result.Project.Instance.Socket = socket
				if check {
					reachable := dialCheck(socket)
					result.Project.Instance.Reachable = &reachable
				}
			}

			return output.PrintSuccess(result)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Dial the instance socket to verify it is accepting connections")
	return cmd
}

// dialCheck verifies the socket accepts connections. A stale socket file left
// by a crashed instance fails here.
func dialCheck(socket string) bool {
	conn, err := net.DialTimeout("unix", socket, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// checkInkHooks reports whether ink hooks are installed in Claude settings.
func checkInkHooks(projectDir string) (bool, map[string]bool, []string) {
	paths := []string{claudeSettingsPath()}
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ".claude", "settings.json"))
	}

	events := make(map[string]bool)
	for _, name := range inkHookEventNames() {
		events[name] = false
	}

	foundPaths := make([]string, 0, len(paths))
	installedAny := false

	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // G304: settings path is derived, not user-controlled input
		if err != nil {
			continue
		}
		foundPaths = append(foundPaths, path)

		var settings struct {
			Hooks map[string][]any `json:"hooks"`
		}
		if err := json.Unmarshal(data, &settings); err != nil {
			continue
		}

		for eventName, entries := range settings.Hooks {
			if !hasInkHook(entries) {
				continue
			}
			installedAny = true
			events[eventName] = true
		}
	}

	sort.Strings(foundPaths)
	return installedAny, events, foundPaths
}

func hasInkHook(entries []any) bool {
	for _, entry := range entries {
		entryMap, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		hooks, ok := entryMap["hooks"].([]any)
		if !ok {
			continue
		}
		for _, h := range hooks {
			hMap, ok := h.(map[string]any)
			if !ok {
				continue
			}
			cmd, _ := hMap["command"].(string)
			if isInkHookCommand(cmd) {
				return true
			}
		}
	}
	return false
}
