package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/ink/internal/models"
)

func TestLoadRules_MissingFileMeansNoRules(t *testing.T) {
	rules, err := LoadRules(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestSaveRules_RoundTripsInOrder(t *testing.T) {
	project := t.TempDir()
	in := []models.HookRule{
		{ID: "rule-1", ToolName: "Read", Action: models.RuleApprove, AddedBy: "user"},
		{ID: "rule-2", ToolName: "Bash*", Action: models.RuleDeny, AddedBy: "config"},
	}

	require.NoError(t, SaveRules(project, in))

	out, err := LoadRules(project)
	require.NoError(t, err)
	require.Equal(t, in, out)

	// Saving replaces the file, never appends.
	require.NoError(t, SaveRules(project, in[:1]))
	out, err = LoadRules(project)
	require.NoError(t, err)
	require.Equal(t, in[:1], out)
}

func TestLoadRules_InvalidYAMLReturnsError(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(ProjectStateDir(project), 0o750))
	require.NoError(t, os.WriteFile(RulesPath(project), []byte("rules: ["), 0o600))

	_, err := LoadRules(project)
	require.Error(t, err)
}

func TestEffectiveRules_ProjectRulesComeFirst(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("INK_CONFIG_DIR", "")

	userConfigPath := filepath.Join(home, ".config", "ink", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	cfg := "default_rules:\n  - id: rule-global\n    tool_name: Write\n    action: deny\n    added_by: config\n"
	require.NoError(t, os.WriteFile(userConfigPath, []byte(cfg), 0o600))

	project := t.TempDir()
	require.NoError(t, SaveRules(project, []models.HookRule{
		{ID: "rule-local", ToolName: "Write", Action: models.RuleApprove, AddedBy: "user"},
	}))

	rules, err := EffectiveRules(project)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "rule-local", rules[0].ID)
	require.Equal(t, "rule-global", rules[1].ID)
}
