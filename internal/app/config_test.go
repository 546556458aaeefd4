package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDir_UsesHomeDirectory(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("INK_CONFIG_DIR", "")

	dir, err := ConfigDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "ink"), dir)
}

func TestConfigDir_HonorsEnvOverride(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	dir := t.TempDir()
	t.Setenv("INK_CONFIG_DIR", dir)

	got, err := ConfigDir()
	require.NoError(t, err)
	require.Equal(t, dir, got)
}

func TestResolveConfigDirDetailed_PrioritizesCLIOverride(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	t.Setenv("INK_CONFIG_DIR", t.TempDir())

	override := t.TempDir()
	SetConfigDirOverride(override)

	got, source, err := ResolveConfigDirDetailed()
	require.NoError(t, err)
	require.Equal(t, override, got)
	require.Equal(t, "cli(--config-dir)", source)
}

func TestResolveConfigDirDetailed_ReportsSourceForEnv(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	dir := t.TempDir()
	t.Setenv("INK_CONFIG_DIR", dir)

	got, source, err := ResolveConfigDirDetailed()
	require.NoError(t, err)
	require.Equal(t, dir, got)
	require.Equal(t, "env(INK_CONFIG_DIR)", source)
}

func TestEnsureConfigDir_CreatesDefaultConfigOnlyWhenMissing(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("INK_CONFIG_DIR", "")

	err := EnsureConfigDir()
	require.NoError(t, err)

	dir, err := ConfigDir()
	require.NoError(t, err)

	configFile := filepath.Join(dir, "config.yaml")
	b, err := os.ReadFile(configFile)
	require.NoError(t, err)
	require.Equal(t, defaultConfig, string(b))

	custom := []byte("question_tool: PickOption\n")
	require.NoError(t, os.WriteFile(configFile, custom, 0o600))

	err = EnsureConfigDir()
	require.NoError(t, err)

	b, err = os.ReadFile(configFile)
	require.NoError(t, err)
	require.Equal(t, string(custom), string(b))
}
