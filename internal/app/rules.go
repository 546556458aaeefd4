package app

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/ink/internal/models"
)

// rulesFile is the on-disk shape of rules.yaml.
type rulesFile struct {
	Rules []models.HookRule `yaml:"rules"`
}

// LoadRules reads the project rules.yaml. A missing file means no rules.
func LoadRules(projectDir string) ([]models.HookRule, error) {
	path := RulesPath(projectDir)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var f rulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f.Rules, nil
}

// SaveRules replaces the project rules.yaml. The write goes through a temp
// file and rename so readers never see a half-written rule set.
func SaveRules(projectDir string, rules []models.HookRule) error {
	if err := os.MkdirAll(ProjectStateDir(projectDir), 0750); err != nil {
		return err
	}

	b, err := yaml.Marshal(rulesFile{Rules: rules})
	if err != nil {
		return err
	}

	path := RulesPath(projectDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// EffectiveRules returns the rules a pipeline starts with: the project's
// rules.yaml followed by config default_rules. Project rules come first so
// they win ties under first-match evaluation.
func EffectiveRules(projectDir string) ([]models.HookRule, error) {
	project, err := LoadRules(projectDir)
	if err != nil {
		return nil, err
	}
	s, err := LoadSettings()
	if err != nil {
		return nil, err
	}
	return append(project, s.DefaultRules...), nil
}
