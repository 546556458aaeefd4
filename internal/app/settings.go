package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/ink/internal/models"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	HarnessCommand    string            `yaml:"harness_command"`
	QuestionTool      string            `yaml:"question_tool"`
	DecisionTimeoutMs int               `yaml:"decision_timeout_ms"`
	StopTimeoutMs     int               `yaml:"stop_timeout_ms"`
	DefaultRules      []models.HookRule `yaml:"default_rules"`
}

// DecisionWaits are effective wait overrides for pending hook requests. A
// zero field keeps the translator's built-in default for that kind.
type DecisionWaits struct {
	Decision time.Duration `json:"decision"`
	Stop     time.Duration `json:"stop"`
}

const (
	minDecisionWait = time.Second
	maxDecisionWait = time.Hour
)

// EffectiveDecisionWaits returns validated wait overrides from config.
// Missing or unloadable config keeps the built-in defaults.
func EffectiveDecisionWaits() DecisionWaits {
	s, err := LoadSettings()
	if err != nil {
		return DecisionWaits{}
	}

	var w DecisionWaits
	if s.DecisionTimeoutMs > 0 {
		w.Decision = clampWait(time.Duration(s.DecisionTimeoutMs) * time.Millisecond)
	}
	if s.StopTimeoutMs > 0 {
		w.Stop = clampWait(time.Duration(s.StopTimeoutMs) * time.Millisecond)
	}
	return w
}

func clampWait(d time.Duration) time.Duration {
	if d < minDecisionWait {
		return minDecisionWait
	}
	if d > maxDecisionWait {
		return maxDecisionWait
	}
	return d
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// configDirOverrideMu and configDirOverride implement a mutex-protected process-wide override for CLI --config-dir.
// These globals are required by the sync.Once pattern and the RWMutex pattern; they cannot be avoided.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	configDirOverrideMu sync.RWMutex
	configDirOverride   string
)

// SetConfigDirOverride sets a process-wide config directory override.
// Intended for CLI flag support (e.g. --config-dir).
func SetConfigDirOverride(dir string) {
	configDirOverrideMu.Lock()
	configDirOverride = dir
	configDirOverrideMu.Unlock()
}

func getConfigDirOverride() string {
	configDirOverrideMu.RLock()
	v := configDirOverride
	configDirOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/ink/config.yaml (or the --config-dir / INK_CONFIG_DIR override)
// 2) /etc/ink/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		// 1) User config
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 2) /etc
		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "ink", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 3) Local ./config.yaml (lowest priority)
		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
