package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Per-project state lives under {projectDir}/.ink: run/ holds one socket per
// running instance, sessions/ holds one store file per session, rules.yaml
// holds the project's hook rules.

// ProjectStateDir returns the root of a project's state directory.
func ProjectStateDir(projectDir string) string {
	return filepath.Join(projectDir, ".ink")
}

// RunDir returns the directory holding instance sockets.
func RunDir(projectDir string) string {
	return filepath.Join(ProjectStateDir(projectDir), "run")
}

// SocketPath returns the socket for one instance. A non-positive instanceID
// selects the current process id.
func SocketPath(projectDir string, instanceID int) string {
	if instanceID <= 0 {
		instanceID = os.Getpid()
	}
	return filepath.Join(RunDir(projectDir), fmt.Sprintf("ink-%d.sock", instanceID))
}

// SessionsDir returns the directory holding session store files.
func SessionsDir(projectDir string) string {
	return filepath.Join(ProjectStateDir(projectDir), "sessions")
}

// SessionDBPath returns the store file for one session.
func SessionDBPath(projectDir, sessionID string) string {
	return filepath.Join(SessionsDir(projectDir), sessionID+".db")
}

// RulesPath returns the project rules file.
func RulesPath(projectDir string) string {
	return filepath.Join(ProjectStateDir(projectDir), "rules.yaml")
}

// EnsureProjectDirs creates the run and sessions directories.
func EnsureProjectDirs(projectDir string) error {
	for _, dir := range []string{RunDir(projectDir), SessionsDir(projectDir)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ErrNoSocket reports that no instance socket exists for a project.
var ErrNoSocket = errors.New("no instance socket found")

// DiscoverSocket picks the most recently created instance socket under the
// project run directory. Hook processes use it when no explicit socket path
// was given.
func DiscoverSocket(projectDir string) (string, error) {
	entries, err := os.ReadDir(RunDir(projectDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoSocket
		}
		return "", err
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "ink-") || !strings.HasSuffix(name, ".sock") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = name
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", ErrNoSocket
	}
	return filepath.Join(RunDir(projectDir), newest), nil
}
