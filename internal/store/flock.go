package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// acquireSessionLock takes an exclusive advisory lock on a .lock file
// adjacent to the session database and holds it for the store's lifetime.
// A second writer gets ErrSessionLocked immediately instead of blocking:
// interleaved sequence numbers from two writers would corrupt the log.
func acquireSessionLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + ".lock"
	if dir := filepath.Dir(lockPath); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // G304: lockPath derived from trusted dbPath
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrSessionLocked, lockPath)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	return f, nil
}

// releaseSessionLock releases the advisory lock and closes the file. Nil-safe.
func releaseSessionLock(f *os.File) {
	if f == nil {
		return
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}

// Locked reports whether another process holds the session lock for the
// database at dbPath. Probes with a shared non-blocking flock and releases
// immediately, so it never interferes with the writer.
func Locked(dbPath string) bool {
	f, err := os.Open(dbPath + ".lock") //nolint:gosec // G304: lockPath derived from trusted dbPath
	if err != nil {
		return false
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
		return errors.Is(err, syscall.EWOULDBLOCK)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false
}
