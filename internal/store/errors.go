package store

import "errors"

var (
	// ErrSessionLocked means another process holds the exclusive lock on a
	// session database. The caller must fail fast instead of writing.
	ErrSessionLocked = errors.New("session database locked by another process")

	// ErrStoreDegraded is returned by writes after MarkDegraded. Callers
	// treat it as a signal to skip, not as a failure.
	ErrStoreDegraded = errors.New("session store is degraded")

	// ErrSessionNotFound is returned when a session database has no session
	// row, which means it was never initialized by a writer.
	ErrSessionNotFound = errors.New("session not found")
)
