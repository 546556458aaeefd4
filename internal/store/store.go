// Package store persists one session's event log in a SQLite database.
// A session database has exactly one writer, enforced by an advisory lock
// held for the store's lifetime. Runtime events and their derived feed
// events are appended in a single transaction so a crash never leaves the
// journal and the timeline disagreeing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dotcommander/ink/internal/feed"
	"github.com/dotcommander/ink/internal/models"
)

// SessionStore is the durable, single-writer log for one session.
type SessionStore struct {
	db        *sql.DB
	dbPath    string
	sessionID string
	lock      *os.File

	mu             sync.Mutex
	degraded       bool
	degradedReason string
}

// RestoredSession is everything persisted for a session, feed events in
// sequence order.
type RestoredSession struct {
	Session         models.Session
	AdapterSessions []models.AdapterSession
	FeedEvents      []models.FeedEvent
	EventCount      int64
}

// Open opens (or creates) the session database at dbPath and acquires the
// exclusive session lock. A second writer gets ErrSessionLocked without
// blocking. The session row is created on first open and left untouched on
// reopen, preserving created_at across resumes.
func Open(dbPath, sessionID, projectDir string) (*SessionStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	lock, err := acquireSessionLock(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		releaseSessionLock(lock)
		return nil, err
	}

	s := &SessionStore{
		db:        db,
		dbPath:    dbPath,
		sessionID: sessionID,
		lock:      lock,
	}

	if err := Transact(db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(), `
			INSERT INTO sessions (id, project_dir, created_at, event_count)
			VALUES (?, ?, ?, 0)
			ON CONFLICT(id) DO NOTHING
		`, sessionID, projectDir, time.Now().UnixMilli())
		return err
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("init session row: %w", err)
	}

	return s, nil
}

// SessionID returns the owning session id.
func (s *SessionStore) SessionID() string { return s.sessionID }

// Path returns the database file path.
func (s *SessionStore) Path() string { return s.dbPath }

// DB exposes the underlying handle for schema inspection.
func (s *SessionStore) DB() *sql.DB { return s.db }

// RecordEvent appends one runtime event and its derived feed events in a
// single transaction, and bumps the session event counter. Returns
// ErrStoreDegraded without touching storage once the store is degraded.
func (s *SessionStore) RecordEvent(ev *models.RuntimeEvent, feedEvents []models.FeedEvent) error {
	if s.isDegraded() {
		return ErrStoreDegraded
	}
	return Transact(s.db, func(tx *sql.Tx) error {
		if err := ensureAdapterSessionTx(tx, s.sessionID, ev); err != nil {
			return err
		}
		if _, err := insertRuntimeEventTx(tx, ev); err != nil {
			return err
		}
		for i := range feedEvents {
			if err := insertFeedEventTx(tx, &feedEvents[i]); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(context.Background(), `
			UPDATE sessions SET event_count = event_count + 1 WHERE id = ?
		`, s.sessionID); err != nil {
			return fmt.Errorf("failed to bump event count: %w", err)
		}
		return nil
	})
}

// RecordFeedEvents appends feed events that have no originating runtime
// event (decision events) with the same atomicity as RecordEvent.
func (s *SessionStore) RecordFeedEvents(feedEvents []models.FeedEvent) error {
	if len(feedEvents) == 0 {
		return nil
	}
	if s.isDegraded() {
		return ErrStoreDegraded
	}
	return Transact(s.db, func(tx *sql.Tx) error {
		for i := range feedEvents {
			if err := insertFeedEventTx(tx, &feedEvents[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordTokens adds usage counters to an adapter session. Input, output,
// and cache-read tokens accumulate; context size is a point-in-time figure
// and is replaced, not summed. A zero context size leaves the stored value.
func (s *SessionStore) RecordTokens(adapterSessionID string, usage models.TokenUsage) error {
	if adapterSessionID == "" || usage.IsZero() {
		return nil
	}
	if s.isDegraded() {
		return ErrStoreDegraded
	}
	return Transact(s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(context.Background(), `
			INSERT INTO adapter_sessions (id, session_id, started_at, source)
			VALUES (?, ?, ?, '')
			ON CONFLICT(id) DO NOTHING
		`, adapterSessionID, s.sessionID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to ensure adapter session: %w", err)
		}
		_, err := tx.ExecContext(context.Background(), `
			UPDATE adapter_sessions
			SET input_tokens = input_tokens + ?,
			    output_tokens = output_tokens + ?,
			    cache_read_tokens = cache_read_tokens + ?,
			    context_size = CASE WHEN ? > 0 THEN ? ELSE context_size END
			WHERE id = ?
		`, usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens,
			usage.ContextSize, usage.ContextSize, adapterSessionID)
		if err != nil {
			return fmt.Errorf("failed to record tokens: %w", err)
		}
		return nil
	})
}

// RestoredTokens returns session-wide usage: token counters summed across
// all adapter sessions, context size taken from the most recently started
// adapter session.
func (s *SessionStore) RestoredTokens() (models.TokenUsage, error) {
	var usage models.TokenUsage
	err := RetryWithBackoff(func() error {
		row := s.db.QueryRowContext(context.Background(), `
			SELECT COALESCE(SUM(input_tokens), 0),
			       COALESCE(SUM(output_tokens), 0),
			       COALESCE(SUM(cache_read_tokens), 0)
			FROM adapter_sessions
		`)
		if err := row.Scan(&usage.InputTokens, &usage.OutputTokens, &usage.CacheReadTokens); err != nil {
			return fmt.Errorf("failed to sum tokens: %w", err)
		}

		row = s.db.QueryRowContext(context.Background(), `
			SELECT context_size FROM adapter_sessions
			ORDER BY started_at DESC, id DESC
			LIMIT 1
		`)
		if err := row.Scan(&usage.ContextSize); err != nil {
			if err == sql.ErrNoRows {
				usage.ContextSize = 0
				return nil
			}
			return fmt.Errorf("failed to read context size: %w", err)
		}
		return nil
	})
	return usage, err
}

// Restore loads the full stored session: metadata, adapter sessions in
// start order, and all feed events in sequence order.
func (s *SessionStore) Restore() (*RestoredSession, error) {
	var restored RestoredSession
	err := RetryWithBackoff(func() error {
		row := s.db.QueryRowContext(context.Background(), `
			SELECT id, project_dir, created_at, event_count FROM sessions WHERE id = ?
		`, s.sessionID)
		if err := row.Scan(&restored.Session.ID, &restored.Session.ProjectDir,
			&restored.Session.CreatedAt, &restored.EventCount); err != nil {
			if err == sql.ErrNoRows {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to read session row: %w", err)
		}

		adapters, err := loadAdapterSessions(s.db)
		if err != nil {
			return err
		}
		restored.AdapterSessions = adapters
		restored.Session.AdapterSessionIDs = make([]string, 0, len(adapters))
		for _, a := range adapters {
			restored.Session.AdapterSessionIDs = append(restored.Session.AdapterSessionIDs, a.ID)
		}

		events, err := loadFeedEvents(s.db)
		if err != nil {
			return err
		}
		restored.FeedEvents = events
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &restored, nil
}

// ToBootstrap returns the minimal subset the feed mapper needs to resume.
func (s *SessionStore) ToBootstrap() (feed.Bootstrap, error) {
	restored, err := s.Restore()
	if err != nil {
		return feed.Bootstrap{}, err
	}
	return feed.Bootstrap{
		SessionID:         restored.Session.ID,
		CreatedAt:         restored.Session.CreatedAt,
		AdapterSessionIDs: restored.Session.AdapterSessionIDs,
		FeedEvents:        restored.FeedEvents,
	}, nil
}

// MarkDegraded flips the store into a non-durable mode after a write
// failure. Subsequent writes return ErrStoreDegraded; the in-memory
// pipeline keeps running without durability.
func (s *SessionStore) MarkDegraded(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return
	}
	s.degraded = true
	s.degradedReason = reason
}

// Degraded reports whether the store is degraded, and why.
func (s *SessionStore) Degraded() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded, s.degradedReason
}

func (s *SessionStore) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Close closes the database and releases the session lock. Safe on a nil
// store so teardown paths need no store-presence checks.
func (s *SessionStore) Close() {
	if s == nil {
		return
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	releaseSessionLock(s.lock)
	s.lock = nil
}

func loadAdapterSessions(q Querier) ([]models.AdapterSession, error) {
	rows, err := q.Query(`
		SELECT id, session_id, started_at, source, input_tokens, output_tokens, cache_read_tokens, context_size
		FROM adapter_sessions
		ORDER BY started_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch adapter sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.AdapterSession
	for rows.Next() {
		var a models.AdapterSession
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StartedAt, &a.Source,
			&a.Tokens.InputTokens, &a.Tokens.OutputTokens,
			&a.Tokens.CacheReadTokens, &a.Tokens.ContextSize); err != nil {
			return nil, fmt.Errorf("failed to scan adapter session: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
