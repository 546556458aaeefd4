package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SessionSummary is the read-only listing view of one session database.
type SessionSummary struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	ProjectDir  string `json:"project_dir"`
	CreatedAt   int64  `json:"created_at"`
	EventCount  int64  `json:"event_count"`
	FeedEvents  int64  `json:"feed_events"`
	LastSeq     int64  `json:"last_seq"`
	LastEventAt int64  `json:"last_event_at"`
}

// ListSessions inspects every session database under dir with non-exclusive
// read-only connections. Databases that cannot be read (corrupt, mid-write
// on a non-WAL filesystem) are skipped rather than failing the listing.
func ListSessions(dir string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var out []SessionSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		summary, err := ReadSessionSummary(path)
		if err != nil {
			continue
		}
		out = append(out, *summary)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastEventAt != out[j].LastEventAt {
			return out[i].LastEventAt > out[j].LastEventAt
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out, nil
}

// ReadSessionSummary reads one session database's metadata without taking
// the writer lock.
func ReadSessionSummary(dbPath string) (*SessionSummary, error) {
	db, err := openDatabaseReadOnly(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	summary := SessionSummary{Path: dbPath}
	row := db.QueryRowContext(context.Background(), `
		SELECT id, project_dir, created_at, event_count FROM sessions LIMIT 1
	`)
	if err := row.Scan(&summary.ID, &summary.ProjectDir, &summary.CreatedAt, &summary.EventCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session row: %w", err)
	}

	row = db.QueryRowContext(context.Background(), `
		SELECT COUNT(*), COALESCE(MAX(seq), 0), COALESCE(MAX(ts), 0) FROM feed_events
	`)
	if err := row.Scan(&summary.FeedEvents, &summary.LastSeq, &summary.LastEventAt); err != nil {
		return nil, fmt.Errorf("read feed stats: %w", err)
	}

	return &summary, nil
}

// ReadSession loads a full session read-only for inspection. The writer,
// if any, is unaffected.
func ReadSession(dbPath string) (*RestoredSession, error) {
	db, err := openDatabaseReadOnly(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var restored RestoredSession
	row := db.QueryRowContext(context.Background(), `
		SELECT id, project_dir, created_at, event_count FROM sessions LIMIT 1
	`)
	if err := row.Scan(&restored.Session.ID, &restored.Session.ProjectDir,
		&restored.Session.CreatedAt, &restored.EventCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session row: %w", err)
	}

	adapters, err := loadAdapterSessions(db)
	if err != nil {
		return nil, err
	}
	restored.AdapterSessions = adapters
	for _, a := range adapters {
		restored.Session.AdapterSessionIDs = append(restored.Session.AdapterSessionIDs, a.ID)
	}

	events, err := loadFeedEvents(db)
	if err != nil {
		return nil, err
	}
	restored.FeedEvents = events
	return &restored, nil
}
