package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/ink/internal/models"
)

func testStore(t *testing.T) *SessionStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "ses_test.db"), "ses_test", "/tmp/project")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func storeRuntimeEvent(id string, kind models.EventKind, adapterID string) *models.RuntimeEvent {
	return &models.RuntimeEvent{
		ID:        id,
		TS:        1_700_000_000_000,
		Kind:      kind,
		SessionID: adapterID,
		Raw:       json.RawMessage(`{"source":"startup"}`),
	}
}

func storeFeedEvent(seq int64, kind models.FeedKind) models.FeedEvent {
	return models.FeedEvent{
		ID:        fmt.Sprintf("evt_%04d", seq),
		Seq:       seq,
		TS:        1_700_000_000_000 + seq,
		SessionID: "adapter-1",
		RunID:     "R1",
		Kind:      kind,
		Level:     models.LevelInfo,
		ActorID:   models.ActorSystem,
		Title:     string(kind),
		Data:      json.RawMessage(`{"x":1}`),
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := testStore(t)

	for _, table := range []string{"sessions", "adapter_sessions", "runtime_events", "feed_events"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}

	var journalMode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)
}

func TestSecondWriterFailsFast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ses_test.db")

	first, err := Open(path, "ses_test", "")
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(path, "ses_test", "")
	require.ErrorIs(t, err, ErrSessionLocked)
}

func TestReopenAfterCloseSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ses_test.db")

	first, err := Open(path, "ses_test", "/tmp/project")
	require.NoError(t, err)
	firstRestore, err := first.Restore()
	require.NoError(t, err)
	first.Close()

	second, err := Open(path, "ses_test", "/tmp/project")
	require.NoError(t, err)
	defer second.Close()

	secondRestore, err := second.Restore()
	require.NoError(t, err)
	require.Equal(t, firstRestore.Session.CreatedAt, secondRestore.Session.CreatedAt,
		"created_at must survive reopen")
}

func TestRecordEventDualWrite(t *testing.T) {
	s := testStore(t)

	ev := storeRuntimeEvent("req_1", models.KindSessionStart, "adapter-1")
	ev.Data = models.SessionStartData{Source: "startup"}
	feedEvents := []models.FeedEvent{storeFeedEvent(1, models.FeedSessionStart)}

	require.NoError(t, s.RecordEvent(ev, feedEvents))

	restored, err := s.Restore()
	require.NoError(t, err)
	require.Equal(t, int64(1), restored.EventCount)
	require.Len(t, restored.FeedEvents, 1)
	require.Equal(t, models.FeedSessionStart, restored.FeedEvents[0].Kind)
	require.Equal(t, []string{"adapter-1"}, restored.Session.AdapterSessionIDs)
	require.Equal(t, "startup", restored.AdapterSessions[0].Source)

	var payload string
	require.NoError(t, s.DB().QueryRow(
		"SELECT payload FROM runtime_events WHERE event_id = ?", "req_1").Scan(&payload))
	require.JSONEq(t, `{"source":"startup"}`, payload)
}

func TestRecordEventRollsBackAsOne(t *testing.T) {
	s := testStore(t)

	ev := storeRuntimeEvent("req_1", models.KindToolPre, "adapter-1")
	bad := storeFeedEvent(1, models.FeedToolPre)
	bad.ID = ""

	err := s.RecordEvent(ev, []models.FeedEvent{bad})
	require.Error(t, err)

	var runtimeCount, feedCount, eventCount int64
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM runtime_events").Scan(&runtimeCount))
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM feed_events").Scan(&feedCount))
	require.NoError(t, s.DB().QueryRow("SELECT event_count FROM sessions WHERE id = 'ses_test'").Scan(&eventCount))
	require.Zero(t, runtimeCount, "runtime event must roll back with its feed events")
	require.Zero(t, feedCount)
	require.Zero(t, eventCount)
}

func TestRecordFeedEventsWithoutRuntimeEvent(t *testing.T) {
	s := testStore(t)

	decision := storeFeedEvent(7, models.FeedPermissionDecision)
	decision.Cause = &models.Cause{ParentEventID: "evt_0001", HookRequestID: "req_1"}
	require.NoError(t, s.RecordFeedEvents([]models.FeedEvent{decision}))

	restored, err := s.Restore()
	require.NoError(t, err)
	require.Len(t, restored.FeedEvents, 1)
	require.NotNil(t, restored.FeedEvents[0].Cause)
	require.Equal(t, "evt_0001", restored.FeedEvents[0].Cause.ParentEventID)
	require.Zero(t, restored.EventCount, "feed-only writes must not bump the event counter")
}

func TestRestoreOrdersBySequence(t *testing.T) {
	s := testStore(t)

	// Insert out of order; restoration must come back in seq order.
	require.NoError(t, s.RecordFeedEvents([]models.FeedEvent{storeFeedEvent(5, models.FeedToolPost)}))
	require.NoError(t, s.RecordFeedEvents([]models.FeedEvent{storeFeedEvent(2, models.FeedRunStart)}))
	require.NoError(t, s.RecordFeedEvents([]models.FeedEvent{storeFeedEvent(3, models.FeedToolPre)}))

	restored, err := s.Restore()
	require.NoError(t, err)
	require.Len(t, restored.FeedEvents, 3)
	require.Equal(t, int64(2), restored.FeedEvents[0].Seq)
	require.Equal(t, int64(3), restored.FeedEvents[1].Seq)
	require.Equal(t, int64(5), restored.FeedEvents[2].Seq)
}

func TestDuplicateSequenceRejected(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.RecordFeedEvents([]models.FeedEvent{storeFeedEvent(1, models.FeedRunStart)}))

	dup := storeFeedEvent(1, models.FeedUserPrompt)
	dup.ID = "evt_other"
	require.Error(t, s.RecordFeedEvents([]models.FeedEvent{dup}))
}

func TestDegradedModeStopsWrites(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.RecordFeedEvents([]models.FeedEvent{storeFeedEvent(1, models.FeedRunStart)}))

	s.MarkDegraded("disk full")
	degraded, reason := s.Degraded()
	require.True(t, degraded)
	require.Equal(t, "disk full", reason)

	err := s.RecordEvent(storeRuntimeEvent("req_9", models.KindToolPre, "adapter-1"),
		[]models.FeedEvent{storeFeedEvent(2, models.FeedToolPre)})
	require.ErrorIs(t, err, ErrStoreDegraded)
	require.ErrorIs(t, s.RecordFeedEvents([]models.FeedEvent{storeFeedEvent(3, models.FeedToolPost)}), ErrStoreDegraded)
	require.ErrorIs(t, s.RecordTokens("adapter-1", models.TokenUsage{InputTokens: 1}), ErrStoreDegraded)

	// First reason wins.
	s.MarkDegraded("later failure")
	_, reason = s.Degraded()
	require.Equal(t, "disk full", reason)

	restored, err := s.Restore()
	require.NoError(t, err)
	require.Len(t, restored.FeedEvents, 1, "no writes after degradation")
}

func TestTokenAccounting(t *testing.T) {
	s := testStore(t)

	first := storeRuntimeEvent("req_1", models.KindSessionStart, "adapter-1")
	first.TS = 1000
	first.Data = models.SessionStartData{Source: "startup"}
	require.NoError(t, s.RecordEvent(first, nil))

	second := storeRuntimeEvent("req_2", models.KindSessionStart, "adapter-2")
	second.TS = 2000
	second.Data = models.SessionStartData{Source: "resume"}
	require.NoError(t, s.RecordEvent(second, nil))

	require.NoError(t, s.RecordTokens("adapter-1", models.TokenUsage{
		InputTokens: 100, OutputTokens: 50, CacheReadTokens: 10, ContextSize: 1000,
	}))
	require.NoError(t, s.RecordTokens("adapter-1", models.TokenUsage{
		InputTokens: 20, OutputTokens: 5,
	}))
	require.NoError(t, s.RecordTokens("adapter-2", models.TokenUsage{
		InputTokens: 30, ContextSize: 500,
	}))

	usage, err := s.RestoredTokens()
	require.NoError(t, err)
	require.Equal(t, int64(150), usage.InputTokens)
	require.Equal(t, int64(55), usage.OutputTokens)
	require.Equal(t, int64(10), usage.CacheReadTokens)
	require.Equal(t, int64(500), usage.ContextSize,
		"context size comes from the latest adapter session, not a sum")

	// Zero usage is a no-op, zero context size preserves the stored figure.
	require.NoError(t, s.RecordTokens("adapter-2", models.TokenUsage{}))
	require.NoError(t, s.RecordTokens("adapter-2", models.TokenUsage{InputTokens: 1}))
	usage, err = s.RestoredTokens()
	require.NoError(t, err)
	require.Equal(t, int64(500), usage.ContextSize)
}

func TestToBootstrap(t *testing.T) {
	s := testStore(t)

	ev := storeRuntimeEvent("req_1", models.KindSessionStart, "adapter-1")
	ev.Data = models.SessionStartData{Source: "startup"}
	require.NoError(t, s.RecordEvent(ev, []models.FeedEvent{
		storeFeedEvent(1, models.FeedSessionStart),
		storeFeedEvent(2, models.FeedRunStart),
	}))

	b, err := s.ToBootstrap()
	require.NoError(t, err)
	require.Equal(t, "ses_test", b.SessionID)
	require.NotZero(t, b.CreatedAt)
	require.Equal(t, []string{"adapter-1"}, b.AdapterSessionIDs)
	require.Len(t, b.FeedEvents, 2)
	require.Equal(t, int64(1), b.FeedEvents[0].Seq)
}

func TestReadOnlyInspection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ses_test.db")

	s, err := Open(path, "ses_test", "/tmp/project")
	require.NoError(t, err)
	require.NoError(t, s.RecordEvent(
		storeRuntimeEvent("req_1", models.KindSessionStart, "adapter-1"),
		[]models.FeedEvent{storeFeedEvent(1, models.FeedSessionStart)},
	))

	// Inspection works while the writer still holds the lock.
	summary, err := ReadSessionSummary(path)
	require.NoError(t, err)
	require.Equal(t, "ses_test", summary.ID)
	require.Equal(t, int64(1), summary.EventCount)
	require.Equal(t, int64(1), summary.LastSeq)

	full, err := ReadSession(path)
	require.NoError(t, err)
	require.Len(t, full.FeedEvents, 1)
	s.Close()

	sessions, err := ListSessions(dir)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "ses_test", sessions[0].ID)
}

func TestListSessionsMissingDir(t *testing.T) {
	sessions, err := ListSessions(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Nil(t, sessions)
}
