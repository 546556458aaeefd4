package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dotcommander/ink/internal/models"
)

// Event payload size constraints enforced before inserts.
const (
	MaxEventKindLength    = 128
	MaxEventTitleLength   = 4096
	MaxEventPayloadLength = 1 << 20
)

// validateFeedEvent enforces feed event constraints for durability and safety.
func validateFeedEvent(fe *models.FeedEvent) error {
	if fe.ID == "" {
		return errors.New("feed event id is required")
	}
	if fe.Seq <= 0 {
		return errors.New("feed event seq must be positive")
	}
	if fe.Kind == "" {
		return errors.New("feed event kind is required")
	}
	if len(fe.Kind) > MaxEventKindLength {
		return fmt.Errorf("feed event kind exceeds max length (%d)", MaxEventKindLength)
	}
	if len(fe.Title) > MaxEventTitleLength {
		return fmt.Errorf("feed event title exceeds max length (%d)", MaxEventTitleLength)
	}
	if len(fe.Data) > MaxEventPayloadLength {
		return fmt.Errorf("feed event data exceeds max length (%d)", MaxEventPayloadLength)
	}
	if len(fe.Data) > 0 && !json.Valid(fe.Data) {
		return errors.New("feed event data must be valid JSON")
	}
	return nil
}

// insertRuntimeEventTx appends one runtime event to the journal. The log_seq
// column autoincrements, assigning the journal position.
func insertRuntimeEventTx(tx *sql.Tx, ev *models.RuntimeEvent) (int64, error) {
	if ev.ID == "" {
		return 0, errors.New("runtime event id is required")
	}
	if len(ev.Raw) > MaxEventPayloadLength {
		return 0, fmt.Errorf("runtime event payload exceeds max length (%d)", MaxEventPayloadLength)
	}

	payload := any(nil)
	if len(ev.Raw) > 0 {
		payload = string(ev.Raw)
	}

	result, err := tx.ExecContext(context.Background(), `
		INSERT INTO runtime_events (event_id, ts, kind, adapter_session_id, payload)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.TS, string(ev.Kind), ev.SessionID, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to insert runtime event: %w", err)
	}

	logSeq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return logSeq, nil
}

func insertFeedEventTx(tx *sql.Tx, fe *models.FeedEvent) error {
	if err := validateFeedEvent(fe); err != nil {
		return err
	}

	data := any(nil)
	if len(fe.Data) > 0 {
		data = string(fe.Data)
	}

	cause := any(nil)
	if fe.Cause != nil {
		encoded, err := json.Marshal(fe.Cause)
		if err != nil {
			return fmt.Errorf("failed to encode cause: %w", err)
		}
		cause = string(encoded)
	}

	ui := any(nil)
	if fe.UI != nil {
		encoded, err := json.Marshal(fe.UI)
		if err != nil {
			return fmt.Errorf("failed to encode ui hint: %w", err)
		}
		ui = string(encoded)
	}

	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO feed_events (seq, event_id, ts, adapter_session_id, run_id, kind, level, actor_id, title, data, cause, ui)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fe.Seq, fe.ID, fe.TS, fe.SessionID, fe.RunID, string(fe.Kind), string(fe.Level), fe.ActorID, fe.Title, data, cause, ui)
	if err != nil {
		return fmt.Errorf("failed to insert feed event: %w", err)
	}
	return nil
}

// scanFeedEventRows extracts the repeated 12-column feed event scan loop.
// Handles NullString decoding for data, cause, and ui.
func scanFeedEventRows(rows *sql.Rows) ([]models.FeedEvent, error) {
	var events []models.FeedEvent
	for rows.Next() {
		var fe models.FeedEvent
		var kind, level string
		var data, cause, ui sql.NullString
		if err := rows.Scan(
			&fe.Seq, &fe.ID, &fe.TS, &fe.SessionID, &fe.RunID,
			&kind, &level, &fe.ActorID, &fe.Title, &data, &cause, &ui,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feed event: %w", err)
		}
		fe.Kind = models.FeedKind(kind)
		fe.Level = models.Level(level)
		if data.Valid {
			fe.Data = json.RawMessage(data.String)
		}
		if cause.Valid {
			var c models.Cause
			if err := json.Unmarshal([]byte(cause.String), &c); err != nil {
				return nil, fmt.Errorf("failed to decode cause for %s: %w", fe.ID, err)
			}
			fe.Cause = &c
		}
		if ui.Valid {
			var hint models.UIHint
			if err := json.Unmarshal([]byte(ui.String), &hint); err != nil {
				return nil, fmt.Errorf("failed to decode ui hint for %s: %w", fe.ID, err)
			}
			fe.UI = &hint
		}
		events = append(events, fe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// loadFeedEvents returns all feed events in sequence order. Restoration
// depends on this ordering matching the original emission order exactly.
func loadFeedEvents(q Querier) ([]models.FeedEvent, error) {
	rows, err := q.Query(`
		SELECT seq, event_id, ts, adapter_session_id, run_id, kind, level, actor_id, title, data, cause, ui
		FROM feed_events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanFeedEventRows(rows)
}

// ensureAdapterSessionTx records a harness connection the first time any of
// its events is persisted. A later session.start refines the source field.
func ensureAdapterSessionTx(tx *sql.Tx, sessionID string, ev *models.RuntimeEvent) error {
	if ev.SessionID == "" {
		return nil
	}
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO adapter_sessions (id, session_id, started_at, source)
		VALUES (?, ?, ?, '')
		ON CONFLICT(id) DO NOTHING
	`, ev.SessionID, sessionID, ev.TS)
	if err != nil {
		return fmt.Errorf("failed to insert adapter session: %w", err)
	}

	if data, ok := ev.Data.(models.SessionStartData); ok && data.Source != "" {
		_, err = tx.ExecContext(context.Background(), `
			UPDATE adapter_sessions SET source = ? WHERE id = ?
		`, data.Source, ev.SessionID)
		if err != nil {
			return fmt.Errorf("failed to update adapter session source: %w", err)
		}
	}
	return nil
}
