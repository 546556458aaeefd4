package models

import "encoding/json"

// Level is the severity of a feed event.
type Level string

// Severity constants.
const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// FeedEvent is one persisted timeline entry. Feed events are append-only:
// once emitted they are never mutated, and their sequence numbers are unique
// and strictly increasing for the lifetime of a session, including across
// restarts (the mapper reseeds from the stored high-water mark).
type FeedEvent struct {
	ID        string   `json:"id"`
	Seq       int64    `json:"seq"`
	TS        int64    `json:"ts"`
	SessionID string   `json:"session_id"`
	RunID     string   `json:"run_id,omitempty"`
	Kind      FeedKind `json:"kind"`
	Level     Level    `json:"level"`
	ActorID   string   `json:"actor_id,omitempty"`
	Title     string   `json:"title"`
	Data      json.RawMessage `json:"data,omitempty"`
	Cause     *Cause          `json:"cause,omitempty"`
	UI        *UIHint         `json:"ui,omitempty"`
}

// Cause links a feed event to what produced it.
type Cause struct {
	ParentEventID string `json:"parent_event_id,omitempty"`
	HookRequestID string `json:"hook_request_id,omitempty"`
	ToolUseID     string `json:"tool_use_id,omitempty"`
}

// UIHint carries presentation defaults for consumers.
type UIHint struct {
	CollapsedDefault bool `json:"collapsed_default,omitempty"`
}

// RunStatus is the terminal (or live) state of a run.
type RunStatus string

// Run status constants.
const (
	RunActive     RunStatus = "active"
	RunCompleted  RunStatus = "completed"
	RunAborted    RunStatus = "aborted"
	RunSuperseded RunStatus = "superseded"
)

// IsTerminal returns true once a run has closed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunAborted || s == RunSuperseded
}

// RunTrigger records what opened a run.
type RunTrigger struct {
	Type          string `json:"type"`
	PromptPreview string `json:"prompt_preview,omitempty"`
}

// RunCounters accumulate per-run activity.
type RunCounters struct {
	ToolUses           int `json:"tool_uses"`
	PermissionRequests int `json:"permission_requests"`
}

// Run is one harness turn: open while the harness works, closed with a
// terminal status. Run ids are "R<index>" and indices never repeat within a
// session, including after a bootstrap.
type Run struct {
	ID        string      `json:"id"`
	Index     int         `json:"index"`
	Trigger   RunTrigger  `json:"trigger"`
	Status    RunStatus   `json:"status"`
	StartedAt int64       `json:"started_at"`
	EndedAt   int64       `json:"ended_at,omitempty"`
	Counters  RunCounters `json:"counters"`
}

// Session is one control-plane lifetime. It may span several adapter
// sessions (harness processes) and any number of runs.
type Session struct {
	ID                string   `json:"id"`
	ProjectDir        string   `json:"project_dir"`
	CreatedAt         int64    `json:"created_at"`
	AdapterSessionIDs []string `json:"adapter_session_ids"`
}

// AdapterSession is one harness process/connection lifetime.
type AdapterSession struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	StartedAt int64      `json:"started_at"`
	Source    string     `json:"source,omitempty"`
	Tokens    TokenUsage `json:"tokens"`
}

// TokenUsage holds token counters for one adapter session. ContextSize is a
// point-in-time figure, not a counter: on restore it is taken from the most
// recently started adapter session, never summed.
type TokenUsage struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	CacheReadTokens int64 `json:"cache_read_tokens"`
	ContextSize     int64 `json:"context_size"`
}

// Add accumulates the counters of other into u. ContextSize is replaced,
// not summed.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	if other.ContextSize != 0 {
		u.ContextSize = other.ContextSize
	}
}

// IsZero reports whether no usage was recorded.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.CacheReadTokens == 0 && u.ContextSize == 0
}
