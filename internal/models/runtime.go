package models

import "encoding/json"

// RuntimeEvent is the neutral representation of one harness callback. It is
// immutable once the translator builds it: the transport server owns it until
// resolution, after which subscribers hold read-only references.
type RuntimeEvent struct {
	// ID is the harness-supplied request id used for decision correlation.
	ID        string    `json:"id"`
	TS        int64     `json:"ts"`
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`

	// Derived fields, populated only for the kinds that carry them.
	ToolName  string `json:"tool_name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	AgentType string `json:"agent_type,omitempty"`

	Context EventContext     `json:"context"`
	Hints   InteractionHints `json:"hints"`
	Data    EventData        `json:"-"`

	// Raw is the untranslated harness payload, kept for the durable journal.
	Raw json.RawMessage `json:"-"`
}

// EventContext carries the harness working-state fields common to all hooks.
type EventContext struct {
	CWD            string `json:"cwd,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
}

// InteractionHints describe how the transport should treat an event: whether
// a decision is expected, how long to wait for one, and whether the event can
// block the harness at all.
type InteractionHints struct {
	ExpectsDecision  bool `json:"expects_decision"`
	DefaultTimeoutMs int  `json:"default_timeout_ms,omitempty"`
	CanBlock         bool `json:"can_block"`
}

// EventData is the kind-specific payload of a RuntimeEvent. It is a closed
// set: the translator is the only producer, and every kind maps to exactly
// one variant (UnknownData for unrecognized hooks).
type EventData interface {
	eventData()
}

// SessionStartData accompanies KindSessionStart.
type SessionStartData struct {
	// Source is one of startup, resume, clear, compact.
	Source string `json:"source"`
}

// SessionEndData accompanies KindSessionEnd.
type SessionEndData struct {
	Reason string      `json:"reason,omitempty"`
	Usage  *TokenUsage `json:"usage,omitempty"`
}

// UserPromptData accompanies KindUserPrompt.
type UserPromptData struct {
	Prompt string `json:"prompt"`
}

// ToolPreData accompanies KindToolPre.
type ToolPreData struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// ToolPostData accompanies KindToolPost.
type ToolPostData struct {
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
}

// ToolFailureData accompanies KindToolFailure.
type ToolFailureData struct {
	ToolName string `json:"tool_name"`
	Error    string `json:"error,omitempty"`
}

// PermissionRequestData accompanies KindPermissionRequest.
type PermissionRequestData struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// StopRequestData accompanies KindStopRequest.
type StopRequestData struct {
	LastAssistantMessage string      `json:"last_assistant_message,omitempty"`
	StopHookActive       bool        `json:"stop_hook_active,omitempty"`
	Usage                *TokenUsage `json:"usage,omitempty"`
}

// SubagentStartData accompanies KindSubagentStart.
type SubagentStartData struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type,omitempty"`
}

// SubagentStopData accompanies KindSubagentStop.
type SubagentStopData struct {
	AgentID              string `json:"agent_id"`
	AgentType            string `json:"agent_type,omitempty"`
	LastAssistantMessage string `json:"last_assistant_message,omitempty"`
}

// NotificationData accompanies KindNotification.
type NotificationData struct {
	Message string `json:"message"`
}

// CompactData accompanies KindCompactPre. Trigger is manual or auto.
type CompactData struct {
	Trigger string `json:"trigger,omitempty"`
}

// SetupData accompanies KindSetup.
type SetupData struct{}

// TeammateIdleData accompanies KindTeammateIdle.
type TeammateIdleData struct {
	TeammateID string `json:"teammate_id,omitempty"`
}

// TaskCompletedData accompanies KindTaskCompleted.
type TaskCompletedData struct {
	TaskID string `json:"task_id,omitempty"`
}

// ConfigChangeData accompanies KindConfigChange.
type ConfigChangeData struct {
	Source string `json:"source,omitempty"`
}

// UnknownData carries hooks the translator does not recognize. The raw
// payload is preserved verbatim so nothing is lost in the feed.
type UnknownData struct {
	SourceEventName string          `json:"source_event_name"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (SessionStartData) eventData()      {}
func (SessionEndData) eventData()        {}
func (UserPromptData) eventData()        {}
func (ToolPreData) eventData()           {}
func (ToolPostData) eventData()          {}
func (ToolFailureData) eventData()       {}
func (PermissionRequestData) eventData() {}
func (StopRequestData) eventData()       {}
func (SubagentStartData) eventData()     {}
func (SubagentStopData) eventData()      {}
func (NotificationData) eventData()      {}
func (CompactData) eventData()           {}
func (SetupData) eventData()             {}
func (TeammateIdleData) eventData()      {}
func (TaskCompletedData) eventData()     {}
func (ConfigChangeData) eventData()      {}
func (UnknownData) eventData()           {}
