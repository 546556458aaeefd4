package feed

import (
	"encoding/json"

	"github.com/dotcommander/ink/internal/models"
)

// Decision type values carried by permission.decision and stop.decision
// feed events.
const (
	DecisionAllow     = "allow"
	DecisionDeny      = "deny"
	DecisionBlockStop = "block"
	DecisionNoOpinion = "no_opinion"
)

// Feed event data payloads. These are the persisted, kind-specific bodies;
// they marshal into FeedEvent.Data.

type runStartData struct {
	RunID   string            `json:"run_id"`
	Trigger models.RunTrigger `json:"trigger"`
}

type runEndData struct {
	RunID    string             `json:"run_id"`
	Status   models.RunStatus   `json:"status"`
	Reason   string             `json:"reason,omitempty"`
	Counters models.RunCounters `json:"counters"`
}

type sessionStartData struct {
	Source           string `json:"source"`
	AdapterSessionID string `json:"adapter_session_id"`
}

type sessionEndData struct {
	Reason string `json:"reason,omitempty"`
}

type userPromptData struct {
	Prompt string `json:"prompt"`
}

type toolPreData struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

type toolPostData struct {
	ToolName     string          `json:"tool_name"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
}

type toolFailureData struct {
	ToolName  string `json:"tool_name"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type permissionRequestData struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

type decisionData struct {
	DecisionType string `json:"decision_type"`
	Reason       string `json:"reason,omitempty"`
}

type stopRequestData struct {
	StopHookActive bool `json:"stop_hook_active,omitempty"`
}

type subagentData struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type,omitempty"`
}

type agentMessageData struct {
	Scope   string `json:"scope"`
	Message string `json:"message"`
}

type notificationData struct {
	Message string `json:"message,omitempty"`
}

type compactData struct {
	Trigger string `json:"trigger,omitempty"`
}

type teammateIdleData struct {
	TeammateID string `json:"teammate_id,omitempty"`
}

type taskCompletedData struct {
	TaskID string `json:"task_id,omitempty"`
}

type configChangeData struct {
	Source string `json:"source,omitempty"`
}

type unknownHookData struct {
	SourceEventName string          `json:"source_event_name"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Agent message scopes.
const (
	messageScopeRoot     = "root"
	messageScopeSubagent = "subagent"
)

func marshalData(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
