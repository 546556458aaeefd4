package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/dotcommander/ink/internal/models"
)

// hookEventKinds maps harness hook names to neutral kinds. Names not listed
// translate to KindUnknown and survive as raw payloads in the feed.
var hookEventKinds = map[string]models.EventKind{
	"SessionStart":       models.KindSessionStart,
	"SessionEnd":         models.KindSessionEnd,
	"UserPromptSubmit":   models.KindUserPrompt,
	"PreToolUse":         models.KindToolPre,
	"PostToolUse":        models.KindToolPost,
	"PostToolUseFailure": models.KindToolFailure,
	"PermissionRequest":  models.KindPermissionRequest,
	"Stop":               models.KindStopRequest,
	"SubagentStart":      models.KindSubagentStart,
	"SubagentStop":       models.KindSubagentStop,
	"Notification":       models.KindNotification,
	"PreCompact":         models.KindCompactPre,
	"Setup":              models.KindSetup,
	"TeammateIdle":       models.KindTeammateIdle,
	"TaskCompleted":      models.KindTaskCompleted,
	"ConfigChange":       models.KindConfigChange,
}

var hookEventNames = func() map[models.EventKind]string {
	names := make(map[models.EventKind]string, len(hookEventKinds))
	for name, kind := range hookEventKinds {
		names[kind] = name
	}
	return names
}()

// KindForHookEvent maps a hook_event_name to its neutral kind.
func KindForHookEvent(name string) models.EventKind {
	if kind, ok := hookEventKinds[name]; ok {
		return kind
	}
	return models.KindUnknown
}

// HookEventNameFor is the reverse mapping, used when rendering responses.
// Unknown kinds have no fixed name; callers fall back to the original.
func HookEventNameFor(kind models.EventKind) string {
	return hookEventNames[kind]
}

// hookPayload mirrors the superset of fields harness hooks put in their
// payload objects. Only the fields relevant to the envelope's kind are read.
type hookPayload struct {
	CWD            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	PermissionMode string `json:"permission_mode"`

	Source               string          `json:"source"`
	Reason               string          `json:"reason"`
	Prompt               string          `json:"prompt"`
	ToolName             string          `json:"tool_name"`
	ToolUseID            string          `json:"tool_use_id"`
	ToolInput            json.RawMessage `json:"tool_input"`
	ToolResponse         json.RawMessage `json:"tool_response"`
	Error                string          `json:"error"`
	AgentID              string          `json:"agent_id"`
	AgentType            string          `json:"agent_type"`
	LastAssistantMessage string          `json:"last_assistant_message"`
	StopHookActive       bool            `json:"stop_hook_active"`
	Message              string          `json:"message"`
	Trigger              string          `json:"trigger"`
	TeammateID           string          `json:"teammate_id"`
	TaskID               string          `json:"task_id"`
	Usage                *usagePayload   `json:"usage"`
}

type usagePayload struct {
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
	CacheReadInputTokens int64 `json:"cache_read_input_tokens"`
	ContextSize          int64 `json:"context_size"`
}

func (u *usagePayload) toTokenUsage() *models.TokenUsage {
	if u == nil {
		return nil
	}
	usage := &models.TokenUsage{
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		CacheReadTokens: u.CacheReadInputTokens,
		ContextSize:     u.ContextSize,
	}
	if usage.IsZero() {
		return nil
	}
	return usage
}

// Translate converts a validated request envelope into a neutral runtime
// event: id/timestamp/session id verbatim, kind from hook_event_name,
// derived tool/agent fields for the kinds that carry them, a typed data
// variant, and interaction hints from the static table.
func Translate(req *Request) (*models.RuntimeEvent, error) {
	var p hookPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: payload decode: %v", ErrInvalidEnvelope, err)
		}
	}

	kind := KindForHookEvent(req.HookEventName)
	ev := &models.RuntimeEvent{
		ID:        req.RequestID,
		TS:        req.TS,
		Kind:      kind,
		SessionID: req.SessionID,
		Context: models.EventContext{
			CWD:            p.CWD,
			TranscriptPath: p.TranscriptPath,
			PermissionMode: p.PermissionMode,
		},
		Hints: HintsFor(kind),
		Raw:   req.Payload,
	}

	if kind.IsToolShaped() {
		ev.ToolName = p.ToolName
		ev.ToolUseID = p.ToolUseID
	}

	switch kind {
	case models.KindSessionStart:
		ev.Data = models.SessionStartData{Source: p.Source}
	case models.KindSessionEnd:
		ev.Data = models.SessionEndData{Reason: p.Reason, Usage: p.Usage.toTokenUsage()}
	case models.KindUserPrompt:
		ev.Data = models.UserPromptData{Prompt: p.Prompt}
	case models.KindToolPre:
		ev.Data = models.ToolPreData{ToolName: p.ToolName, ToolInput: p.ToolInput}
	case models.KindToolPost:
		ev.Data = models.ToolPostData{ToolName: p.ToolName, ToolInput: p.ToolInput, ToolResponse: p.ToolResponse}
	case models.KindToolFailure:
		ev.Data = models.ToolFailureData{ToolName: p.ToolName, Error: p.Error}
	case models.KindPermissionRequest:
		ev.Data = models.PermissionRequestData{ToolName: p.ToolName, ToolInput: p.ToolInput}
	case models.KindStopRequest:
		ev.Data = models.StopRequestData{
			LastAssistantMessage: p.LastAssistantMessage,
			StopHookActive:       p.StopHookActive,
			Usage:                p.Usage.toTokenUsage(),
		}
	case models.KindSubagentStart:
		ev.AgentID = p.AgentID
		ev.AgentType = p.AgentType
		ev.Data = models.SubagentStartData{AgentID: p.AgentID, AgentType: p.AgentType}
	case models.KindSubagentStop:
		ev.AgentID = p.AgentID
		ev.AgentType = p.AgentType
		ev.Data = models.SubagentStopData{
			AgentID:              p.AgentID,
			AgentType:            p.AgentType,
			LastAssistantMessage: p.LastAssistantMessage,
		}
	case models.KindNotification:
		ev.Data = models.NotificationData{Message: p.Message}
	case models.KindCompactPre:
		ev.Data = models.CompactData{Trigger: p.Trigger}
	case models.KindSetup:
		ev.Data = models.SetupData{}
	case models.KindTeammateIdle:
		ev.Data = models.TeammateIdleData{TeammateID: p.TeammateID}
	case models.KindTaskCompleted:
		ev.Data = models.TaskCompletedData{TaskID: p.TaskID}
	case models.KindConfigChange:
		ev.Data = models.ConfigChangeData{Source: p.Source}
	default:
		ev.Data = models.UnknownData{SourceEventName: req.HookEventName, Payload: req.Payload}
	}

	return ev, nil
}
