package adapter

import (
	"encoding/json"

	"github.com/dotcommander/ink/internal/models"
)

var emptyObject = json.RawMessage(`{}`)

type permissionResult struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

type hookSpecificOutput struct {
	HookEventName            string            `json:"hookEventName"`
	PermissionDecision       string            `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string            `json:"permissionDecisionReason,omitempty"`
	Answers                  map[string]string `json:"answers,omitempty"`
}

type hookResult struct {
	Decision           string              `json:"decision,omitempty"`
	Reason             string              `json:"reason,omitempty"`
	HookSpecificOutput *hookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// BuildResponsePayload renders a neutral decision into the payload the
// harness expects for the originating hook. A passthrough renders as an
// empty object so the harness proceeds with its own defaults.
func BuildResponsePayload(ev *models.RuntimeEvent, d *models.RuntimeDecision) json.RawMessage {
	if d == nil || d.Type == models.DecisionPassthrough {
		return emptyObject
	}
	if d.Type == models.DecisionBlock {
		return marshalResult(hookResult{Decision: "block", Reason: d.Reason})
	}

	// json decisions carry either a semantic intent or a raw payload.
	if d.Intent == nil {
		if len(d.Payload) > 0 {
			return d.Payload
		}
		return emptyObject
	}

	switch d.Intent.Kind {
	case models.IntentPermissionAllow:
		return marshalResult(permissionResult{Behavior: "allow"})
	case models.IntentPermissionDeny:
		return marshalResult(permissionResult{Behavior: "deny", Message: d.Intent.Reason})
	case models.IntentPreToolAllow:
		return marshalResult(hookResult{
			HookSpecificOutput: &hookSpecificOutput{
				HookEventName:      hookEventNameForResponse(ev),
				PermissionDecision: "allow",
			},
		})
	case models.IntentPreToolDeny:
		return marshalResult(hookResult{
			HookSpecificOutput: &hookSpecificOutput{
				HookEventName:            hookEventNameForResponse(ev),
				PermissionDecision:       "deny",
				PermissionDecisionReason: d.Intent.Reason,
			},
		})
	case models.IntentQuestionAnswer:
		return marshalResult(hookResult{
			HookSpecificOutput: &hookSpecificOutput{
				HookEventName: ev.ToolName,
				Answers:       d.Intent.Answers,
			},
		})
	case models.IntentStopBlock:
		return marshalResult(hookResult{Decision: "block", Reason: d.Intent.Reason})
	}
	return emptyObject
}

func hookEventNameForResponse(ev *models.RuntimeEvent) string {
	if name := HookEventNameFor(ev.Kind); name != "" {
		return name
	}
	if unknown, ok := ev.Data.(models.UnknownData); ok {
		return unknown.SourceEventName
	}
	return string(ev.Kind)
}

func marshalResult(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return emptyObject
	}
	return data
}
