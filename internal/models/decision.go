package models

import "encoding/json"

// DecisionType is the transport-level shape of a decision.
type DecisionType string

// Decision type constants.
const (
	DecisionPassthrough DecisionType = "passthrough"
	DecisionBlock       DecisionType = "block"
	DecisionJSON        DecisionType = "json"
)

// DecisionSource records who produced a decision.
type DecisionSource string

// Decision source constants.
const (
	SourceUser    DecisionSource = "user"
	SourceTimeout DecisionSource = "timeout"
	SourceRule    DecisionSource = "rule"
)

// IntentKind is the semantic meaning of a json decision.
type IntentKind string

// Intent kind constants.
const (
	IntentPermissionAllow IntentKind = "permission_allow"
	IntentPermissionDeny  IntentKind = "permission_deny"
	IntentPreToolAllow    IntentKind = "pre_tool_allow"
	IntentPreToolDeny     IntentKind = "pre_tool_deny"
	IntentQuestionAnswer  IntentKind = "question_answer"
	IntentStopBlock       IntentKind = "stop_block"
)

// DecisionIntent carries the semantic payload of a json decision. Answers is
// set only for IntentQuestionAnswer; Reason only for deny/block intents.
type DecisionIntent struct {
	Kind    IntentKind        `json:"kind"`
	Reason  string            `json:"reason,omitempty"`
	Answers map[string]string `json:"answers,omitempty"`
}

// RuntimeDecision resolves a RuntimeEvent. Exactly one decision may resolve
// a given event id; late decisions are dropped by the transport.
type RuntimeDecision struct {
	Type   DecisionType   `json:"type"`
	Source DecisionSource `json:"source"`
	Intent *DecisionIntent `json:"intent,omitempty"`
	Reason string          `json:"reason,omitempty"`
	// Payload is passed to the harness verbatim for json decisions with no
	// intent (raw custom responses).
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TimeoutDecision is the synthesized resolution for requests nobody answered.
func TimeoutDecision() *RuntimeDecision {
	return &RuntimeDecision{Type: DecisionPassthrough, Source: SourceTimeout}
}

// Passthrough builds a no-opinion resolution that lets the harness proceed.
func Passthrough(source DecisionSource) *RuntimeDecision {
	return &RuntimeDecision{Type: DecisionPassthrough, Source: source}
}

// PermissionAllow builds an allow decision for a permission request.
func PermissionAllow(source DecisionSource) *RuntimeDecision {
	return &RuntimeDecision{
		Type:   DecisionJSON,
		Source: source,
		Intent: &DecisionIntent{Kind: IntentPermissionAllow},
	}
}

// PermissionDeny builds a deny decision for a permission request.
func PermissionDeny(source DecisionSource, reason string) *RuntimeDecision {
	return &RuntimeDecision{
		Type:   DecisionJSON,
		Source: source,
		Intent: &DecisionIntent{Kind: IntentPermissionDeny, Reason: reason},
		Reason: reason,
	}
}

// PreToolAllow builds an explicit allow for a pre-tool hook. The harness runs
// with its native permission checks disabled, so silence is not an option.
func PreToolAllow(source DecisionSource) *RuntimeDecision {
	return &RuntimeDecision{
		Type:   DecisionJSON,
		Source: source,
		Intent: &DecisionIntent{Kind: IntentPreToolAllow},
	}
}

// PreToolDeny builds a deny decision for a pre-tool hook.
func PreToolDeny(source DecisionSource, reason string) *RuntimeDecision {
	return &RuntimeDecision{
		Type:   DecisionJSON,
		Source: source,
		Intent: &DecisionIntent{Kind: IntentPreToolDeny, Reason: reason},
		Reason: reason,
	}
}

// QuestionAnswer builds an answer decision for a question tool invocation.
func QuestionAnswer(source DecisionSource, answers map[string]string) *RuntimeDecision {
	return &RuntimeDecision{
		Type:   DecisionJSON,
		Source: source,
		Intent: &DecisionIntent{Kind: IntentQuestionAnswer, Answers: answers},
	}
}

// StopBlock builds a block decision for a stop request.
func StopBlock(source DecisionSource, reason string) *RuntimeDecision {
	return &RuntimeDecision{
		Type:   DecisionJSON,
		Source: source,
		Intent: &DecisionIntent{Kind: IntentStopBlock, Reason: reason},
		Reason: reason,
	}
}

// rawBlockSignal mirrors the block discriminators a raw json payload may carry.
type rawBlockSignal struct {
	Decision string `json:"decision"`
	OK       *bool  `json:"ok"`
	Reason   string `json:"reason"`
}

// SignalsBlock reports whether a decision asks the harness to block a stop:
// an explicit stop_block intent, a block-typed decision, or a raw payload
// with a "block" discriminator or a not-ok flag.
func (d *RuntimeDecision) SignalsBlock() bool {
	if d.Type == DecisionBlock {
		return true
	}
	if d.Intent != nil && d.Intent.Kind == IntentStopBlock {
		return true
	}
	if d.Type == DecisionJSON && len(d.Payload) > 0 {
		var sig rawBlockSignal
		if err := json.Unmarshal(d.Payload, &sig); err == nil {
			if sig.Decision == "block" {
				return true
			}
			if sig.OK != nil && !*sig.OK {
				return true
			}
		}
	}
	return false
}

// BlockReason extracts the most specific reason attached to a block signal.
func (d *RuntimeDecision) BlockReason() string {
	if d.Intent != nil && d.Intent.Reason != "" {
		return d.Intent.Reason
	}
	if d.Reason != "" {
		return d.Reason
	}
	if len(d.Payload) > 0 {
		var sig rawBlockSignal
		if err := json.Unmarshal(d.Payload, &sig); err == nil {
			return sig.Reason
		}
	}
	return ""
}
