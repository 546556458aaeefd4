package models

import "strings"

// RuleAction is what a hook rule does when it matches.
type RuleAction string

// Rule action constants.
const (
	RuleApprove RuleAction = "approve"
	RuleDeny    RuleAction = "deny"
)

// HookRule auto-decides permission and pre-tool requests for a tool. ToolName
// is either an exact tool name or a prefix pattern ending in "*". First match
// wins; exact matches take precedence over prefix matches.
type HookRule struct {
	ID       string     `json:"id" yaml:"id"`
	ToolName string     `json:"tool_name" yaml:"tool_name"`
	Action   RuleAction `json:"action" yaml:"action"`
	AddedBy  string     `json:"added_by" yaml:"added_by"`
}

// IsPrefix reports whether the rule's tool name is a prefix pattern.
func (r HookRule) IsPrefix() bool {
	return strings.HasSuffix(r.ToolName, "*")
}

// Matches reports whether the rule applies to toolName.
func (r HookRule) Matches(toolName string) bool {
	if toolName == "" {
		return false
	}
	if r.IsPrefix() {
		return strings.HasPrefix(toolName, strings.TrimSuffix(r.ToolName, "*"))
	}
	return r.ToolName == toolName
}
