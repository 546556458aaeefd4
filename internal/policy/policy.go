// Package policy decides hook requests automatically from a rule set, or
// hands them to the caller for human input. It performs no I/O: queuing is
// delegated to caller-supplied callbacks so the controller stays a pure
// function over (event, rules).
package policy

import (
	"fmt"

	"github.com/dotcommander/ink/internal/models"
)

// DefaultQuestionTool is the tool the harness uses to ask the user a
// question. Its pre-tool hooks are always queued for a human, never
// auto-decided.
const DefaultQuestionTool = "AskUserQuestion"

// Callbacks receive events the controller cannot decide itself. Both are
// optional; a nil callback means nobody is listening (the caller learns that
// from Result.Queued and reacts, e.g. by aborting a non-interactive run).
type Callbacks struct {
	// QueuePermission is invoked for permission requests with no matching rule.
	QueuePermission func(*models.RuntimeEvent)
	// QueueQuestion is invoked for question-tool invocations.
	QueueQuestion func(*models.RuntimeEvent)
}

// Result is the controller's verdict on one event.
type Result struct {
	// Handled is true when the controller owns this event kind, whether or
	// not an immediate decision was produced.
	Handled bool
	// Decision is the immediate resolution, nil when the event was queued.
	Decision *models.RuntimeDecision
	// Queued is true when the event was handed to a queue callback.
	Queued bool
}

// Controller evaluates events against hook rules.
type Controller struct {
	questionTool string
}

// New returns a controller. An empty questionTool selects the default.
func New(questionTool string) *Controller {
	if questionTool == "" {
		questionTool = DefaultQuestionTool
	}
	return &Controller{questionTool: questionTool}
}

// MatchRule returns the first rule applying to toolName: exact-name rules
// win over prefix rules, and within each class the first listed rule wins.
func MatchRule(rules []models.HookRule, toolName string) *models.HookRule {
	for i := range rules {
		if !rules[i].IsPrefix() && rules[i].Matches(toolName) {
			return &rules[i]
		}
	}
	for i := range rules {
		if rules[i].IsPrefix() && rules[i].Matches(toolName) {
			return &rules[i]
		}
	}
	return nil
}

// Evaluate decides one event. Permission requests with a matching rule get
// an immediate allow/deny; unmatched ones are queued for a human. Pre-tool
// hooks default to allow (the harness runs with its native permission system
// disabled, so silence would fail every tool call) unless a deny rule or the
// question tool intervenes. Every other kind is not handled here; the
// transport's timeout passthrough covers it.
func (c *Controller) Evaluate(ev *models.RuntimeEvent, rules []models.HookRule, cb Callbacks) Result {
	switch ev.Kind {
	case models.KindPermissionRequest:
		return c.evaluatePermission(ev, rules, cb)
	case models.KindToolPre:
		return c.evaluatePreTool(ev, rules, cb)
	default:
		return Result{}
	}
}

func (c *Controller) evaluatePermission(ev *models.RuntimeEvent, rules []models.HookRule, cb Callbacks) Result {
	if rule := MatchRule(rules, ev.ToolName); rule != nil {
		if rule.Action == models.RuleDeny {
			reason := fmt.Sprintf("Blocked by rule: %s", rule.AddedBy)
			return Result{Handled: true, Decision: models.PermissionDeny(models.SourceRule, reason)}
		}
		return Result{Handled: true, Decision: models.PermissionAllow(models.SourceRule)}
	}

	if cb.QueuePermission != nil {
		cb.QueuePermission(ev)
	}
	return Result{Handled: true, Queued: true}
}

func (c *Controller) evaluatePreTool(ev *models.RuntimeEvent, rules []models.HookRule, cb Callbacks) Result {
	if ev.ToolName == c.questionTool {
		if cb.QueueQuestion != nil {
			cb.QueueQuestion(ev)
		}
		return Result{Handled: true, Queued: true}
	}

	if rule := MatchRule(rules, ev.ToolName); rule != nil && rule.Action == models.RuleDeny {
		reason := fmt.Sprintf("Blocked by rule: %s", rule.AddedBy)
		return Result{Handled: true, Decision: models.PreToolDeny(models.SourceRule, reason)}
	}
	return Result{Handled: true, Decision: models.PreToolAllow(models.SourceRule)}
}
