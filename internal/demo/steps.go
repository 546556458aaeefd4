package demo

import (
	"errors"
	"fmt"

	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/store"
)

func stepSessionStart(r *Runner) error {
	resp, err := r.send("SessionStart", map[string]any{"source": "startup"})
	if err != nil {
		return err
	}
	if err := expectInPayload(resp, "{}"); err != nil {
		return err
	}
	if r.mgr.CurrentRun() != nil {
		return errors.New("a plain startup must not open a run")
	}
	if _, ok := r.lastOfKind(models.FeedSessionStart); !ok {
		return errors.New("no session.start feed event")
	}
	return nil
}

func stepUserPrompt(r *Runner) error {
	if _, err := r.send("UserPromptSubmit", map[string]any{
		"prompt": "Add a retry helper to the fetch client",
	}); err != nil {
		return err
	}
	run := r.mgr.CurrentRun()
	if run == nil {
		return errors.New("the prompt should have opened a run")
	}
	if _, ok := r.lastOfKind(models.FeedRunStart); !ok {
		return errors.New("no run.start feed event")
	}
	return nil
}

func stepToolAllowed(r *Runner) error {
	resp, err := r.send("PreToolUse", map[string]any{
		"tool_name":   "Read",
		"tool_use_id": "tu-1",
		"tool_input":  map[string]any{"file_path": "client/fetch.go"},
	})
	if err != nil {
		return err
	}
	return expectInPayload(resp, `"permissionDecision":"allow"`)
}

func stepToolResult(r *Runner) error {
	if _, err := r.send("PostToolUse", map[string]any{
		"tool_name":     "Read",
		"tool_use_id":   "tu-1",
		"tool_response": map[string]any{"content": "func Fetch(ctx context.Context, url string) ..."},
	}); err != nil {
		return err
	}
	if _, ok := r.lastOfKind(models.FeedToolPost); !ok {
		return errors.New("no tool.post feed event")
	}
	return nil
}

func stepToolFailure(r *Runner) error {
	if _, err := r.send("PostToolUseFailure", map[string]any{
		"tool_name":   "Bash",
		"tool_use_id": "tu-2",
		"error":       "exit status 1: go test ./client: FAIL",
	}); err != nil {
		return err
	}
	if _, ok := r.lastOfKind(models.FeedToolFailure); !ok {
		return errors.New("no tool.failure feed event")
	}
	return nil
}

func stepPermissionPrompt(r *Runner) error {
	before := r.promptCount()
	resp, err := r.send("PermissionRequest", map[string]any{
		"tool_name":   "Write",
		"tool_use_id": "tu-3",
		"tool_input":  map[string]any{"file_path": "client/retry.go"},
	})
	if err != nil {
		return err
	}
	if err := expectInPayload(resp, `"behavior":"allow"`); err != nil {
		return err
	}
	if r.promptCount() != before+1 {
		return errors.New("the permission request should have prompted the responder")
	}
	return nil
}

func stepQuestionRouted(r *Runner) error {
	resp, err := r.send("PreToolUse", map[string]any{
		"tool_name":   "AskUserQuestion",
		"tool_use_id": "tu-4",
		"tool_input": map[string]any{
			"questions": []map[string]any{{"question": "Ship the retry helper now?"}},
		},
	})
	if err != nil {
		return err
	}
	return expectInPayload(resp, `"answers"`)
}

func stepRuleApproves(r *Runner) error {
	r.mgr.AddRule(models.HookRule{
		ID:       models.NewRuleID(),
		ToolName: "Grep",
		Action:   models.RuleApprove,
		AddedBy:  "walkthrough",
	})

	before := r.promptCount()
	resp, err := r.send("PermissionRequest", map[string]any{
		"tool_name":   "Grep",
		"tool_use_id": "tu-5",
		"tool_input":  map[string]any{"pattern": "RetryDo"},
	})
	if err != nil {
		return err
	}
	if err := expectInPayload(resp, `"behavior":"allow"`); err != nil {
		return err
	}
	if r.promptCount() != before {
		return errors.New("the rule should have decided without prompting")
	}
	return nil
}

func stepRuleDenies(r *Runner) error {
	r.mgr.AddRule(models.HookRule{
		ID:       models.NewRuleID(),
		ToolName: "Deploy*",
		Action:   models.RuleDeny,
		AddedBy:  "walkthrough",
	})

	resp, err := r.send("PermissionRequest", map[string]any{
		"tool_name":   "DeployProd",
		"tool_use_id": "tu-6",
		"tool_input":  map[string]any{"target": "production"},
	})
	if err != nil {
		return err
	}
	if err := expectInPayload(resp, `"behavior":"deny"`); err != nil {
		return err
	}
	fe, ok := r.lastOfKind(models.FeedPermissionDecision)
	if !ok {
		return errors.New("no permission.decision feed event")
	}
	if fe.Level != models.LevelWarn {
		return fmt.Errorf("denied permission should be warn level, got %s", fe.Level)
	}
	return nil
}

func stepSubagentSpawn(r *Runner) error {
	if _, err := r.send("SubagentStart", map[string]any{
		"agent_id":   "agt-1",
		"agent_type": "explore",
	}); err != nil {
		return err
	}
	if _, ok := r.lastOfKind(models.FeedSubagentStart); !ok {
		return errors.New("no subagent.start feed event")
	}
	return nil
}

func stepSubagentReport(r *Runner) error {
	if _, err := r.send("SubagentStop", map[string]any{
		"agent_id":               "agt-1",
		"agent_type":             "explore",
		"last_assistant_message": "Scanned 14 files; retries belong in client/fetch.go",
	}); err != nil {
		return err
	}
	fe, ok := r.lastOfKind(models.FeedAgentMessage)
	if !ok {
		return errors.New("no agent.message feed event from the subagent")
	}
	if models.SubagentIDFromActor(fe.ActorID) == "" {
		return fmt.Errorf("agent message attributed to %s, wanted the subagent", fe.ActorID)
	}
	return nil
}

func stepNotification(r *Runner) error {
	if _, err := r.send("Notification", map[string]any{
		"message": "Agent is waiting for your input",
	}); err != nil {
		return err
	}
	if _, ok := r.lastOfKind(models.FeedNotification); !ok {
		return errors.New("no notification feed event")
	}
	return nil
}

func stepStopWithUsage(r *Runner) error {
	before := r.mgr.Tokens()
	resp, err := r.send("Stop", map[string]any{
		"last_assistant_message": "Added RetryDo with exponential backoff; tests pass.",
		"stop_hook_active":       false,
		"usage": map[string]any{
			"input_tokens":            1200,
			"output_tokens":           240,
			"cache_read_input_tokens": 800,
			"context_size":            52000,
		},
	})
	if err != nil {
		return err
	}
	if err := expectInPayload(resp, "{}"); err != nil {
		return err
	}
	if r.mgr.Tokens().InputTokens <= before.InputTokens {
		return errors.New("token counters did not advance")
	}
	if _, ok := r.lastOfKind(models.FeedStopDecision); !ok {
		return errors.New("no stop.decision feed event")
	}
	return nil
}

func stepSessionEnd(r *Runner) error {
	if _, err := r.send("SessionEnd", map[string]any{"reason": "exit"}); err != nil {
		return err
	}
	if r.mgr.CurrentRun() != nil {
		return errors.New("session end should have closed the run")
	}
	if _, ok := r.lastOfKind(models.FeedRunEnd); !ok {
		return errors.New("no run.end feed event")
	}
	return nil
}

func stepVerifyTimeline(r *Runner) error {
	diags := store.VerifyFeedLog(r.feedEvents())
	if len(diags) == 0 {
		return nil
	}
	var codes []string
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	return fmt.Errorf("timeline verification reported %v", codes)
}
