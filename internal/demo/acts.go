package demo

// StepFunc runs one scripted step against the live pipeline.
type StepFunc func(r *Runner) error

// Step is one named beat within an act.
type Step struct {
	Name    string
	Fn      StepFunc
	Insight string
}

// Act groups steps under a headline and its narration.
type Act struct {
	Number    int
	Name      string
	Narration []string
	Steps     []Step
}

// buildActs returns the full script in play order.
func buildActs() []Act {
	return []Act{
		{
			Number: 1,
			Name:   "Opening The Session",
			Narration: []string{
				"The harness announces itself. A plain startup opens no run;",
				"the first prompt does, and everything after lands inside it.",
			},
			Steps: []Step{
				{Name: "session_start", Fn: stepSessionStart, Insight: "SessionStart(startup) records the session without inventing agent activity."},
				{Name: "user_prompt", Fn: stepUserPrompt, Insight: "The prompt opens run R1. Run boundaries scope correlation and subagents."},
			},
		},
		{
			Number: 2,
			Name:   "Tools On The Record",
			Narration: []string{
				"Native permission checks are off, so every pre-tool hook must be",
				"answered explicitly. Results and failures land on the timeline.",
			},
			Steps: []Step{
				{Name: "tool_allowed", Fn: stepToolAllowed, Insight: "No deny rule matched, so the pre-tool hook gets an explicit allow."},
				{Name: "tool_result", Fn: stepToolResult, Insight: "PostToolUse pairs with its pre event through tool_use_id."},
				{Name: "tool_failure", Fn: stepToolFailure, Insight: "Failures are timeline entries too, flagged at error level."},
			},
		},
		{
			Number: 3,
			Name:   "Humans In The Loop",
			Narration: []string{
				"Unmatched permission requests and question tools queue for a",
				"responder. Here the script plays the human and answers inline.",
			},
			Steps: []Step{
				{Name: "permission_prompt", Fn: stepPermissionPrompt, Insight: "No rule matched, a responder was listening, the human decided."},
				{Name: "question_routed", Fn: stepQuestionRouted, Insight: "The question tool always goes to a human; answers ride back in the hook response."},
			},
		},
		{
			Number: 4,
			Name:   "Rules Decide",
			Narration: []string{
				"Rules auto-decide matching tools before anyone is interrupted.",
				"Exact names beat prefix patterns; first match wins.",
			},
			Steps: []Step{
				{Name: "rule_approves", Fn: stepRuleApproves, Insight: "The approve rule answered instantly. Nobody was prompted."},
				{Name: "rule_denies", Fn: stepRuleDenies, Insight: "The deny rule blocks with its reason; the feed shows who decided."},
			},
		},
		{
			Number: 5,
			Name:   "Subagents",
			Narration: []string{
				"Spawned workers get their own actor identity. Their events are",
				"attributed to them for as long as they are on the stack.",
			},
			Steps: []Step{
				{Name: "subagent_spawn", Fn: stepSubagentSpawn, Insight: "SubagentStart registers the actor and pushes it on the attribution stack."},
				{Name: "subagent_report", Fn: stepSubagentReport, Insight: "The closing message becomes an agent.message entry credited to the subagent."},
			},
		},
		{
			Number: 6,
			Name:   "Turn Boundaries",
			Narration: []string{
				"A stop request is the agent asking to end its turn. Token usage",
				"arrives with it and accumulates across the session.",
			},
			Steps: []Step{
				{Name: "notification", Fn: stepNotification, Insight: "Informational hooks are released immediately; the harness never waits on them."},
				{Name: "stop_with_usage", Fn: stepStopWithUsage, Insight: "The stop passed through and the usage counters moved."},
			},
		},
		{
			Number: 7,
			Name:   "Closing The Book",
			Narration: []string{
				"Session end closes the open run and the store keeps everything.",
				"The same checks doctor runs prove the log replays cleanly.",
			},
			Steps: []Step{
				{Name: "session_end", Fn: stepSessionEnd, Insight: "The run closed as completed. A resume would bootstrap from this exact state."},
				{Name: "verify_timeline", Fn: stepVerifyTimeline, Insight: "Strictly increasing sequence, resolvable causes, paired run boundaries."},
			},
		},
	}
}
