package models

// EventKind is the neutral classification of one harness callback.
type EventKind string

// Runtime event kinds produced by the translator. Anything the harness sends
// that does not map to one of these becomes KindUnknown.
const (
	KindSessionStart      EventKind = "session.start"
	KindSessionEnd        EventKind = "session.end"
	KindUserPrompt        EventKind = "user.prompt"
	KindToolPre           EventKind = "tool.pre"
	KindToolPost          EventKind = "tool.post"
	KindToolFailure       EventKind = "tool.failure"
	KindPermissionRequest EventKind = "permission.request"
	KindStopRequest       EventKind = "stop.request"
	KindSubagentStart     EventKind = "subagent.start"
	KindSubagentStop      EventKind = "subagent.stop"
	KindNotification      EventKind = "notification"
	KindCompactPre        EventKind = "compact.pre"
	KindSetup             EventKind = "setup"
	KindTeammateIdle      EventKind = "teammate.idle"
	KindTaskCompleted     EventKind = "task.completed"
	KindConfigChange      EventKind = "config.change"
	KindUnknown           EventKind = "unknown"
)

// IsToolShaped returns true for kinds whose payload carries tool_name/tool_use_id.
func (k EventKind) IsToolShaped() bool {
	switch k {
	case KindToolPre, KindToolPost, KindToolFailure, KindPermissionRequest:
		return true
	}
	return false
}

// FeedKind classifies a persisted timeline entry.
type FeedKind string

// Feed event kinds carried one-to-one from runtime events.
const (
	FeedSessionStart      FeedKind = "session.start"
	FeedSessionEnd        FeedKind = "session.end"
	FeedUserPrompt        FeedKind = "user.prompt"
	FeedToolPre           FeedKind = "tool.pre"
	FeedToolPost          FeedKind = "tool.post"
	FeedToolFailure       FeedKind = "tool.failure"
	FeedPermissionRequest FeedKind = "permission.request"
	FeedStopRequest       FeedKind = "stop.request"
	FeedSubagentStart     FeedKind = "subagent.start"
	FeedSubagentStop      FeedKind = "subagent.stop"
	FeedNotification      FeedKind = "notification"
	FeedCompactPre        FeedKind = "compact.pre"
	FeedSetup             FeedKind = "setup"
	FeedTeammateIdle      FeedKind = "teammate.idle"
	FeedTaskCompleted     FeedKind = "task.completed"
	FeedConfigChange      FeedKind = "config.change"
	FeedUnknownHook       FeedKind = "unknown.hook"
)

// Feed event kinds synthesized by the mapper (no runtime counterpart).
const (
	FeedRunStart           FeedKind = "run.start"
	FeedRunEnd             FeedKind = "run.end"
	FeedPermissionDecision FeedKind = "permission.decision"
	FeedStopDecision       FeedKind = "stop.decision"
	FeedAgentMessage       FeedKind = "agent.message"
)
