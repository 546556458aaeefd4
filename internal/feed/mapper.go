// Package feed turns the neutral runtime event stream into the ordered,
// causally linked timeline that gets persisted and rendered. One Mapper
// instance owns one session's lifecycle state: the current run, the
// run-scoped tool correlation index, the active-subagent stack, and the
// monotonic sequence counter.
//
// The mapper is single-threaded by contract. Callers serialize all
// MapEvent/MapDecision calls for a session externally.
package feed

import (
	"fmt"
	"time"

	"github.com/dotcommander/ink/internal/models"
)

// Run trigger types. Implicit opens use the runtime event kind as the type.
const (
	TriggerUserPrompt     = "user_prompt_submit"
	triggerSessionPrefix  = "session_"
	promptPreviewMaxRunes = 80
)

type pendingRequest struct {
	kind        models.EventKind
	feedEventID string
	sessionID   string
	runID       string
}

// Mapper derives feed events from runtime events and decisions.
type Mapper struct {
	sessionID string
	createdAt int64

	seq        int64
	runIndex   int
	currentRun *models.Run

	// correlation maps tool_use_id to the tool.pre feed event id, scoped to
	// the current run. Cleared whenever a run opens or closes, which makes
	// cross-run correlation impossible by construction.
	correlation map[string]string

	// subagents is the active-subagent LIFO stack (agent ids, top last).
	subagents []string

	actors     map[string]models.Actor
	actorOrder []string

	adapterSeen  map[string]bool
	adapterOrder []string

	// pending tracks requests that expect a decision, so MapDecision can
	// link the decision event back to the request's feed event.
	pending map[string]pendingRequest

	now   func() time.Time
	newID func() string
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithClock injects the mapper's time source.
func WithClock(fn func() time.Time) Option {
	return func(m *Mapper) { m.now = fn }
}

// WithIDGenerator injects the feed event id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Mapper) { m.newID = fn }
}

// New returns a fresh mapper for a session with no stored history.
func New(sessionID string, opts ...Option) *Mapper {
	m := &Mapper{
		sessionID:   sessionID,
		correlation: make(map[string]string),
		actors:      make(map[string]models.Actor),
		adapterSeen: make(map[string]bool),
		pending:     make(map[string]pendingRequest),
		now:         time.Now,
		newID:       models.NewEventID,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.createdAt = m.now().UnixMilli()
	m.registerBuiltinActors()
	return m
}

func (m *Mapper) registerBuiltinActors() {
	m.registerActor(models.Actor{ID: models.ActorSystem, Type: models.ActorTypeSystem})
	m.registerActor(models.Actor{ID: models.ActorUser, Type: models.ActorTypeUser})
	m.registerActor(models.Actor{ID: models.ActorAgentRoot, Type: models.ActorTypeAgent})
}

func (m *Mapper) registerActor(a models.Actor) {
	if _, ok := m.actors[a.ID]; ok {
		return
	}
	m.actors[a.ID] = a
	m.actorOrder = append(m.actorOrder, a.ID)
}

func (m *Mapper) registerAdapterSession(id string) {
	if id == "" || m.adapterSeen[id] {
		return
	}
	m.adapterSeen[id] = true
	m.adapterOrder = append(m.adapterOrder, id)
}

// AllocateSeq hands out the next sequence number. Sequence numbers are
// strictly increasing for the mapper's lifetime and are never reused, even
// across a bootstrap.
func (m *Mapper) AllocateSeq() int64 {
	m.seq++
	return m.seq
}

// Session returns the session view: id, creation time, adapter sessions.
func (m *Mapper) Session() models.Session {
	ids := make([]string, len(m.adapterOrder))
	copy(ids, m.adapterOrder)
	return models.Session{ID: m.sessionID, CreatedAt: m.createdAt, AdapterSessionIDs: ids}
}

// CurrentRun returns a copy of the open run, or nil when none is open.
func (m *Mapper) CurrentRun() *models.Run {
	if m.currentRun == nil {
		return nil
	}
	r := *m.currentRun
	return &r
}

// Actors returns all registered actors in registration order.
func (m *Mapper) Actors() []models.Actor {
	out := make([]models.Actor, 0, len(m.actorOrder))
	for _, id := range m.actorOrder {
		out = append(out, m.actors[id])
	}
	return out
}

// activeActor is the attribution target for in-flight tool events: the top
// of the subagent stack, or the root agent when the stack is empty.
func (m *Mapper) activeActor() string {
	if len(m.subagents) == 0 {
		return models.ActorAgentRoot
	}
	return models.SubagentActorID(m.subagents[len(m.subagents)-1])
}

func (m *Mapper) emit(ev *models.RuntimeEvent, kind models.FeedKind, level models.Level, actor, title string, data any) models.FeedEvent {
	fe := models.FeedEvent{
		ID:        m.newID(),
		Seq:       m.AllocateSeq(),
		TS:        m.now().UnixMilli(),
		SessionID: ev.SessionID,
		Kind:      kind,
		Level:     level,
		ActorID:   actor,
		Title:     title,
	}
	if m.currentRun != nil {
		fe.RunID = m.currentRun.ID
	}
	if data != nil {
		fe.Data = marshalData(data)
	}
	return fe
}

// openRun starts run R<n+1>. Run boundaries clear both the correlation
// index and the subagent stack.
func (m *Mapper) openRun(ev *models.RuntimeEvent, trigger models.RunTrigger, out *[]models.FeedEvent) {
	m.runIndex++
	m.currentRun = &models.Run{
		ID:        models.RunID(m.runIndex),
		Index:     m.runIndex,
		Trigger:   trigger,
		Status:    models.RunActive,
		StartedAt: m.now().UnixMilli(),
	}
	m.correlation = make(map[string]string)
	m.subagents = nil

	fe := m.emit(ev, models.FeedRunStart, models.LevelInfo, models.ActorSystem,
		fmt.Sprintf("Run %s started", m.currentRun.ID),
		runStartData{RunID: m.currentRun.ID, Trigger: trigger})
	*out = append(*out, fe)
}

func (m *Mapper) closeRun(ev *models.RuntimeEvent, status models.RunStatus, reason string, out *[]models.FeedEvent) {
	if m.currentRun == nil {
		return
	}
	run := m.currentRun
	run.Status = status
	run.EndedAt = m.now().UnixMilli()

	fe := m.emit(ev, models.FeedRunEnd, models.LevelInfo, models.ActorSystem,
		fmt.Sprintf("Run %s ended (%s)", run.ID, status),
		runEndData{RunID: run.ID, Status: status, Reason: reason, Counters: run.Counters})
	*out = append(*out, fe)

	m.currentRun = nil
	m.correlation = make(map[string]string)
	m.subagents = nil
}

// ensureRunOpen opens a run with the given trigger if none is open. All
// implicit run creation funnels through here so the precedence order lives
// in one place.
func (m *Mapper) ensureRunOpen(ev *models.RuntimeEvent, trigger models.RunTrigger, out *[]models.FeedEvent) {
	if m.currentRun != nil {
		return
	}
	m.openRun(ev, trigger, out)
}

// MapEvent transforms one runtime event into zero or more ordered feed
// events, advancing the session/run/actor state machine.
func (m *Mapper) MapEvent(ev *models.RuntimeEvent) []models.FeedEvent {
	m.registerAdapterSession(ev.SessionID)

	var out []models.FeedEvent
	switch ev.Kind {
	case models.KindSessionStart:
		m.mapSessionStart(ev, &out)
	case models.KindSessionEnd:
		m.mapSessionEnd(ev, &out)
	case models.KindUserPrompt:
		m.mapUserPrompt(ev, &out)
	case models.KindToolPre:
		m.mapToolPre(ev, &out)
	case models.KindToolPost:
		m.mapToolPost(ev, &out)
	case models.KindToolFailure:
		m.mapToolFailure(ev, &out)
	case models.KindPermissionRequest:
		m.mapPermissionRequest(ev, &out)
	case models.KindStopRequest:
		m.mapStopRequest(ev, &out)
	case models.KindSubagentStart:
		m.mapSubagentStart(ev, &out)
	case models.KindSubagentStop:
		m.mapSubagentStop(ev, &out)
	case models.KindNotification:
		data, _ := ev.Data.(models.NotificationData)
		fe := m.emit(ev, models.FeedNotification, models.LevelInfo, models.ActorSystem,
			preview(data.Message, "Notification"), notificationData{Message: data.Message})
		out = append(out, fe)
	case models.KindCompactPre:
		data, _ := ev.Data.(models.CompactData)
		fe := m.emit(ev, models.FeedCompactPre, models.LevelInfo, models.ActorSystem,
			"Context compaction", compactData{Trigger: data.Trigger})
		fe.UI = &models.UIHint{CollapsedDefault: true}
		out = append(out, fe)
	case models.KindSetup:
		fe := m.emit(ev, models.FeedSetup, models.LevelInfo, models.ActorSystem, "Setup", nil)
		fe.UI = &models.UIHint{CollapsedDefault: true}
		out = append(out, fe)
	case models.KindTeammateIdle:
		data, _ := ev.Data.(models.TeammateIdleData)
		fe := m.emit(ev, models.FeedTeammateIdle, models.LevelInfo, models.ActorSystem,
			"Teammate idle", teammateIdleData{TeammateID: data.TeammateID})
		out = append(out, fe)
	case models.KindTaskCompleted:
		data, _ := ev.Data.(models.TaskCompletedData)
		fe := m.emit(ev, models.FeedTaskCompleted, models.LevelInfo, m.activeActor(),
			"Task completed", taskCompletedData{TaskID: data.TaskID})
		out = append(out, fe)
	case models.KindConfigChange:
		data, _ := ev.Data.(models.ConfigChangeData)
		fe := m.emit(ev, models.FeedConfigChange, models.LevelInfo, models.ActorSystem,
			"Config changed", configChangeData{Source: data.Source})
		out = append(out, fe)
	default:
		m.mapUnknown(ev, &out)
	}
	return out
}

func (m *Mapper) mapSessionStart(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	data, _ := ev.Data.(models.SessionStartData)

	fe := m.emit(ev, models.FeedSessionStart, models.LevelInfo, models.ActorSystem,
		fmt.Sprintf("Session started (%s)", data.Source),
		sessionStartData{Source: data.Source, AdapterSessionID: ev.SessionID})
	fe.RunID = ""
	*out = append(*out, fe)

	// Only non-startup sources represent renewed agent activity and open a
	// run. A plain startup waits for the first prompt or tool event.
	switch data.Source {
	case "resume", "clear", "compact":
		m.closeRun(ev, models.RunSuperseded, triggerSessionPrefix+data.Source, out)
		m.openRun(ev, models.RunTrigger{Type: triggerSessionPrefix + data.Source}, out)
	}
}

func (m *Mapper) mapSessionEnd(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	data, _ := ev.Data.(models.SessionEndData)
	m.closeRun(ev, models.RunCompleted, "session_end", out)
	fe := m.emit(ev, models.FeedSessionEnd, models.LevelInfo, models.ActorSystem,
		"Session ended", sessionEndData{Reason: data.Reason})
	*out = append(*out, fe)
}

func (m *Mapper) mapUserPrompt(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	data, _ := ev.Data.(models.UserPromptData)

	m.closeRun(ev, models.RunSuperseded, TriggerUserPrompt, out)
	m.openRun(ev, models.RunTrigger{
		Type:          TriggerUserPrompt,
		PromptPreview: preview(data.Prompt, ""),
	}, out)

	fe := m.emit(ev, models.FeedUserPrompt, models.LevelInfo, models.ActorUser,
		preview(data.Prompt, "Prompt"), userPromptData{Prompt: data.Prompt})
	*out = append(*out, fe)
}

func (m *Mapper) mapToolPre(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	m.ensureRunOpen(ev, models.RunTrigger{Type: string(ev.Kind)}, out)
	m.currentRun.Counters.ToolUses++

	data, _ := ev.Data.(models.ToolPreData)
	fe := m.emit(ev, models.FeedToolPre, models.LevelInfo, m.activeActor(),
		ev.ToolName, toolPreData{ToolName: ev.ToolName, ToolUseID: ev.ToolUseID, ToolInput: data.ToolInput})
	fe.Cause = &models.Cause{HookRequestID: ev.ID, ToolUseID: ev.ToolUseID}
	if ev.ToolUseID != "" {
		m.correlation[ev.ToolUseID] = fe.ID
	}
	m.trackPending(ev, fe)
	*out = append(*out, fe)
}

func (m *Mapper) mapToolPost(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	m.ensureRunOpen(ev, models.RunTrigger{Type: string(ev.Kind)}, out)

	data, _ := ev.Data.(models.ToolPostData)
	fe := m.emit(ev, models.FeedToolPost, models.LevelInfo, m.activeActor(),
		fmt.Sprintf("%s completed", ev.ToolName),
		toolPostData{ToolName: ev.ToolName, ToolUseID: ev.ToolUseID, ToolResponse: data.ToolResponse})
	fe.Cause = m.toolCause(ev)
	*out = append(*out, fe)
}

func (m *Mapper) mapToolFailure(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	m.ensureRunOpen(ev, models.RunTrigger{Type: string(ev.Kind)}, out)

	data, _ := ev.Data.(models.ToolFailureData)
	fe := m.emit(ev, models.FeedToolFailure, models.LevelError, m.activeActor(),
		fmt.Sprintf("%s failed", ev.ToolName),
		toolFailureData{ToolName: ev.ToolName, ToolUseID: ev.ToolUseID, Error: data.Error})
	fe.Cause = m.toolCause(ev)
	*out = append(*out, fe)
}

// toolCause links a post/failure event to its pre event when the tool use
// id is known in the current run. Runs that have since closed cleared the
// index, so stale ids simply do not correlate.
func (m *Mapper) toolCause(ev *models.RuntimeEvent) *models.Cause {
	cause := &models.Cause{HookRequestID: ev.ID, ToolUseID: ev.ToolUseID}
	if ev.ToolUseID != "" {
		if preID, ok := m.correlation[ev.ToolUseID]; ok {
			cause.ParentEventID = preID
		}
	}
	return cause
}

func (m *Mapper) mapPermissionRequest(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	m.ensureRunOpen(ev, models.RunTrigger{Type: string(ev.Kind)}, out)
	m.currentRun.Counters.PermissionRequests++

	data, _ := ev.Data.(models.PermissionRequestData)
	fe := m.emit(ev, models.FeedPermissionRequest, models.LevelInfo, models.ActorSystem,
		fmt.Sprintf("Permission: %s", ev.ToolName),
		permissionRequestData{ToolName: ev.ToolName, ToolInput: data.ToolInput})
	fe.Cause = &models.Cause{HookRequestID: ev.ID, ToolUseID: ev.ToolUseID}
	m.trackPending(ev, fe)
	*out = append(*out, fe)
}

func (m *Mapper) mapStopRequest(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	data, _ := ev.Data.(models.StopRequestData)

	fe := m.emit(ev, models.FeedStopRequest, models.LevelInfo, models.ActorAgentRoot,
		"Stop requested", stopRequestData{StopHookActive: data.StopHookActive})
	fe.Cause = &models.Cause{HookRequestID: ev.ID}
	m.trackPending(ev, fe)
	*out = append(*out, fe)

	if data.LastAssistantMessage != "" {
		msg := m.emit(ev, models.FeedAgentMessage, models.LevelInfo, models.ActorAgentRoot,
			preview(data.LastAssistantMessage, "Message"),
			agentMessageData{Scope: messageScopeRoot, Message: data.LastAssistantMessage})
		msg.Cause = &models.Cause{ParentEventID: fe.ID}
		*out = append(*out, msg)
	}
}

func (m *Mapper) mapSubagentStart(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	actorID := models.SubagentActorID(ev.AgentID)
	m.registerActor(models.Actor{ID: actorID, Type: models.ActorTypeSubagent, AgentType: ev.AgentType})
	m.subagents = append(m.subagents, ev.AgentID)

	fe := m.emit(ev, models.FeedSubagentStart, models.LevelInfo, actorID,
		fmt.Sprintf("Subagent %s started", ev.AgentID),
		subagentData{AgentID: ev.AgentID, AgentType: ev.AgentType})
	*out = append(*out, fe)
}

func (m *Mapper) mapSubagentStop(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	data, _ := ev.Data.(models.SubagentStopData)
	actorID := models.SubagentActorID(ev.AgentID)

	// LIFO pop of the matching entry; nested subagents restore the correct
	// parent. A stop for an unknown id leaves the stack untouched.
	for i := len(m.subagents) - 1; i >= 0; i-- {
		if m.subagents[i] == ev.AgentID {
			m.subagents = append(m.subagents[:i], m.subagents[i+1:]...)
			break
		}
	}

	fe := m.emit(ev, models.FeedSubagentStop, models.LevelInfo, actorID,
		fmt.Sprintf("Subagent %s stopped", ev.AgentID),
		subagentData{AgentID: ev.AgentID, AgentType: ev.AgentType})
	*out = append(*out, fe)

	if data.LastAssistantMessage != "" {
		msg := m.emit(ev, models.FeedAgentMessage, models.LevelInfo, actorID,
			preview(data.LastAssistantMessage, "Message"),
			agentMessageData{Scope: messageScopeSubagent, Message: data.LastAssistantMessage})
		msg.Cause = &models.Cause{ParentEventID: fe.ID}
		*out = append(*out, msg)
	}
}

func (m *Mapper) mapUnknown(ev *models.RuntimeEvent, out *[]models.FeedEvent) {
	data, _ := ev.Data.(models.UnknownData)
	title := data.SourceEventName
	if title == "" {
		title = "Unknown hook"
	}
	fe := m.emit(ev, models.FeedUnknownHook, models.LevelInfo, models.ActorSystem, title,
		unknownHookData{SourceEventName: data.SourceEventName, Payload: data.Payload})
	fe.UI = &models.UIHint{CollapsedDefault: true}
	*out = append(*out, fe)
}

// trackPending remembers a decision-expecting request so MapDecision can
// find its feed event later.
func (m *Mapper) trackPending(ev *models.RuntimeEvent, fe models.FeedEvent) {
	if !ev.Hints.ExpectsDecision {
		return
	}
	m.pending[ev.ID] = pendingRequest{
		kind:        ev.Kind,
		feedEventID: fe.ID,
		sessionID:   ev.SessionID,
		runID:       fe.RunID,
	}
}

// MapDecision turns the resolution of a pending request into a decision
// feed event. Unknown event ids return nil: the mapper never saw the
// request, or it was not one that expects a decision. Pre-tool resolutions
// are tracked but produce no feed event of their own.
func (m *Mapper) MapDecision(eventID string, d *models.RuntimeDecision) *models.FeedEvent {
	req, ok := m.pending[eventID]
	if !ok {
		return nil
	}
	delete(m.pending, eventID)

	switch req.kind {
	case models.KindPermissionRequest:
		return m.permissionDecision(req, eventID, d)
	case models.KindStopRequest:
		return m.stopDecision(req, eventID, d)
	default:
		return nil
	}
}

func (m *Mapper) permissionDecision(req pendingRequest, eventID string, d *models.RuntimeDecision) *models.FeedEvent {
	decisionType := DecisionNoOpinion
	reason := d.Reason
	if d.Source == models.SourceTimeout {
		reason = "timeout"
	}
	if d.Intent != nil {
		switch d.Intent.Kind {
		case models.IntentPermissionAllow:
			decisionType = DecisionAllow
		case models.IntentPermissionDeny:
			decisionType = DecisionDeny
			reason = d.Intent.Reason
		}
	}

	level := models.LevelInfo
	if decisionType == DecisionDeny {
		level = models.LevelWarn
	}
	fe := m.decisionEvent(req, eventID, models.FeedPermissionDecision, level, d,
		fmt.Sprintf("Permission %s", decisionType), decisionData{DecisionType: decisionType, Reason: reason})
	return fe
}

func (m *Mapper) stopDecision(req pendingRequest, eventID string, d *models.RuntimeDecision) *models.FeedEvent {
	decisionType := DecisionNoOpinion
	reason := ""
	level := models.LevelInfo
	if d.SignalsBlock() {
		decisionType = DecisionBlockStop
		reason = d.BlockReason()
		level = models.LevelWarn
	}

	return m.decisionEvent(req, eventID, models.FeedStopDecision, level, d,
		fmt.Sprintf("Stop decision: %s", decisionType), decisionData{DecisionType: decisionType, Reason: reason})
}

func (m *Mapper) decisionEvent(req pendingRequest, eventID string, kind models.FeedKind, level models.Level, d *models.RuntimeDecision, title string, data decisionData) *models.FeedEvent {
	actor := models.ActorSystem
	if d.Source == models.SourceUser {
		actor = models.ActorUser
	}

	fe := models.FeedEvent{
		ID:        m.newID(),
		Seq:       m.AllocateSeq(),
		TS:        m.now().UnixMilli(),
		SessionID: req.sessionID,
		RunID:     req.runID,
		Kind:      kind,
		Level:     level,
		ActorID:   actor,
		Title:     title,
		Data:      marshalData(data),
		Cause:     &models.Cause{ParentEventID: req.feedEventID, HookRequestID: eventID},
	}
	return &fe
}

// preview trims s for titles, falling back when empty.
func preview(s, fallback string) string {
	if s == "" {
		return fallback
	}
	runes := []rune(s)
	if len(runes) <= promptPreviewMaxRunes {
		return s
	}
	return string(runes[:promptPreviewMaxRunes]) + "…"
}
