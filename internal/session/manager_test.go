package session

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/ink/internal/adapter"
	"github.com/dotcommander/ink/internal/feed"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/server"
	"github.com/dotcommander/ink/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// feedCollector records fan-out delivery for assertions. Delivery happens on
// connection and timer goroutines, so access is locked.
type feedCollector struct {
	mu     sync.Mutex
	events []models.FeedEvent
}

func (c *feedCollector) add(fe models.FeedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fe)
}

func (c *feedCollector) all() []models.FeedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.FeedEvent(nil), c.events...)
}

func (c *feedCollector) kind(k models.FeedKind) []models.FeedEvent {
	var out []models.FeedEvent
	for _, fe := range c.all() {
		if fe.Kind == k {
			out = append(out, fe)
		}
	}
	return out
}

func (c *feedCollector) one(t *testing.T, k models.FeedKind) models.FeedEvent {
	t.Helper()
	events := c.kind(k)
	require.Len(t, events, 1, "expected exactly one %s event", k)
	return events[0]
}

type pipeOpts struct {
	store          bool
	st             *store.SessionStore
	mapper         *feed.Mapper
	rules          []models.HookRule
	nonInteractive bool
	maxWait        time.Duration
}

type pipeline struct {
	t      *testing.T
	socket string
	srv    *server.Server
	st     *store.SessionStore
	mgr    *Manager
	feed   *feedCollector
}

func startPipeline(t *testing.T, opts pipeOpts) *pipeline {
	t.Helper()
	dir := t.TempDir()

	srv, err := server.New(server.Config{
		SocketPath:      filepath.Join(dir, "ink-1.sock"),
		MaxDecisionWait: opts.maxWait,
		Logger:          discardLogger(),
	})
	require.NoError(t, err)

	st := opts.st
	if st == nil && opts.store {
		st, err = store.Open(filepath.Join(dir, "ses_test.db"), "ses_test", dir)
		require.NoError(t, err)
		t.Cleanup(st.Close)
	}

	mapper := opts.mapper
	if mapper == nil {
		mapper = feed.New("ses_test")
	}

	mgr, err := New(Config{
		Server:         srv,
		Mapper:         mapper,
		Store:          st,
		Rules:          opts.rules,
		NonInteractive: opts.nonInteractive,
		Logger:         discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	collector := &feedCollector{}
	mgr.OnFeed(collector.add)

	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	return &pipeline{
		t:      t,
		socket: srv.Status().SocketPath,
		srv:    srv,
		st:     st,
		mgr:    mgr,
		feed:   collector,
	}
}

// stop tears the pipeline down mid-test for restart scenarios. All pieces
// tolerate the later t.Cleanup repeat.
func (p *pipeline) stop() {
	p.t.Helper()
	require.NoError(p.t, p.srv.Stop())
	p.mgr.Close()
}

// send delivers one hook request over a fresh connection, the way the
// forwarder does, and returns the single response line.
func (p *pipeline) send(id, hookEvent string, payload map[string]any) adapter.Response {
	p.t.Helper()
	return p.sendFrom("adapter-1", id, hookEvent, payload)
}

func (p *pipeline) sendFrom(adapterID, id, hookEvent string, payload map[string]any) adapter.Response {
	p.t.Helper()

	conn, err := net.Dial("unix", p.socket)
	require.NoError(p.t, err)
	defer func() { _ = conn.Close() }()

	env := map[string]any{
		"request_id":      id,
		"ts":              time.Now().UnixMilli(),
		"session_id":      adapterID,
		"hook_event_name": hookEvent,
	}
	if payload != nil {
		env["payload"] = payload
	}
	line, err := json.Marshal(env)
	require.NoError(p.t, err)
	_, err = conn.Write(append(line, '\n'))
	require.NoError(p.t, err)

	require.NoError(p.t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	data, err := io.ReadAll(conn)
	require.NoError(p.t, err)
	require.NotEmpty(p.t, data, "no response line for %s", id)

	var resp adapter.Response
	require.NoError(p.t, json.Unmarshal(bytes.TrimSpace(data), &resp))
	require.Equal(p.t, id, resp.RequestID)
	return resp
}

func TestScenarioProducesOrderedTimeline(t *testing.T) {
	p := startPipeline(t, pipeOpts{store: true})

	resp := p.send("sc-1", "SessionStart", map[string]any{"source": "startup"})
	assert.JSONEq(t, `{}`, string(resp.Payload))

	p.send("sc-2", "UserPromptSubmit", map[string]any{"prompt": "fix bug"})

	resp = p.send("sc-3", "PreToolUse", map[string]any{
		"tool_name":   "Bash",
		"tool_use_id": "tu-1",
		"tool_input":  map[string]any{"command": "go test ./..."},
	})
	assert.JSONEq(t,
		`{"hookSpecificOutput":{"hookEventName":"PreToolUse","permissionDecision":"allow"}}`,
		string(resp.Payload))

	p.send("sc-4", "PostToolUse", map[string]any{
		"tool_name":     "Bash",
		"tool_use_id":   "tu-1",
		"tool_response": map[string]any{"ok": true},
	})

	resp = p.send("sc-5", "Stop", map[string]any{"last_assistant_message": "done"})
	assert.JSONEq(t, `{}`, string(resp.Payload))

	start := p.feed.one(t, models.FeedSessionStart)
	assert.Empty(t, start.RunID)

	runStart := p.feed.one(t, models.FeedRunStart)
	assert.Equal(t, "R1", runStart.RunID)

	prompt := p.feed.one(t, models.FeedUserPrompt)
	assert.Equal(t, models.ActorUser, prompt.ActorID)
	assert.Equal(t, "fix bug", prompt.Title)

	pre := p.feed.one(t, models.FeedToolPre)
	post := p.feed.one(t, models.FeedToolPost)
	require.NotNil(t, post.Cause)
	assert.Equal(t, pre.ID, post.Cause.ParentEventID)
	assert.Equal(t, "tu-1", post.Cause.ToolUseID)

	p.feed.one(t, models.FeedStopRequest)
	msg := p.feed.one(t, models.FeedAgentMessage)
	assert.Equal(t, "done", msg.Title)

	// Delivery order matches sequence order, and sequence numbers never
	// repeat.
	events := p.feed.all()
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}

	run := p.mgr.CurrentRun()
	require.NotNil(t, run)
	assert.Equal(t, 1, run.Counters.ToolUses)

	restored, err := p.st.Restore()
	require.NoError(t, err)
	assert.EqualValues(t, 5, restored.EventCount)
	require.Len(t, restored.FeedEvents, len(events))
	for i := range events {
		assert.Equal(t, events[i].Seq, restored.FeedEvents[i].Seq)
		assert.Equal(t, events[i].Kind, restored.FeedEvents[i].Kind)
	}
}

func TestPermissionDeniedByRule(t *testing.T) {
	p := startPipeline(t, pipeOpts{store: true, rules: []models.HookRule{
		{ID: "r1", ToolName: "Bash", Action: models.RuleDeny, AddedBy: "policy-test"},
	}})

	resp := p.send("perm-1", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{"behavior":"deny","message":"Blocked by rule: policy-test"}`, string(resp.Payload))

	request := p.feed.one(t, models.FeedPermissionRequest)
	decision := p.feed.one(t, models.FeedPermissionDecision)
	assert.Equal(t, models.LevelWarn, decision.Level)
	require.NotNil(t, decision.Cause)
	assert.Equal(t, request.ID, decision.Cause.ParentEventID)

	var data struct {
		DecisionType string `json:"decision_type"`
		Reason       string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(decision.Data, &data))
	assert.Equal(t, "deny", data.DecisionType)
	assert.Equal(t, "Blocked by rule: policy-test", data.Reason)

	// The decision event reached storage through the feed-only path.
	restored, err := p.st.Restore()
	require.NoError(t, err)
	require.Len(t, restored.FeedEvents, len(p.feed.all()))
}

func TestPermissionAllowedByRule(t *testing.T) {
	p := startPipeline(t, pipeOpts{rules: []models.HookRule{
		{ID: "r1", ToolName: "Bash", Action: models.RuleApprove, AddedBy: "policy-test"},
	}})

	resp := p.send("perm-2", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{"behavior":"allow"}`, string(resp.Payload))

	decision := p.feed.one(t, models.FeedPermissionDecision)
	assert.Equal(t, models.ActorSystem, decision.ActorID)
}

func TestQueuedPermissionAnsweredByHuman(t *testing.T) {
	p := startPipeline(t, pipeOpts{})

	prompts := make(chan Prompt, 1)
	p.mgr.OnPrompt(func(prompt Prompt) {
		prompts <- prompt
		p.mgr.SendDecision(prompt.Event.ID, models.PermissionAllow(models.SourceUser))
	})

	resp := p.send("perm-3", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{"behavior":"allow"}`, string(resp.Payload))

	got := <-prompts
	assert.Equal(t, PromptPermission, got.Kind)
	require.NotNil(t, got.Event)
	assert.Equal(t, "Bash", got.Event.ToolName)

	decision := p.feed.one(t, models.FeedPermissionDecision)
	assert.Equal(t, models.ActorUser, decision.ActorID)
}

func TestQuestionToolRoutedToPrompt(t *testing.T) {
	p := startPipeline(t, pipeOpts{})

	prompts := make(chan Prompt, 1)
	p.mgr.OnPrompt(func(prompt Prompt) {
		prompts <- prompt
		p.mgr.SendDecision(prompt.Event.ID,
			models.QuestionAnswer(models.SourceUser, map[string]string{"color": "blue"}))
	})

	resp := p.send("q-1", "PreToolUse", map[string]any{"tool_name": "AskUserQuestion"})
	assert.JSONEq(t,
		`{"hookSpecificOutput":{"hookEventName":"AskUserQuestion","answers":{"color":"blue"}}}`,
		string(resp.Payload))
	assert.Equal(t, PromptQuestion, (<-prompts).Kind)
}

func TestUnansweredPermissionResolvesByTimeout(t *testing.T) {
	p := startPipeline(t, pipeOpts{maxWait: 50 * time.Millisecond})

	decided := make(chan models.DecisionSource, 1)
	p.mgr.OnDecision(func(_ *models.RuntimeEvent, d *models.RuntimeDecision) {
		decided <- d.Source
	})

	resp := p.send("perm-4", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{}`, string(resp.Payload))

	select {
	case source := <-decided:
		assert.Equal(t, models.SourceTimeout, source)
	case <-time.After(2 * time.Second):
		t.Fatal("decision not observed")
	}

	decision := p.feed.one(t, models.FeedPermissionDecision)
	var data struct {
		DecisionType string `json:"decision_type"`
		Reason       string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(decision.Data, &data))
	assert.Equal(t, "no_opinion", data.DecisionType)
	assert.Equal(t, "timeout", data.Reason)
}

func TestNonInteractiveWithoutResponderAborts(t *testing.T) {
	p := startPipeline(t, pipeOpts{nonInteractive: true})

	resp := p.send("perm-5", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{"behavior":"deny","message":"No responder available"}`, string(resp.Payload))

	select {
	case err := <-p.mgr.Failures():
		require.ErrorIs(t, err, ErrNoResponder)
	case <-time.After(2 * time.Second):
		t.Fatal("policy failure not reported")
	}
}

func TestNonInteractiveRuleStillDecides(t *testing.T) {
	p := startPipeline(t, pipeOpts{nonInteractive: true, rules: []models.HookRule{
		{ID: "r1", ToolName: "Bash", Action: models.RuleApprove, AddedBy: "rules-file"},
	}})

	resp := p.send("perm-6", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{"behavior":"allow"}`, string(resp.Payload))

	select {
	case err := <-p.mgr.Failures():
		t.Fatalf("unexpected policy failure: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopPromptCanBlockStop(t *testing.T) {
	p := startPipeline(t, pipeOpts{})

	prompts := make(chan Prompt, 1)
	p.mgr.OnPrompt(func(prompt Prompt) {
		prompts <- prompt
		p.mgr.SendDecision(prompt.Event.ID, models.StopBlock(models.SourceUser, "keep going"))
	})

	resp := p.send("stop-1", "Stop", map[string]any{"last_assistant_message": "all done"})
	assert.JSONEq(t, `{"decision":"block","reason":"keep going"}`, string(resp.Payload))
	assert.Equal(t, PromptStop, (<-prompts).Kind)

	decision := p.feed.one(t, models.FeedStopDecision)
	assert.Equal(t, models.LevelWarn, decision.Level)
	var data struct {
		DecisionType string `json:"decision_type"`
		Reason       string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(decision.Data, &data))
	assert.Equal(t, "block", data.DecisionType)
	assert.Equal(t, "keep going", data.Reason)
}

func TestInformationalEventsResolveImmediately(t *testing.T) {
	p := startPipeline(t, pipeOpts{})

	decided := make(chan *models.RuntimeDecision, 1)
	p.mgr.OnDecision(func(_ *models.RuntimeEvent, d *models.RuntimeDecision) {
		decided <- d
	})

	started := time.Now()
	resp := p.send("note-1", "Notification", map[string]any{"message": "build finished"})
	assert.JSONEq(t, `{}`, string(resp.Payload))
	assert.Less(t, time.Since(started), 2*time.Second)

	select {
	case d := <-decided:
		assert.Equal(t, models.DecisionPassthrough, d.Type)
		assert.Equal(t, models.SourceRule, d.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("decision not observed")
	}

	p.feed.one(t, models.FeedNotification)
	assert.Empty(t, p.feed.kind(models.FeedPermissionDecision))
	assert.Empty(t, p.feed.kind(models.FeedStopDecision))
}

func TestAddRuleAppliesToLaterRequests(t *testing.T) {
	p := startPipeline(t, pipeOpts{maxWait: 50 * time.Millisecond})

	resp := p.send("perm-7", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{}`, string(resp.Payload))

	p.mgr.AddRule(models.HookRule{ID: "r1", ToolName: "Bash", Action: models.RuleApprove, AddedBy: "user"})
	require.Len(t, p.mgr.Rules(), 1)

	resp = p.send("perm-8", "PermissionRequest", map[string]any{"tool_name": "Bash"})
	assert.JSONEq(t, `{"behavior":"allow"}`, string(resp.Payload))
}

func TestTokenAccountingAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ses_tokens.db")

	st, err := store.Open(dbPath, "ses_tokens", dir)
	require.NoError(t, err)
	p := startPipeline(t, pipeOpts{st: st, mapper: feed.New("ses_tokens")})

	p.send("tok-1", "Stop", map[string]any{
		"last_assistant_message": "done",
		"usage": map[string]any{
			"input_tokens":            100,
			"output_tokens":           25,
			"cache_read_input_tokens": 7,
			"context_size":            8000,
		},
	})
	assert.Equal(t, models.TokenUsage{
		InputTokens: 100, OutputTokens: 25, CacheReadTokens: 7, ContextSize: 8000,
	}, p.mgr.Tokens())

	p.sendFrom("adapter-2", "tok-2", "SessionEnd", map[string]any{
		"reason": "exit",
		"usage": map[string]any{
			"input_tokens":  50,
			"output_tokens": 10,
			"context_size":  6000,
		},
	})
	assert.Equal(t, models.TokenUsage{
		InputTokens: 150, OutputTokens: 35, CacheReadTokens: 7, ContextSize: 6000,
	}, p.mgr.Tokens())

	p.stop()
	st.Close()

	st2, err := store.Open(dbPath, "ses_tokens", dir)
	require.NoError(t, err)
	t.Cleanup(st2.Close)
	b, err := st2.ToBootstrap()
	require.NoError(t, err)

	p2 := startPipeline(t, pipeOpts{st: st2, mapper: feed.NewFromBootstrap(b)})
	assert.Equal(t, models.TokenUsage{
		InputTokens: 150, OutputTokens: 35, CacheReadTokens: 7, ContextSize: 6000,
	}, p2.mgr.Tokens())
}

func TestDegradedStoreKeepsPipelineAlive(t *testing.T) {
	p := startPipeline(t, pipeOpts{store: true})

	p.st.MarkDegraded("disk full")

	resp := p.send("deg-1", "UserPromptSubmit", map[string]any{"prompt": "still here"})
	assert.JSONEq(t, `{}`, string(resp.Payload))

	p.feed.one(t, models.FeedUserPrompt)

	degraded, reason := p.mgr.Degraded()
	assert.True(t, degraded)
	assert.Equal(t, "disk full", reason)

	restored, err := p.st.Restore()
	require.NoError(t, err)
	assert.Empty(t, restored.FeedEvents)

	select {
	case err := <-p.mgr.Failures():
		t.Fatalf("persistence loss must not abort the run: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResumeContinuesSequenceAndCorrelation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ses_resume.db")

	st, err := store.Open(dbPath, "ses_resume", dir)
	require.NoError(t, err)
	p := startPipeline(t, pipeOpts{st: st, mapper: feed.New("ses_resume")})

	p.send("res-1", "SessionStart", map[string]any{"source": "startup"})
	p.send("res-2", "UserPromptSubmit", map[string]any{"prompt": "fix bug"})
	p.send("res-3", "PreToolUse", map[string]any{"tool_name": "Bash", "tool_use_id": "tu-1"})

	pre := p.feed.one(t, models.FeedToolPre)
	var maxSeq int64
	for _, fe := range p.feed.all() {
		if fe.Seq > maxSeq {
			maxSeq = fe.Seq
		}
	}

	p.stop()
	st.Close()

	st2, err := store.Open(dbPath, "ses_resume", dir)
	require.NoError(t, err)
	t.Cleanup(st2.Close)
	b, err := st2.ToBootstrap()
	require.NoError(t, err)

	p2 := startPipeline(t, pipeOpts{st: st2, mapper: feed.NewFromBootstrap(b)})

	run := p2.mgr.CurrentRun()
	require.NotNil(t, run)
	assert.Equal(t, "R1", run.ID)
	assert.Equal(t, 1, run.Counters.ToolUses)

	p2.send("res-4", "PostToolUse", map[string]any{"tool_name": "Bash", "tool_use_id": "tu-1"})

	post := p2.feed.one(t, models.FeedToolPost)
	require.NotNil(t, post.Cause)
	assert.Equal(t, pre.ID, post.Cause.ParentEventID)
	assert.Greater(t, post.Seq, maxSeq)

	p2.send("res-5", "UserPromptSubmit", map[string]any{"prompt": "next task"})
	run = p2.mgr.CurrentRun()
	require.NotNil(t, run)
	assert.Equal(t, "R2", run.ID)
}
