package adapter

import (
	"encoding/json"
	"testing"

	"github.com/dotcommander/ink/internal/models"
	"github.com/stretchr/testify/require"
)

func makeRequest(t *testing.T, hookEvent string, payload string) *Request {
	t.Helper()
	req := &Request{
		RequestID:     "req-1",
		TS:            1724300000000,
		SessionID:     "adapter-sess-1",
		HookEventName: hookEvent,
	}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	require.NoError(t, req.Validate())
	return req
}

func TestParseRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
	}{
		{"valid", `{"request_id":"r1","ts":1,"session_id":"s1","hook_event_name":"Stop","payload":{}}`, true},
		{"valid null payload", `{"request_id":"r1","ts":1,"session_id":"s1","hook_event_name":"Stop","payload":null}`, true},
		{"missing request_id", `{"ts":1,"session_id":"s1","hook_event_name":"Stop"}`, false},
		{"missing session_id", `{"request_id":"r1","ts":1,"hook_event_name":"Stop"}`, false},
		{"missing hook_event_name", `{"request_id":"r1","ts":1,"session_id":"s1"}`, false},
		{"zero ts", `{"request_id":"r1","ts":0,"session_id":"s1","hook_event_name":"Stop"}`, false},
		{"array payload", `{"request_id":"r1","ts":1,"session_id":"s1","hook_event_name":"Stop","payload":[1]}`, false},
		{"not json", `not json at all`, false},
		{"truncated object", `{"request_id":"r1",`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.line))
			if tt.ok {
				require.NoError(t, err)
				require.NotNil(t, req)
				return
			}
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestTranslateCopiesEnvelopeFields(t *testing.T) {
	req := makeRequest(t, "SessionStart", `{"source":"startup","cwd":"/work/repo","transcript_path":"/tmp/t.jsonl"}`)

	ev, err := Translate(req)
	require.NoError(t, err)
	require.Equal(t, "req-1", ev.ID)
	require.Equal(t, int64(1724300000000), ev.TS)
	require.Equal(t, "adapter-sess-1", ev.SessionID)
	require.Equal(t, models.KindSessionStart, ev.Kind)
	require.Equal(t, "/work/repo", ev.Context.CWD)
	require.Equal(t, "/tmp/t.jsonl", ev.Context.TranscriptPath)

	data, ok := ev.Data.(models.SessionStartData)
	require.True(t, ok)
	require.Equal(t, "startup", data.Source)
}

func TestTranslateToolShapedDerivedFields(t *testing.T) {
	req := makeRequest(t, "PreToolUse", `{"tool_name":"Bash","tool_use_id":"tu-1","tool_input":{"command":"ls"}}`)

	ev, err := Translate(req)
	require.NoError(t, err)
	require.Equal(t, models.KindToolPre, ev.Kind)
	require.Equal(t, "Bash", ev.ToolName)
	require.Equal(t, "tu-1", ev.ToolUseID)

	data, ok := ev.Data.(models.ToolPreData)
	require.True(t, ok)
	require.Equal(t, "Bash", data.ToolName)
	require.JSONEq(t, `{"command":"ls"}`, string(data.ToolInput))
}

func TestTranslateSubagentDerivedFields(t *testing.T) {
	start, err := Translate(makeRequest(t, "SubagentStart", `{"agent_id":"sa-1","agent_type":"explore"}`))
	require.NoError(t, err)
	require.Equal(t, "sa-1", start.AgentID)
	require.Equal(t, "explore", start.AgentType)

	stop, err := Translate(makeRequest(t, "SubagentStop", `{"agent_id":"sa-1","last_assistant_message":"found it"}`))
	require.NoError(t, err)
	data, ok := stop.Data.(models.SubagentStopData)
	require.True(t, ok)
	require.Equal(t, "found it", data.LastAssistantMessage)
}

func TestTranslateStopUsage(t *testing.T) {
	req := makeRequest(t, "Stop", `{"last_assistant_message":"done","usage":{"input_tokens":120,"output_tokens":45,"context_size":9000}}`)

	ev, err := Translate(req)
	require.NoError(t, err)
	data, ok := ev.Data.(models.StopRequestData)
	require.True(t, ok)
	require.Equal(t, "done", data.LastAssistantMessage)
	require.NotNil(t, data.Usage)
	require.Equal(t, int64(120), data.Usage.InputTokens)
	require.Equal(t, int64(9000), data.Usage.ContextSize)
}

func TestTranslateUnknownKeepsRawPayload(t *testing.T) {
	req := makeRequest(t, "SomethingNew", `{"mystery":true}`)

	ev, err := Translate(req)
	require.NoError(t, err)
	require.Equal(t, models.KindUnknown, ev.Kind)

	data, ok := ev.Data.(models.UnknownData)
	require.True(t, ok)
	require.Equal(t, "SomethingNew", data.SourceEventName)
	require.JSONEq(t, `{"mystery":true}`, string(data.Payload))

	// Unknown kinds get the safest hints: no decision, short timeout, no block.
	require.False(t, ev.Hints.ExpectsDecision)
	require.False(t, ev.Hints.CanBlock)
	require.Equal(t, informationalTimeoutMs, ev.Hints.DefaultTimeoutMs)
}

func TestInteractionHintsTable(t *testing.T) {
	perm := HintsFor(models.KindPermissionRequest)
	require.True(t, perm.ExpectsDecision)
	require.True(t, perm.CanBlock)
	require.Equal(t, decisionTimeoutMs, perm.DefaultTimeoutMs)

	pre := HintsFor(models.KindToolPre)
	require.Equal(t, perm, pre)

	stop := HintsFor(models.KindStopRequest)
	require.True(t, stop.ExpectsDecision)
	require.Equal(t, stopTimeoutMs, stop.DefaultTimeoutMs)

	note := HintsFor(models.KindNotification)
	require.False(t, note.ExpectsDecision)
	require.False(t, note.CanBlock)
	require.Equal(t, informationalTimeoutMs, note.DefaultTimeoutMs)
}
