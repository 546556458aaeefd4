package feed

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/ink/internal/models"
)

func restartOptions() []Option {
	ids := 0
	ts := int64(1_800_000_000_000)
	return []Option{
		WithClock(func() time.Time { ts += 5; return time.UnixMilli(ts) }),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("evt_r%04d", ids) }),
	}
}

func maxSeq(events []models.FeedEvent) int64 {
	var max int64
	for _, fe := range events {
		if fe.Seq > max {
			max = fe.Seq
		}
	}
	return max
}

func TestBootstrapResumesOpenRun(t *testing.T) {
	m := newTestMapper()
	stored := mapAll(m,
		rtEvent(models.KindSessionStart, models.SessionStartData{Source: "startup"}),
		rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "migrate the schema"}),
	)
	pre := rtEvent(models.KindToolPre, models.ToolPreData{ToolName: "Bash"})
	pre.ToolUseID = "tu_live"
	preOut := m.MapEvent(pre)
	stored = append(stored, preOut...)
	stored = append(stored, m.MapEvent(rtEvent(models.KindPermissionRequest, models.PermissionRequestData{ToolName: "Write"}))...)

	restored := NewFromBootstrap(Bootstrap{
		SessionID:         "ses_test",
		CreatedAt:         1_700_000_000_000,
		AdapterSessionIDs: []string{"adapter-1"},
		FeedEvents:        stored,
	}, restartOptions()...)

	run := restored.CurrentRun()
	require.NotNil(t, run)
	require.Equal(t, "R1", run.ID)
	require.Equal(t, TriggerUserPrompt, run.Trigger.Type)
	require.Equal(t, "migrate the schema", run.Trigger.PromptPreview)
	require.Equal(t, 1, run.Counters.ToolUses)
	require.Equal(t, 1, run.Counters.PermissionRequests)

	sess := restored.Session()
	require.Equal(t, []string{"adapter-1"}, sess.AdapterSessionIDs)
}

func TestBootstrapSeqContinuesPastStored(t *testing.T) {
	m := newTestMapper()
	stored := mapAll(m,
		rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "one"}),
		rtEvent(models.KindToolPre, models.ToolPreData{ToolName: "Read"}),
	)
	high := maxSeq(stored)

	restored := NewFromBootstrap(Bootstrap{SessionID: "ses_test", FeedEvents: stored}, restartOptions()...)
	out := restored.MapEvent(rtEvent(models.KindNotification, models.NotificationData{Message: "back"}))

	require.Len(t, out, 1)
	require.Equal(t, high+1, out[0].Seq)
}

func TestBootstrapCorrelatesToolsAcrossRestart(t *testing.T) {
	m := newTestMapper()
	stored := mapAll(m, rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "work"}))
	pre := rtEvent(models.KindToolPre, models.ToolPreData{ToolName: "Bash"})
	pre.ToolUseID = "tu_live"
	preOut := m.MapEvent(pre)
	stored = append(stored, preOut...)

	restored := NewFromBootstrap(Bootstrap{SessionID: "ses_test", FeedEvents: stored}, restartOptions()...)

	post := rtEvent(models.KindToolPost, models.ToolPostData{ToolName: "Bash"})
	post.ToolUseID = "tu_live"
	out := restored.MapEvent(post)

	require.Len(t, out, 1)
	require.Equal(t, preOut[0].ID, out[0].Cause.ParentEventID)
}

func TestBootstrapClosedRunStaysClosed(t *testing.T) {
	m := newTestMapper()
	stored := mapAll(m,
		rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "work"}),
		rtEvent(models.KindSessionEnd, models.SessionEndData{Reason: "exit"}),
	)

	restored := NewFromBootstrap(Bootstrap{SessionID: "ses_test", FeedEvents: stored}, restartOptions()...)
	require.Nil(t, restored.CurrentRun())

	out := restored.MapEvent(rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "again"}))
	require.Equal(t, []models.FeedKind{models.FeedRunStart, models.FeedUserPrompt}, kinds(out))
	require.Equal(t, "R2", restored.CurrentRun().ID)
}

func TestBootstrapDoesNotRestoreSubagentStack(t *testing.T) {
	m := newTestMapper()
	stored := mapAll(m,
		rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "delegate"}),
		rtEvent(models.KindSubagentStart, models.SubagentStartData{AgentID: "a1", AgentType: "explorer"}),
	)

	restored := NewFromBootstrap(Bootstrap{SessionID: "ses_test", FeedEvents: stored}, restartOptions()...)

	pre := rtEvent(models.KindToolPre, models.ToolPreData{ToolName: "Grep"})
	out := restored.MapEvent(pre)
	require.Equal(t, models.ActorAgentRoot, out[0].ActorID)

	byID := make(map[string]models.Actor)
	for _, a := range restored.Actors() {
		byID[a.ID] = a
	}
	require.Equal(t, models.ActorTypeSubagent, byID["subagent:a1"].Type)
	require.Equal(t, "explorer", byID["subagent:a1"].AgentType)
}

func TestBootstrapIgnoresStaleCorrelationFromClosedRuns(t *testing.T) {
	m := newTestMapper()
	stored := mapAll(m, rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "first"}))
	pre := rtEvent(models.KindToolPre, models.ToolPreData{ToolName: "Bash"})
	pre.ToolUseID = "tu_old"
	stored = append(stored, m.MapEvent(pre)...)
	stored = append(stored, mapAll(m,
		rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "second"}),
	)...)

	restored := NewFromBootstrap(Bootstrap{SessionID: "ses_test", FeedEvents: stored}, restartOptions()...)

	post := rtEvent(models.KindToolPost, models.ToolPostData{ToolName: "Bash"})
	post.ToolUseID = "tu_old"
	out := restored.MapEvent(post)
	require.Empty(t, out[0].Cause.ParentEventID)
}

func TestBootstrapEmptyHistory(t *testing.T) {
	restored := NewFromBootstrap(Bootstrap{SessionID: "ses_fresh"}, restartOptions()...)
	require.Nil(t, restored.CurrentRun())

	out := restored.MapEvent(rtEvent(models.KindUserPrompt, models.UserPromptData{Prompt: "hello"}))
	require.Equal(t, "R1", restored.CurrentRun().ID)
	require.Equal(t, int64(1), out[0].Seq)

	var data runStartData
	require.NoError(t, json.Unmarshal(out[0].Data, &data))
	require.Equal(t, "R1", data.RunID)
}
