package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalsBlock(t *testing.T) {
	tests := []struct {
		name string
		d    *RuntimeDecision
		want bool
	}{
		{
			name: "stop block intent",
			d:    StopBlock(SourceUser, "keep going"),
			want: true,
		},
		{
			name: "block type",
			d:    &RuntimeDecision{Type: DecisionBlock, Source: SourceUser},
			want: true,
		},
		{
			name: "raw block discriminator",
			d: &RuntimeDecision{
				Type:    DecisionJSON,
				Source:  SourceUser,
				Payload: json.RawMessage(`{"decision":"block","reason":"tests failing"}`),
			},
			want: true,
		},
		{
			name: "raw not-ok flag",
			d: &RuntimeDecision{
				Type:    DecisionJSON,
				Source:  SourceUser,
				Payload: json.RawMessage(`{"ok":false}`),
			},
			want: true,
		},
		{
			name: "raw ok true",
			d: &RuntimeDecision{
				Type:    DecisionJSON,
				Source:  SourceUser,
				Payload: json.RawMessage(`{"ok":true}`),
			},
			want: false,
		},
		{
			name: "timeout passthrough",
			d:    TimeoutDecision(),
			want: false,
		},
		{
			name: "permission allow",
			d:    PermissionAllow(SourceRule),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.d.SignalsBlock())
		})
	}
}

func TestBlockReason(t *testing.T) {
	d := StopBlock(SourceUser, "finish the migration first")
	require.Equal(t, "finish the migration first", d.BlockReason())

	raw := &RuntimeDecision{
		Type:    DecisionJSON,
		Source:  SourceUser,
		Payload: json.RawMessage(`{"decision":"block","reason":"tests failing"}`),
	}
	require.Equal(t, "tests failing", raw.BlockReason())

	require.Empty(t, TimeoutDecision().BlockReason())
}

func TestHookRuleMatches(t *testing.T) {
	exact := HookRule{ToolName: "Bash", Action: RuleDeny}
	require.True(t, exact.Matches("Bash"))
	require.False(t, exact.Matches("BashOutput"))
	require.False(t, exact.Matches(""))

	prefix := HookRule{ToolName: "mcp__github__*", Action: RuleApprove}
	require.True(t, prefix.IsPrefix())
	require.True(t, prefix.Matches("mcp__github__create_issue"))
	require.False(t, prefix.Matches("mcp__jira__create_issue"))
}

func TestTokenUsageAdd(t *testing.T) {
	var total TokenUsage
	total.Add(TokenUsage{InputTokens: 100, OutputTokens: 40, ContextSize: 9000})
	total.Add(TokenUsage{InputTokens: 50, OutputTokens: 10, CacheReadTokens: 300, ContextSize: 12000})

	require.Equal(t, int64(150), total.InputTokens)
	require.Equal(t, int64(50), total.OutputTokens)
	require.Equal(t, int64(300), total.CacheReadTokens)
	// Context size is point-in-time, the latest non-zero value wins.
	require.Equal(t, int64(12000), total.ContextSize)

	total.Add(TokenUsage{InputTokens: 5})
	require.Equal(t, int64(12000), total.ContextSize)
}

func TestSubagentActorID(t *testing.T) {
	id := SubagentActorID("sa-1")
	require.Equal(t, "subagent:sa-1", id)
	require.Equal(t, "sa-1", SubagentIDFromActor(id))
	require.Empty(t, SubagentIDFromActor(ActorAgentRoot))
}
