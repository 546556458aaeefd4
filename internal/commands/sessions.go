package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/output"
	"github.com/dotcommander/ink/internal/store"
)

// NewSessionsCmd creates the session inspection command group.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions for a project",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	return cmd
}

// sessionInfo is a listing row: the stored summary plus whether a writer
// currently holds the session lock.
type sessionInfo struct {
	store.SessionSummary
	Active bool `json:"active"`
}

func listSessions(projectDir string) ([]sessionInfo, error) {
	summaries, err := store.ListSessions(app.SessionsDir(projectDir))
	if err != nil {
		return nil, err
	}
	infos := make([]sessionInfo, 0, len(summaries))
	for _, s := range summaries {
		infos = append(infos, sessionInfo{SessionSummary: s, Active: store.Locked(s.Path)})
	}
	return infos, nil
}

func newSessionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List session stores, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			sessions, err := listSessions(projectDir)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				ProjectDir string        `json:"project_dir"`
				Sessions   []sessionInfo `json:"sessions"`
			}
			return output.PrintSuccess(resp{ProjectDir: projectDir, Sessions: sessions})
		},
	}
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	var (
		tail   int
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's stored timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			sessionID := args[0]
			dbPath := app.SessionDBPath(projectDir, sessionID)
			restored, err := store.ReadSession(dbPath)
			if err != nil {
				return cmdErr(fmt.Errorf("session %s: %w", sessionID, err))
			}

			feedTail := restored.FeedEvents
			if tail > 0 && len(feedTail) > tail {
				feedTail = feedTail[len(feedTail)-tail:]
			}

			var findings []store.Diagnostic
			if verify {
				findings = store.VerifyFeedLog(restored.FeedEvents)
			}

			type resp struct {
				Session         models.Session          `json:"session"`
				Active          bool                    `json:"active"`
				AdapterSessions []models.AdapterSession `json:"adapter_sessions"`
				EventCount      int64                   `json:"event_count"`
				FeedEventCount  int                     `json:"feed_event_count"`
				Tokens          models.TokenUsage       `json:"tokens"`
				FeedTail        []models.FeedEvent      `json:"feed_tail,omitempty"`
				Findings        []store.Diagnostic      `json:"findings,omitempty"`
			}
			return output.PrintSuccess(resp{
				Session:         restored.Session,
				Active:          store.Locked(dbPath),
				AdapterSessions: restored.AdapterSessions,
				EventCount:      restored.EventCount,
				FeedEventCount:  len(restored.FeedEvents),
				Tokens:          totalTokens(restored.AdapterSessions),
				FeedTail:        feedTail,
				Findings:        findings,
			})
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 10, "Include the last N feed events (0 for none)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Run sequence and causality consistency checks over the stored timeline")
	return cmd
}

// totalTokens sums counters across adapter sessions; context size comes from
// the most recently started one, since it is a point-in-time figure.
func totalTokens(adapters []models.AdapterSession) models.TokenUsage {
	var total models.TokenUsage
	var latestStart int64
	for _, a := range adapters {
		total.InputTokens += a.Tokens.InputTokens
		total.OutputTokens += a.Tokens.OutputTokens
		total.CacheReadTokens += a.Tokens.CacheReadTokens
		if a.StartedAt >= latestStart {
			latestStart = a.StartedAt
			total.ContextSize = a.Tokens.ContextSize
		}
	}
	return total
}
