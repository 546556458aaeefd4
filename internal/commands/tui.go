package commands

import (
	"fmt"
	"io"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/session"
	"github.com/dotcommander/ink/internal/tui"
)

// NewTuiCmd creates the interactive feed command.
func NewTuiCmd() *cobra.Command {
	var (
		resumeID   string
		instanceID int
		noStore    bool
	)

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the control plane with a live feed timeline",
		Long: `Tui starts the same pipeline as serve and renders the feed as a live
timeline. Pending permission, question, and stop requests surface in a
decision panel; [y]/[n] answer them, [a] approves and records an
always-allow rule in the project rules.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			p, err := buildPipeline(pipelineOptions{
				projectDir: projectDir,
				resumeID:   resumeID,
				instanceID: instanceID,
				noStore:    noStore,
			})
			if err != nil {
				return cmdErr(err)
			}
			defer p.close()

			model := tui.NewApp(tui.Config{
				Manager:    p.manager,
				ProjectDir: p.projectDir,
				SessionID:  p.sessionID,
				Socket:     p.socketPath,
				PersistRule: func(rule models.HookRule) error {
					rules, err := app.LoadRules(p.projectDir)
					if err != nil {
						return err
					}
					return app.SaveRules(p.projectDir, append(rules, rule))
				},
			})
			prog := tea.NewProgram(model, tea.WithAltScreen())

			// The TUI owns the terminal; JSON logs on stderr would tear the
			// screen apart.
			restore := slog.Default()
			slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
			defer slog.SetDefault(restore)

			unsubFeed := p.manager.OnFeed(func(fe models.FeedEvent) {
				prog.Send(tui.FeedMsg(fe))
			})
			defer unsubFeed()
			unsubPrompt := p.manager.OnPrompt(func(pr session.Prompt) {
				prog.Send(tui.PromptMsg(pr))
			})
			defer unsubPrompt()
			unsubDecision := p.manager.OnDecision(func(ev *models.RuntimeEvent, _ *models.RuntimeDecision) {
				prog.Send(tui.ResolvedMsg{EventID: ev.ID})
			})
			defer unsubDecision()

			go func() {
				if err := <-p.manager.Failures(); err != nil {
					prog.Send(tui.FailureMsg{Err: err})
				}
			}()

			if err := p.server.Start(); err != nil {
				return cmdErr(err)
			}

			final, err := prog.Run()
			if err != nil {
				return cmdErr(fmt.Errorf("tui: %w", err))
			}
			if a, ok := final.(*tui.App); ok && a.Err() != nil {
				return exitError{code: 2, err: a.Err()}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume an existing session id")
	cmd.Flags().IntVar(&instanceID, "instance-id", 0, "Socket instance id (default: process id)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Run without a durable session store")
	return cmd
}
