package commands

import (
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/models"
)

// NewServeCmd creates the headless pipeline command.
func NewServeCmd() *cobra.Command {
	var (
		resumeID       string
		instanceID     int
		nonInteractive bool
		noStore        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane headless, printing feed events as NDJSON",
		Long: `Serve starts the full pipeline for a project: socket server, event
translation, policy, feed mapping, and the session store. Feed events are
printed to stdout as NDJSON; queued requests resolve from rules or time out.

With --non-interactive an unresolvable permission request is fatal (exit 2)
instead of waiting out its timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			p, err := buildPipeline(pipelineOptions{
				projectDir:     projectDir,
				resumeID:       resumeID,
				instanceID:     instanceID,
				nonInteractive: nonInteractive,
				noStore:        noStore,
			})
			if err != nil {
				return cmdErr(err)
			}
			defer p.close()

			// Feed delivery is serialized by the manager, so the encoder
			// needs no extra locking.
			enc := json.NewEncoder(cmd.OutOrStdout())
			p.manager.OnFeed(func(fe models.FeedEvent) { _ = enc.Encode(fe) })

			if err := p.server.Start(); err != nil {
				return cmdErr(err)
			}
			slog.Info("ink serving",
				"socket", p.socketPath,
				"session", p.sessionID,
				"project", p.projectDir,
				"non_interactive", nonInteractive)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case <-ctx.Done():
				slog.Info("shutting down", "session", p.sessionID)
				return nil
			case err := <-p.manager.Failures():
				return exitError{code: 2, err: err}
			}
		},
	}

	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume an existing session id")
	cmd.Flags().IntVar(&instanceID, "instance-id", 0, "Socket instance id (default: process id)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Fail fast when a queued request has no responder")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Run without a durable session store")
	return cmd
}
