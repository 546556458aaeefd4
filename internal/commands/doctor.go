package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/output"
	"github.com/dotcommander/ink/internal/store"
)

// NewDoctorCmd creates the doctor command: config, socket, and store health
// in one pass. Doctor only reads; it never creates state dirs or sockets.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, socket, and session store health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type sessionCheck struct {
				ID         string             `json:"id"`
				Active     bool               `json:"active"`
				FeedEvents int                `json:"feed_events"`
				OK         bool               `json:"ok"`
				Error      string             `json:"error,omitempty"`
				Findings   []store.Diagnostic `json:"findings,omitempty"`
			}

			type resp struct {
				Healthy      bool           `json:"healthy"`
				ConfigDir    string         `json:"config_dir"`
				ConfigSource string         `json:"config_source"`
				ConfigError  string         `json:"config_error,omitempty"`
				ProjectDir   string         `json:"project_dir"`
				Socket       string         `json:"socket,omitempty"`
				SocketLive   bool           `json:"socket_live"`
				Sessions     []sessionCheck `json:"sessions"`
			}

			result := resp{Healthy: true}

			var err error
			result.ConfigDir, result.ConfigSource, err = app.ResolveConfigDirDetailed()
			if err != nil {
				return cmdErr(err)
			}
			if _, err := app.LoadSettings(); err != nil {
				result.ConfigError = err.Error()
				result.Healthy = false
			}

			result.ProjectDir, err = resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			// A missing socket is not unhealthy (no instance running); a
			// socket nothing answers on is, since hooks will stall on it
			// until their timeout.
			if socket, sockErr := app.DiscoverSocket(result.ProjectDir); sockErr == nil {
				result.Socket = socket
				result.SocketLive = dialCheck(socket)
				if !result.SocketLive {
					result.Healthy = false
				}
			}

			summaries, err := store.ListSessions(app.SessionsDir(result.ProjectDir))
			if err != nil {
				return cmdErr(err)
			}
			for _, s := range summaries {
				check := sessionCheck{ID: s.ID, Active: store.Locked(s.Path), OK: true}

				restored, readErr := store.ReadSession(s.Path)
				if readErr != nil {
					check.OK = false
					check.Error = readErr.Error()
					result.Healthy = false
					result.Sessions = append(result.Sessions, check)
					continue
				}

				check.FeedEvents = len(restored.FeedEvents)
				check.Findings = store.VerifyFeedLog(restored.FeedEvents)
				if store.HasErrors(check.Findings) {
					check.OK = false
					check.Error = fmt.Sprintf("%d consistency findings", len(check.Findings))
					result.Healthy = false
				}
				result.Sessions = append(result.Sessions, check)
			}

			return output.PrintSuccess(result)
		},
	}
	return cmd
}
