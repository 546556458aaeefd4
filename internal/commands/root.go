package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "ink",
		Short:         "Terminal control plane for coding-agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			// Wire --config-dir into the app-level resolver.
			if configDir, err := cmd.Flags().GetString("config-dir"); err == nil && configDir != "" {
				app.SetConfigDirOverride(configDir)
			}

			return app.EnsureConfigDir()
		},
	}

	root.PersistentFlags().String("config-dir", "", "Override config directory (default: ~/.config/ink)")
	root.PersistentFlags().String("project", "", "Project directory (default: current directory)")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	root.Flags().BoolP("version", "v", false, "version for ink")

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewTuiCmd())
	root.AddCommand(NewHookCmd())
	root.AddCommand(NewSessionsCmd())
	root.AddCommand(NewRulesCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewDoctorCmd())
	root.AddCommand(NewDemoCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Error("command failed", "error", err.Error())
		}
	}
	return err
}
