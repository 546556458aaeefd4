package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/demo"
)

// NewDemoCmd creates the demo command: a scripted session played against a
// real pipeline in a throwaway project directory.
func NewDemoCmd() *cobra.Command {
	var delayMs int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Play a scripted session through a live pipeline",
		Long: `Wires a socket server, feed mapper, and session store in a temporary
project directory, then drives a scripted coding-agent session through it
over the socket. Useful for seeing the whole control plane work without a
harness attached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.MkdirTemp("", "ink-demo-*")
			if err != nil {
				return cmdErr(err)
			}
			defer os.RemoveAll(dir)

			runner, err := demo.New(demo.Config{
				ProjectDir: dir,
				Out:        cmd.OutOrStdout(),
				Delay:      time.Duration(delayMs) * time.Millisecond,
			})
			if err != nil {
				return cmdErr(err)
			}
			defer runner.Close()

			if _, _, err := runner.Run(); err != nil {
				return cmdErr(err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&delayMs, "delay-ms", 400, "Pause between steps (0 runs flat out)")
	return cmd
}
