package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/adapter"
	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/models"
)

const (
	// maxHookStdinBytes caps stdin reads. Hook payloads are small JSON objects;
	// 1 MB is generous headroom that prevents unbounded allocation.
	maxHookStdinBytes = 1 << 20

	// defaultForwardTimeoutMs sits above the server's longest decision
	// window so the forwarder sees the timeout response rather than a dead
	// socket.
	defaultForwardTimeoutMs = 310000

	dialTimeout = 2 * time.Second
)

// NewHookCmd creates the hook parent command.
func NewHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Forward and install harness hooks",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(newHookForwardCmd())
	cmd.AddCommand(newHookInstallCmd())
	cmd.AddCommand(newHookUninstallCmd())
	return cmd
}

// hookStdin is the slice of the harness hook payload the forwarder inspects.
// The full object rides along untouched as the envelope payload.
type hookStdin struct {
	SessionID     string `json:"session_id"`
	HookEventName string `json:"hook_event_name"`
	CWD           string `json:"cwd"`
}

func newHookForwardCmd() *cobra.Command {
	var (
		socket    string
		timeoutMs int
	)

	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Forward one hook payload from stdin to the instance socket",
		Long: `Reads one harness hook JSON object from stdin, wraps it in a request
envelope, sends it to the running ink instance, and prints the response
payload to stdout. Always exits 0: a hook must never block the harness.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, _ := cmd.Flags().GetString("project")
			timeout := time.Duration(timeoutMs) * time.Millisecond
			if err := forwardHook(cmd.InOrStdin(), cmd.OutOrStdout(), socket, projectDir, timeout); err != nil {
				slog.Warn("hook forward failed", "error", err.Error())
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Instance socket path (default: discover under {project}/.ink/run)")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", defaultForwardTimeoutMs, "Give up waiting for a response after this long")
	return cmd
}

// forwardHook bridges one hook invocation to the server: stdin arrives whole,
// session_id and hook_event_name are lifted into the envelope, and the
// original object becomes the payload. The response payload goes to out.
func forwardHook(in io.Reader, out io.Writer, socket, projectDir string, timeout time.Duration) error {
	raw, err := io.ReadAll(io.LimitReader(in, maxHookStdinBytes))
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	var head hookStdin
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("parse hook payload: %w", err)
	}
	if head.HookEventName == "" {
		return errors.New("hook payload missing hook_event_name")
	}
	sessionID := head.SessionID
	if sessionID == "" {
		sessionID = "unknown"
	}

	if socket == "" {
		dir := projectDir
		if dir == "" {
			dir = head.CWD
		}
		if dir == "" {
			dir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
		}
		socket, err = app.DiscoverSocket(dir)
		if err != nil {
			return err
		}
	}

	env := map[string]any{
		"request_id":      models.NewRequestID(),
		"ts":              time.Now().UnixMilli(),
		"session_id":      sessionID,
		"hook_event_name": head.HookEventName,
		"payload":         json.RawMessage(raw),
	}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	conn, err := net.DialTimeout("unix", socket, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socket, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	// The server writes exactly one response line and half-closes.
	data, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("connection closed without response")
	}

	var resp adapter.Response
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	payload := resp.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}
