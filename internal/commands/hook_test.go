package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/ink/internal/adapter"
)

// fakeInstance listens on a unix socket and answers each connection's first
// request line the way the server does: one response, then half-close.
// Received envelopes arrive on the returned channel.
func fakeInstance(t *testing.T, payload string) (socket string, requests <-chan adapter.Request) {
	t.Helper()
	socket = filepath.Join(t.TempDir(), "ink-1.sock")

	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ch := make(chan adapter.Request, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadBytes('\n')
				if err != nil {
					return
				}
				var req adapter.Request
				if json.Unmarshal(bytes.TrimSpace(line), &req) != nil {
					return
				}
				ch <- req

				resp := adapter.Response{
					RequestID: req.RequestID,
					TS:        time.Now().UnixMilli(),
					Payload:   json.RawMessage(payload),
				}
				data, _ := json.Marshal(resp)
				_, _ = conn.Write(append(data, '\n'))
				if uc, ok := conn.(*net.UnixConn); ok {
					_ = uc.CloseWrite()
				}
			}(conn)
		}
	}()
	return socket, ch
}

func TestForwardHookRoundTrip(t *testing.T) {
	socket, requests := fakeInstance(t, `{"behavior":"allow"}`)

	stdin := `{"session_id":"cc-1","hook_event_name":"PermissionRequest","tool_name":"Write"}`
	var out bytes.Buffer
	err := forwardHook(strings.NewReader(stdin), &out, socket, "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"behavior":"allow"}`, strings.TrimSpace(out.String()))

	req := <-requests
	assert.Equal(t, "cc-1", req.SessionID)
	assert.Equal(t, "PermissionRequest", req.HookEventName)
	assert.NotEmpty(t, req.RequestID)
	assert.Positive(t, req.TS)
	// The original stdin object rides along as the payload.
	assert.Contains(t, string(req.Payload), `"tool_name":"Write"`)
}

func TestForwardHookEmptyResponsePayload(t *testing.T) {
	socket, _ := fakeInstance(t, `null`)

	stdin := `{"session_id":"cc-1","hook_event_name":"Notification"}`
	var out bytes.Buffer
	err := forwardHook(strings.NewReader(stdin), &out, socket, "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(out.String()))
}

func TestForwardHookMissingEventName(t *testing.T) {
	var out bytes.Buffer
	err := forwardHook(strings.NewReader(`{"session_id":"cc-1"}`), &out, "/nowhere.sock", "", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook_event_name")
}

func TestForwardHookMalformedStdin(t *testing.T) {
	var out bytes.Buffer
	err := forwardHook(strings.NewReader("not json"), &out, "/nowhere.sock", "", time.Second)
	require.Error(t, err)
}

func TestForwardHookDeadSocket(t *testing.T) {
	var out bytes.Buffer
	socket := filepath.Join(t.TempDir(), "gone.sock")
	stdin := `{"session_id":"cc-1","hook_event_name":"Stop"}`
	err := forwardHook(strings.NewReader(stdin), &out, socket, "", time.Second)
	require.Error(t, err)
}

func TestForwardHookConnectionClosedWithoutResponse(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ink-1.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}()

	var out bytes.Buffer
	stdin := `{"session_id":"cc-1","hook_event_name":"Stop"}`
	err = forwardHook(strings.NewReader(stdin), &out, socket, "", 2*time.Second)
	require.Error(t, err)
}
