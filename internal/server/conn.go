package server

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// hookConn wraps one accepted connection with a serialized NDJSON writer.
// Responses may be written from timer goroutines or SendDecision callers
// while the read loop is still running, so every write takes the mutex.
type hookConn struct {
	mu   sync.Mutex
	conn *net.UnixConn
	enc  *json.Encoder
}

func newHookConn(conn *net.UnixConn) *hookConn {
	enc := json.NewEncoder(conn)
	enc.SetEscapeHTML(false)
	return &hookConn{conn: conn, enc: enc}
}

func (c *hookConn) writeLine(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(v); err != nil {
		return fmt.Errorf("write response line: %w", err)
	}
	return nil
}

// closeWrite half-closes the connection after the response line. The peer
// reads the line, sees EOF, and tears down its side; the read loop then
// observes the close and drops the connection.
func (c *hookConn) closeWrite() {
	_ = c.conn.CloseWrite()
}

func (c *hookConn) close() {
	_ = c.conn.Close()
}
