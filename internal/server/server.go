// Package server owns the per-instance Unix socket the hook forwarder
// connects to. Each accepted connection carries newline-framed JSON request
// envelopes; the server translates them into runtime events, fans them out
// to subscribers, and guarantees exactly one response line per request,
// whether a rule, a human, or the timeout fallback ends up deciding it.
package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dotcommander/ink/internal/adapter"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/pkg/recent"
)

// ErrServerClosed is returned by Start once Stop has run.
var ErrServerClosed = errors.New("server closed")

const (
	// maxLineBytes bounds one request line. Oversized lines abort the
	// connection the same way malformed ones do.
	maxLineBytes   = 1 << 20
	readBufferSize = 64 * 1024

	resolvedCacheSize = 512
	resolvedCacheTTL  = 5 * time.Minute
)

// Config configures a Server.
type Config struct {
	// SocketPath is the Unix socket the server binds, typically
	// {projectDir}/.ink/run/ink-{instanceId}.sock.
	SocketPath string
	// MaxDecisionWait caps every armed timeout when positive. Zero leaves
	// the per-event hint values in effect.
	MaxDecisionWait time.Duration
	// WaitOverrides replaces the hint timeout for matching kinds before
	// the cap is applied. Configured decision waits arrive here.
	WaitOverrides map[models.EventKind]time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Status is a point-in-time snapshot of the server.
type Status struct {
	Running     bool      `json:"running"`
	SocketPath  string    `json:"socket_path"`
	StartedAt   time.Time `json:"started_at"`
	Connections int       `json:"connections"`
	Pending     int       `json:"pending"`
	Requests    int64     `json:"requests"`
}

// Server accepts hook connections and tracks their pending requests until
// each is resolved exactly once.
type Server struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	listener  *net.UnixListener
	conns     map[*hookConn]struct{}
	pending   map[string]*pendingRequest
	requests  int64
	startedAt time.Time
	starting  bool
	started   bool
	stopped   bool

	nextSubToken int
	eventSubs    map[int]Handler
	decisionSubs map[int]DecisionHandler

	// resolved remembers recently resolved request ids so late SendDecision
	// calls can be logged as late rather than unknown.
	resolved recent.Tracker

	stopOnce sync.Once
	stopErr  error
	wg       sync.WaitGroup
}

// New validates the config and returns an unstarted server.
func New(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:          cfg,
		log:          cfg.Logger,
		conns:        map[*hookConn]struct{}{},
		pending:      map[string]*pendingRequest{},
		eventSubs:    map[int]Handler{},
		decisionSubs: map[int]DecisionHandler{},
		resolved:     recent.NewTracker(resolvedCacheSize, resolvedCacheTTL),
	}, nil
}

// Start binds the socket and begins accepting connections. A stale socket
// file from a previous instance is unlinked first; any other file at the
// path is an error.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.started || s.starting {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.starting = true
	s.mu.Unlock()

	ln, err := s.bindSocket()
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		_ = os.Remove(s.cfg.SocketPath)
		return ErrServerClosed
	}
	s.listener = ln
	s.startedAt = time.Now()
	s.starting = false
	s.started = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.acceptLoop(ln)
	s.log.Info("hook server listening", "socket", s.cfg.SocketPath)
	return nil
}

func (s *Server) bindSocket() (*net.UnixListener, error) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path exists and is not a unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

func (s *Server) acceptLoop(ln *net.UnixListener) {
	defer s.wg.Done()
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("accept failed", "error", err)
			}
			return
		}
		hc := newHookConn(conn)
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			hc.close()
			return
		}
		s.conns[hc] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(hc)
	}
}

// handleConn reads request lines until EOF or a protocol violation. Anything
// that fails to parse or validate drops the connection without a reply.
func (s *Server) handleConn(hc *hookConn) {
	defer s.wg.Done()
	defer s.dropConn(hc)

	scanner := bufio.NewScanner(hc.conn)
	scanner.Buffer(make([]byte, 0, readBufferSize), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		req, err := adapter.ParseRequest(line)
		if err != nil {
			s.log.Warn("closing connection: invalid envelope", "error", err)
			return
		}
		ev, err := adapter.Translate(req)
		if err != nil {
			s.log.Warn("closing connection: untranslatable payload", "request_id", req.RequestID, "error", err)
			return
		}
		if !s.admit(ev, hc) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("connection read ended", "error", err)
	}
}

// dropConn purges every pending request owned by the connection and stops
// their timers, then closes it. Purged requests are cancelled, not resolved:
// no response is written and no decision subscriber fires.
func (s *Server) dropConn(hc *hookConn) {
	s.mu.Lock()
	delete(s.conns, hc)
	purged := 0
	for id, entry := range s.pending {
		if entry.conn != hc {
			continue
		}
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.pending, id)
		purged++
	}
	s.mu.Unlock()

	hc.close()
	if purged > 0 {
		s.log.Debug("purged pending requests on connection close", "count", purged)
	}
}

// Stop purges all pending requests, closes the listener and every live
// connection, waits for handlers to finish, and removes the socket file.
// The server cannot be restarted afterwards.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		ln := s.listener
		s.listener = nil
		for id, entry := range s.pending {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(s.pending, id)
		}
		conns := make([]*hookConn, 0, len(s.conns))
		for hc := range s.conns {
			conns = append(conns, hc)
		}
		s.mu.Unlock()

		var errs []error
		if ln != nil {
			if err := ln.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, hc := range conns {
			hc.close()
		}
		s.wg.Wait()
		if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.stopErr = fmt.Errorf("stop server: %v", errs)
		}
		s.log.Info("hook server stopped", "socket", s.cfg.SocketPath)
	})
	return s.stopErr
}

// Status reports a snapshot of the server's counters.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:     s.started && !s.stopped,
		SocketPath:  s.cfg.SocketPath,
		StartedAt:   s.startedAt,
		Connections: len(s.conns),
		Pending:     len(s.pending),
		Requests:    s.requests,
	}
}
