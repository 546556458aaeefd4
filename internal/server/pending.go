package server

import (
	"time"

	"github.com/dotcommander/ink/internal/adapter"
	"github.com/dotcommander/ink/internal/models"
)

// pendingRequest is one admitted request awaiting resolution. The owning
// connection receives the single response line; the timer, when armed, is
// the timeout fallback.
type pendingRequest struct {
	event *models.RuntimeEvent
	conn  *hookConn
	timer *time.Timer
}

// admit registers the event in the pending map, notifies event subscribers,
// and arms the timeout afterwards so subscribers always observe a request
// before any decision for it. Returns false when the event cannot be
// admitted and the connection should drop.
func (s *Server) admit(ev *models.RuntimeEvent, hc *hookConn) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if _, dup := s.pending[ev.ID]; dup {
		s.mu.Unlock()
		s.log.Warn("closing connection: duplicate request id", "request_id", ev.ID)
		return false
	}
	s.pending[ev.ID] = &pendingRequest{event: ev, conn: hc}
	s.requests++
	s.mu.Unlock()

	s.notifyEvent(ev)
	s.armTimeout(ev)
	return true
}

// armTimeout starts the fallback timer for a still-pending request. A
// subscriber may already have resolved the request during notifyEvent, in
// which case there is nothing to arm.
func (s *Server) armTimeout(ev *models.RuntimeEvent) {
	if ev.Hints.DefaultTimeoutMs <= 0 {
		return
	}
	wait := time.Duration(ev.Hints.DefaultTimeoutMs) * time.Millisecond
	if override, ok := s.cfg.WaitOverrides[ev.Kind]; ok && override > 0 {
		wait = override
	}
	if s.cfg.MaxDecisionWait > 0 && wait > s.cfg.MaxDecisionWait {
		wait = s.cfg.MaxDecisionWait
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[ev.ID]
	if !ok || entry.timer != nil {
		return
	}
	entry.timer = time.AfterFunc(wait, func() {
		s.resolve(ev.ID, models.TimeoutDecision())
	})
}

// resolve is the single resolution path, shared by SendDecision and the
// timeout timers. The map delete under the mutex makes resolution
// exactly-once: the first caller takes the entry, everyone after misses.
// Decision subscribers run before the response line is written, so the
// derived timeline is updated before the harness moves on.
func (s *Server) resolve(id string, d *models.RuntimeDecision) bool {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	s.mu.Unlock()
	s.resolved.Mark(id, string(d.Source))

	s.notifyDecision(entry.event, d)
	s.respond(entry, d)
	return true
}

func (s *Server) respond(entry *pendingRequest, d *models.RuntimeDecision) {
	resp := adapter.Response{
		RequestID: entry.event.ID,
		TS:        time.Now().UnixMilli(),
		Payload:   adapter.BuildResponsePayload(entry.event, d),
	}
	if err := entry.conn.writeLine(resp); err != nil {
		s.log.Debug("response write failed", "request_id", entry.event.ID, "error", err)
	}
	entry.conn.closeWrite()
}

// SendDecision resolves a pending request. A miss is a silent no-op: the
// request may have timed out, been resolved by another caller, or belonged
// to a connection that already went away. Late decisions must never error
// or double-write a socket.
func (s *Server) SendDecision(id string, d *models.RuntimeDecision) {
	if id == "" || d == nil {
		return
	}
	if s.resolve(id, d) {
		return
	}
	if prior, ok := s.resolved.Recall(id); ok {
		s.log.Debug("late decision dropped", "request_id", id, "resolved_by", prior.Outcome)
		return
	}
	s.log.Debug("decision for unknown request dropped", "request_id", id)
}
