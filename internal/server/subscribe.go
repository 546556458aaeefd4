package server

import (
	"sort"

	"github.com/dotcommander/ink/internal/models"
)

// Handler observes every admitted runtime event. Handlers run synchronously
// on the connection goroutine, so an event is fully observed before its
// timeout starts; a handler may call SendDecision for the event it receives.
type Handler func(*models.RuntimeEvent)

// DecisionHandler observes every resolved request with the decision that
// resolved it, including timeout fallbacks. Handlers run on whichever
// goroutine performed the resolution, before the response line is written
// back to the hook connection.
type DecisionHandler func(*models.RuntimeEvent, *models.RuntimeDecision)

// OnEvent registers an event subscriber and returns its unsubscribe func.
func (s *Server) OnEvent(h Handler) func() {
	if h == nil {
		return func() {}
	}
	s.mu.Lock()
	token := s.nextSubToken
	s.nextSubToken++
	s.eventSubs[token] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.eventSubs, token)
		s.mu.Unlock()
	}
}

// OnDecision registers a decision subscriber and returns its unsubscribe func.
func (s *Server) OnDecision(h DecisionHandler) func() {
	if h == nil {
		return func() {}
	}
	s.mu.Lock()
	token := s.nextSubToken
	s.nextSubToken++
	s.decisionSubs[token] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.decisionSubs, token)
		s.mu.Unlock()
	}
}

func (s *Server) notifyEvent(ev *models.RuntimeEvent) {
	for _, h := range s.eventHandlers() {
		h(ev)
	}
}

func (s *Server) notifyDecision(ev *models.RuntimeEvent, d *models.RuntimeDecision) {
	for _, h := range s.decisionHandlers() {
		h(ev, d)
	}
}

// Handlers are snapshotted under the mutex and invoked without it, in
// registration order, so a handler can unsubscribe or resolve requests
// without deadlocking.
func (s *Server) eventHandlers() []Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]int, 0, len(s.eventSubs))
	for t := range s.eventSubs {
		tokens = append(tokens, t)
	}
	sort.Ints(tokens)
	out := make([]Handler, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, s.eventSubs[t])
	}
	return out
}

func (s *Server) decisionHandlers() []DecisionHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]int, 0, len(s.decisionSubs))
	for t := range s.decisionSubs {
		tokens = append(tokens, t)
	}
	sort.Ints(tokens)
	out := make([]DecisionHandler, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, s.decisionSubs[t])
	}
	return out
}
