// Package session glues the transport server, policy controller, feed
// mapper, and session store into one running pipeline. The manager owns the
// mapper's single-threaded contract: every MapEvent/MapDecision call goes
// through the manager, serialized behind its mutex in delivery order.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dotcommander/ink/internal/feed"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/policy"
	"github.com/dotcommander/ink/internal/server"
	"github.com/dotcommander/ink/internal/store"
)

// ErrNoResponder is the fatal policy failure: a request that needs a human
// decision arrived while nobody was listening and waiting was disallowed.
var ErrNoResponder = errors.New("no responder for pending request")

// PromptKind classifies what a pending prompt is asking for.
type PromptKind string

// Prompt kind constants.
const (
	PromptPermission PromptKind = "permission"
	PromptQuestion   PromptKind = "question"
	PromptStop       PromptKind = "stop"
)

// Prompt is a pending request handed to a human responder. Answer it by
// calling SendDecision with the event id before the decision window closes.
type Prompt struct {
	Kind  PromptKind
	Event *models.RuntimeEvent
}

// FeedHandler receives feed events in sequence order. Handlers run
// synchronously on the event path; hand anything slow, and any call that
// resolves a request, off to another goroutine.
type FeedHandler func(models.FeedEvent)

// PromptHandler receives prompts that need a human decision. Handlers run
// outside the manager's locks and may call SendDecision directly.
type PromptHandler func(Prompt)

// Config assembles a manager. Server and Mapper are required; a nil Store
// runs the session memory-only.
type Config struct {
	Server *server.Server
	Mapper *feed.Mapper
	Store  *store.SessionStore
	Rules  []models.HookRule
	// QuestionTool overrides the tool name treated as a human question.
	QuestionTool string
	// NonInteractive turns an unanswerable permission or question request
	// into a fatal policy failure instead of waiting out its timeout.
	NonInteractive bool
	Logger         *slog.Logger
}

// Manager routes every admitted runtime event through policy, mapping, and
// persistence, and fans the derived feed out to subscribers.
type Manager struct {
	srv            *server.Server
	st             *store.SessionStore
	ctrl           *policy.Controller
	log            *slog.Logger
	nonInteractive bool

	// mu guards the mapper, rules, token counters, and subscriber
	// registries. deliverMu is acquired before mu is released on the event
	// path, so persistence and fan-out happen in seq order without holding
	// mu during callbacks. Lock order is always mu then deliverMu.
	mu        sync.Mutex
	deliverMu sync.Mutex

	mapper *feed.Mapper
	rules  []models.HookRule
	tokens models.TokenUsage

	nextSubToken int
	feedSubs     map[int]FeedHandler
	promptSubs   map[int]PromptHandler

	failOnce sync.Once
	failures chan error

	detach []func()
}

// New wires a manager into the server's event and decision streams. Token
// counters are seeded from the store when one is attached, so resumed
// sessions keep counting from where they left off.
func New(cfg Config) (*Manager, error) {
	if cfg.Server == nil {
		return nil, errors.New("session manager requires a server")
	}
	if cfg.Mapper == nil {
		return nil, errors.New("session manager requires a mapper")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		srv:            cfg.Server,
		st:             cfg.Store,
		ctrl:           policy.New(cfg.QuestionTool),
		log:            log,
		nonInteractive: cfg.NonInteractive,
		mapper:         cfg.Mapper,
		rules:          append([]models.HookRule(nil), cfg.Rules...),
		feedSubs:       make(map[int]FeedHandler),
		promptSubs:     make(map[int]PromptHandler),
		failures:       make(chan error, 1),
	}

	if m.st != nil {
		usage, err := m.st.RestoredTokens()
		if err != nil {
			log.Warn("restoring token counters failed", "error", err)
		} else {
			m.tokens = usage
		}
	}

	m.detach = append(m.detach,
		m.srv.OnEvent(m.handleEvent),
		m.srv.OnDecision(m.handleDecision),
	)
	return m, nil
}

// Close detaches the manager from the server. The store stays open; whoever
// opened it closes it.
func (m *Manager) Close() {
	for _, detach := range m.detach {
		detach()
	}
	m.detach = nil
}

// Failures delivers the first fatal policy failure. The channel never
// closes; a serve loop selects on it to abort the run.
func (m *Manager) Failures() <-chan error { return m.failures }

func (m *Manager) fail(err error) {
	m.failOnce.Do(func() {
		m.log.Error("policy failure", "error", err)
		m.failures <- err
	})
}

// handleEvent is the per-event pipeline step: map, persist, fan out, then
// let policy resolve or queue. It runs on the connection goroutine before
// the request's timeout is armed.
func (m *Manager) handleEvent(ev *models.RuntimeEvent) {
	usage := usageOf(ev)

	m.mu.Lock()
	feedEvents := m.mapper.MapEvent(ev)
	rules := append([]models.HookRule(nil), m.rules...)
	handlers := collectHandlers(m.feedSubs)
	if usage != nil {
		m.tokens.Add(*usage)
	}
	m.deliverMu.Lock()
	m.mu.Unlock()

	m.recordEvent(ev, feedEvents)
	if usage != nil {
		m.recordTokens(ev.SessionID, *usage)
	}
	notifyFeed(handlers, feedEvents)
	m.deliverMu.Unlock()

	var queued *Prompt
	res := m.ctrl.Evaluate(ev, rules, policy.Callbacks{
		QueuePermission: func(e *models.RuntimeEvent) { queued = &Prompt{Kind: PromptPermission, Event: e} },
		QueueQuestion:   func(e *models.RuntimeEvent) { queued = &Prompt{Kind: PromptQuestion, Event: e} },
	})

	switch {
	case res.Decision != nil:
		m.srv.SendDecision(ev.ID, res.Decision)
	case res.Queued && queued != nil:
		m.dispatchPrompt(*queued)
	case !res.Handled:
		m.autoResolve(ev)
	}
}

// handleDecision records and fans out the feed event derived from a
// resolution. The mapper returns nil for resolutions it never tracked
// (pre-tool hooks, informational passthroughs); those need no feed entry.
func (m *Manager) handleDecision(ev *models.RuntimeEvent, d *models.RuntimeDecision) {
	m.mu.Lock()
	fe := m.mapper.MapDecision(ev.ID, d)
	if fe == nil {
		m.mu.Unlock()
		return
	}
	handlers := collectHandlers(m.feedSubs)
	m.deliverMu.Lock()
	m.mu.Unlock()

	events := []models.FeedEvent{*fe}
	m.recordFeedEvents(events)
	notifyFeed(handlers, events)
	m.deliverMu.Unlock()
}

// autoResolve handles the kinds policy does not own. Informational events
// are released immediately instead of riding out their timeout, which keeps
// the harness moving; their short timer remains the fallback if this path
// never runs. Stop requests go to a human when one is listening, otherwise
// the stop proceeds.
func (m *Manager) autoResolve(ev *models.RuntimeEvent) {
	if !ev.Hints.ExpectsDecision {
		m.srv.SendDecision(ev.ID, models.Passthrough(models.SourceRule))
		return
	}
	if ev.Kind == models.KindStopRequest {
		m.dispatchPrompt(Prompt{Kind: PromptStop, Event: ev})
	}
}

// dispatchPrompt hands a prompt to responders. With nobody listening, a
// stop request passes through (stopping is always safe), an interactive
// session leaves the request to its timeout, and a non-interactive one
// denies the request and surfaces the policy failure so the run aborts
// instead of hanging.
func (m *Manager) dispatchPrompt(p Prompt) {
	handlers := m.promptHandlers()
	if len(handlers) > 0 {
		for _, h := range handlers {
			h(p)
		}
		return
	}

	if p.Kind == PromptStop {
		m.srv.SendDecision(p.Event.ID, models.Passthrough(models.SourceRule))
		return
	}
	if !m.nonInteractive {
		return
	}

	const reason = "No responder available"
	var d *models.RuntimeDecision
	if p.Kind == PromptPermission {
		d = models.PermissionDeny(models.SourceRule, reason)
	} else {
		d = models.PreToolDeny(models.SourceRule, reason)
	}
	m.srv.SendDecision(p.Event.ID, d)
	m.fail(fmt.Errorf("%w: %s for %s", ErrNoResponder, p.Event.Kind, p.Event.ToolName))
}

// SendDecision resolves a pending request. Late or unknown ids are dropped
// by the transport.
func (m *Manager) SendDecision(id string, d *models.RuntimeDecision) {
	m.srv.SendDecision(id, d)
}

// OnEvent subscribes to admitted runtime events.
func (m *Manager) OnEvent(h server.Handler) func() { return m.srv.OnEvent(h) }

// OnDecision subscribes to resolved requests.
func (m *Manager) OnDecision(h server.DecisionHandler) func() { return m.srv.OnDecision(h) }

// OnFeed registers a feed subscriber and returns its unsubscribe func.
func (m *Manager) OnFeed(h FeedHandler) func() {
	if h == nil {
		return func() {}
	}
	m.mu.Lock()
	token := m.nextSubToken
	m.nextSubToken++
	m.feedSubs[token] = h
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.feedSubs, token)
		m.mu.Unlock()
	}
}

// OnPrompt registers a prompt subscriber and returns its unsubscribe func.
// While at least one subscriber is registered, queued requests wait for it
// (or their timeout) instead of the no-responder fallbacks.
func (m *Manager) OnPrompt(h PromptHandler) func() {
	if h == nil {
		return func() {}
	}
	m.mu.Lock()
	token := m.nextSubToken
	m.nextSubToken++
	m.promptSubs[token] = h
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.promptSubs, token)
		m.mu.Unlock()
	}
}

// notifyFeed delivers events to a handler snapshot taken before the
// delivery lock was entered, which keeps the handler registry lock out of
// the delivery critical section.
func notifyFeed(handlers []FeedHandler, events []models.FeedEvent) {
	for _, fe := range events {
		for _, h := range handlers {
			h(fe)
		}
	}
}

func (m *Manager) promptHandlers() []PromptHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return collectHandlers(m.promptSubs)
}

// CurrentRun returns the open run, nil when none is open.
func (m *Manager) CurrentRun() *models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapper.CurrentRun()
}

// Session returns the session view.
func (m *Manager) Session() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapper.Session()
}

// Actors returns every registered actor in registration order.
func (m *Manager) Actors() []models.Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapper.Actors()
}

// AllocateSeq hands out the next feed sequence number for externally
// synthesized events.
func (m *Manager) AllocateSeq() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapper.AllocateSeq()
}

// Tokens returns the session-wide usage counters, restored totals included.
func (m *Manager) Tokens() models.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// Rules returns a copy of the active rule set.
func (m *Manager) Rules() []models.HookRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.HookRule(nil), m.rules...)
}

// AddRule appends a rule to the active set. It applies to requests admitted
// after the call; persistence is the caller's concern.
func (m *Manager) AddRule(rule models.HookRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
}

// Degraded reports whether durable writes have been abandoned, and why.
func (m *Manager) Degraded() (bool, string) {
	if m.st == nil {
		return false, ""
	}
	return m.st.Degraded()
}

func (m *Manager) recordEvent(ev *models.RuntimeEvent, feedEvents []models.FeedEvent) {
	if m.st == nil {
		return
	}
	m.degradeOnError(m.st.RecordEvent(ev, feedEvents))
}

func (m *Manager) recordFeedEvents(feedEvents []models.FeedEvent) {
	if m.st == nil {
		return
	}
	m.degradeOnError(m.st.RecordFeedEvents(feedEvents))
}

func (m *Manager) recordTokens(adapterSessionID string, usage models.TokenUsage) {
	if m.st == nil {
		return
	}
	m.degradeOnError(m.st.RecordTokens(adapterSessionID, usage))
}

// degradeOnError turns the first real write failure into degraded mode.
// Once degraded, the store answers ErrStoreDegraded and writes are skipped
// silently; the in-memory pipeline never stops for persistence.
func (m *Manager) degradeOnError(err error) {
	if err == nil || errors.Is(err, store.ErrStoreDegraded) {
		return
	}
	m.st.MarkDegraded(err.Error())
	m.log.Warn("session store degraded, continuing without durability", "error", err)
}

// collectHandlers snapshots a registry in registration (token) order so
// handlers can be invoked without holding the lock.
func collectHandlers[H any](subs map[int]H) []H {
	tokens := make([]int, 0, len(subs))
	for t := range subs {
		tokens = append(tokens, t)
	}
	sort.Ints(tokens)
	out := make([]H, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, subs[t])
	}
	return out
}

// usageOf extracts token usage from the kinds that report it.
func usageOf(ev *models.RuntimeEvent) *models.TokenUsage {
	switch data := ev.Data.(type) {
	case models.StopRequestData:
		return data.Usage
	case models.SessionEndData:
		return data.Usage
	}
	return nil
}
