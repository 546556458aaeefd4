// Package tui renders the live session feed and answers pending decisions
// from the keyboard. The app subscribes to the session manager's feed and
// prompt streams; the serve command bridges those callbacks into program
// messages.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/session"
)

// Decider is the control surface the app drives: resolving prompts and
// extending the live rule set.
type Decider interface {
	SendDecision(id string, d *models.RuntimeDecision)
	AddRule(rule models.HookRule)
	Tokens() models.TokenUsage
	Degraded() (bool, string)
}

// Config assembles the app.
type Config struct {
	Manager    Decider
	ProjectDir string
	SessionID  string
	Socket     string
	// PersistRule stores an always-allow rule beyond this process. Nil skips
	// persistence; the rule still applies to the running session.
	PersistRule func(models.HookRule) error
}

// Messages bridged in from the pipeline by the command wiring.
type (
	// FeedMsg delivers one feed event.
	FeedMsg models.FeedEvent

	// PromptMsg delivers a pending request that needs a human decision.
	PromptMsg session.Prompt

	// ResolvedMsg reports that a request was resolved elsewhere (rule,
	// timeout, another subscriber) so its prompt can be dropped.
	ResolvedMsg struct{ EventID string }

	// FailureMsg delivers a fatal policy failure. The app quits on it.
	FailureMsg struct{ Err error }
)

type decidedMsg struct {
	eventID    string
	persistErr error
}

type promptAction int

const (
	actApprove promptAction = iota
	actDeny
	actAlways
)

// App is the TUI application state.
type App struct {
	cfg Config

	feed     []models.FeedEvent
	pos      int // scroll anchor: index after the last visible entry
	expanded map[string]bool

	prompts []session.Prompt

	tokens   models.TokenUsage
	degraded string
	notice   string

	width  int
	height int

	err      error
	quitting bool
}

// NewApp creates the application model.
func NewApp(cfg Config) *App {
	return &App{
		cfg:      cfg,
		expanded: make(map[string]bool),
	}
}

// Err returns the fatal policy failure the app quit on, nil otherwise.
func (a *App) Err() error { return a.err }

// Init implements tea.Model.
func (a *App) Init() tea.Cmd { return nil }

// Update handles messages and updates state.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case FeedMsg:
		atTail := a.pos >= len(a.feed)
		a.feed = append(a.feed, models.FeedEvent(msg))
		if atTail {
			a.pos = len(a.feed)
		}
		if a.cfg.Manager != nil {
			a.tokens = a.cfg.Manager.Tokens()
			if degraded, reason := a.cfg.Manager.Degraded(); degraded {
				a.degraded = reason
			}
		}
		return a, nil

	case PromptMsg:
		a.prompts = append(a.prompts, session.Prompt(msg))
		return a, nil

	case ResolvedMsg:
		a.dropPrompt(msg.EventID)
		return a, nil

	case decidedMsg:
		a.dropPrompt(msg.eventID)
		if msg.persistErr != nil {
			a.notice = "rule not persisted: " + msg.persistErr.Error()
		}
		return a, nil

	case FailureMsg:
		a.err = msg.Err
		a.quitting = true
		return a, tea.Quit
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		a.quitting = true
		return a, tea.Quit

	case "up", "k":
		if a.pos > 1 {
			a.pos--
		}
		return a, nil

	case "down", "j":
		if a.pos < len(a.feed) {
			a.pos++
		}
		return a, nil

	case "G", "end":
		a.pos = len(a.feed)
		return a, nil

	case "enter", " ":
		if fe := a.selected(); fe != nil {
			a.expanded[fe.ID] = !a.expanded[fe.ID]
		}
		return a, nil

	case "y":
		return a, a.decide(actApprove)

	case "n":
		return a, a.decide(actDeny)

	case "a":
		return a, a.decide(actAlways)
	}

	return a, nil
}

// selected returns the entry under the scroll anchor, nil for an empty feed.
func (a *App) selected() *models.FeedEvent {
	if len(a.feed) == 0 || a.pos < 1 || a.pos > len(a.feed) {
		return nil
	}
	return &a.feed[a.pos-1]
}

func (a *App) dropPrompt(eventID string) {
	for i, p := range a.prompts {
		if p.Event.ID == eventID {
			a.prompts = append(a.prompts[:i], a.prompts[i+1:]...)
			return
		}
	}
}

// decide resolves the head prompt. Resolving synchronously would re-enter
// the program through the feed subscription, so the decision runs as a
// command on its own goroutine.
func (a *App) decide(action promptAction) tea.Cmd {
	if len(a.prompts) == 0 || a.cfg.Manager == nil {
		return nil
	}
	p := a.prompts[0]
	d, rule := buildDecision(p, action)
	if d == nil {
		return nil
	}

	mgr := a.cfg.Manager
	persist := a.cfg.PersistRule
	return func() tea.Msg {
		var persistErr error
		if rule != nil {
			mgr.AddRule(*rule)
			if persist != nil {
				persistErr = persist(*rule)
			}
		}
		mgr.SendDecision(p.Event.ID, d)
		return decidedMsg{eventID: p.Event.ID, persistErr: persistErr}
	}
}

// buildDecision maps a key action onto the prompt's decision space. Questions
// cannot be answered from a key, so approval passes them through to the
// harness's own prompt UI. The returned rule is non-nil only for always-allow
// on a permission request.
func buildDecision(p session.Prompt, action promptAction) (*models.RuntimeDecision, *models.HookRule) {
	switch p.Kind {
	case session.PromptPermission:
		switch action {
		case actApprove:
			return models.PermissionAllow(models.SourceUser), nil
		case actDeny:
			return models.PermissionDeny(models.SourceUser, "Denied by user"), nil
		case actAlways:
			rule := models.HookRule{
				ID:       models.NewRuleID(),
				ToolName: p.Event.ToolName,
				Action:   models.RuleApprove,
				AddedBy:  "tui",
			}
			return models.PermissionAllow(models.SourceUser), &rule
		}

	case session.PromptQuestion:
		switch action {
		case actApprove:
			return models.Passthrough(models.SourceUser), nil
		case actDeny:
			return models.PreToolDeny(models.SourceUser, "Denied by user"), nil
		}

	case session.PromptStop:
		switch action {
		case actApprove:
			return models.Passthrough(models.SourceUser), nil
		case actDeny:
			return models.StopBlock(models.SourceUser, "Continue working on the current task"), nil
		}
	}
	return nil, nil
}
