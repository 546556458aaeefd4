// Package demo plays a scripted coding-agent session against a live
// pipeline. A throwaway project directory gets its own socket, store, and
// session manager, and every step arrives over the socket exactly the way
// installed hooks deliver it, so the timeline on screen is the real thing.
package demo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dotcommander/ink/internal/adapter"
	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/feed"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/server"
	"github.com/dotcommander/ink/internal/session"
	"github.com/dotcommander/ink/internal/store"
)

// harnessSessionID is the adapter session id every scripted hook carries, as
// if one harness process drove the whole walkthrough.
const harnessSessionID = "cc-demo-1"

const responseWait = 5 * time.Second

var (
	actStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("cyan")).Bold(true)
	narrateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	stepStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("blue")).Bold(true)
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("green"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("red"))
	feedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	feedWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true)
)

// Config assembles a demo run. ProjectDir should be a throwaway directory;
// the runner creates .ink state under it like any real instance would.
type Config struct {
	ProjectDir string
	Out        io.Writer
	// Delay is the pause after each step. Zero runs the script flat out.
	Delay time.Duration
}

// Runner owns one wired pipeline and the script driving it.
type Runner struct {
	cfg       Config
	sessionID string
	socket    string

	srv *server.Server
	st  *store.SessionStore
	mgr *session.Manager

	mu      sync.Mutex
	feed    []models.FeedEvent
	prompts int

	// outMu serializes writes: feed echoes arrive on connection goroutines
	// while the script narrates from the caller's.
	outMu sync.Mutex

	detach []func()
}

func (r *Runner) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.cfg.Out, format, args...)
}

// New wires the pipeline and starts its socket. Close releases everything.
func New(cfg Config) (*Runner, error) {
	if cfg.Out == nil {
		return nil, errors.New("demo runner requires an output writer")
	}
	if err := app.EnsureProjectDirs(cfg.ProjectDir); err != nil {
		return nil, err
	}

	// The pipeline's own logging would interleave with the narration, so it
	// goes nowhere.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessionID := models.NewSessionID()
	st, err := store.Open(app.SessionDBPath(cfg.ProjectDir, sessionID), sessionID, cfg.ProjectDir)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{
		SocketPath: app.SocketPath(cfg.ProjectDir, 1),
		Logger:     quiet,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	mgr, err := session.New(session.Config{
		Server: srv,
		Mapper: feed.New(sessionID),
		Store:  st,
		Logger: quiet,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		sessionID: sessionID,
		socket:    app.SocketPath(cfg.ProjectDir, 1),
		srv:       srv,
		st:        st,
		mgr:       mgr,
	}
	r.detach = append(r.detach, mgr.OnFeed(r.recordFeed), mgr.OnPrompt(r.answerPrompt))

	if err := srv.Start(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Close tears the pipeline down. Safe after a partial New.
func (r *Runner) Close() {
	for _, detach := range r.detach {
		detach()
	}
	r.detach = nil
	_ = r.srv.Stop()
	r.mgr.Close()
	r.st.Close()
}

// Run plays every act in order, stopping on the first failed step. It
// returns the pass/fail counts alongside any error.
func (r *Runner) Run() (passed, failed int, err error) {
	r.printf("%s %s\n",
		actStyle.Render("ink demo"),
		narrateStyle.Render(fmt.Sprintf("session %s  socket %s", r.sessionID, r.socket)))

	for _, act := range buildActs() {
		r.printf("\n%s\n", actStyle.Render(fmt.Sprintf("Act %d · %s", act.Number, act.Name)))
		for _, line := range act.Narration {
			r.printf("  %s\n", narrateStyle.Render(line))
		}

		for _, step := range act.Steps {
			r.printf("  %s\n", stepStyle.Render("● "+step.Name))
			if stepErr := step.Fn(r); stepErr != nil {
				r.printf("    %s\n", failStyle.Render("✗ "+stepErr.Error()))
				return passed, failed + 1, fmt.Errorf("step %s: %w", step.Name, stepErr)
			}
			passed++
			if step.Insight != "" {
				r.printf("    %s\n", narrateStyle.Render("→ "+step.Insight))
			}
			if r.cfg.Delay > 0 {
				time.Sleep(r.cfg.Delay)
			}
		}
	}

	r.printf("\n%s\n", passStyle.Render(fmt.Sprintf(
		"✓ %d steps, %d feed events, %d prompts answered", passed, len(r.feedEvents()), r.promptCount())))
	return passed, failed, nil
}

// recordFeed runs on the manager's delivery path: collect for assertions,
// echo for the audience.
func (r *Runner) recordFeed(fe models.FeedEvent) {
	r.mu.Lock()
	r.feed = append(r.feed, fe)
	r.mu.Unlock()

	style := feedStyle
	if fe.Level == models.LevelWarn || fe.Level == models.LevelError {
		style = feedWarnStyle
	}
	actor := fe.ActorID
	if actor == "" {
		actor = "system"
	}
	r.printf("    %s\n", style.Render(fmt.Sprintf("%4d  %-12s %s", fe.Seq, "["+actor+"]", fe.Title)))
}

// answerPrompt plays the human: approve permissions, answer questions, let
// stops through. Pending entries exist before prompts fire, so deciding
// inline is safe.
func (r *Runner) answerPrompt(p session.Prompt) {
	r.mu.Lock()
	r.prompts++
	r.mu.Unlock()

	var d *models.RuntimeDecision
	var verdict string
	switch p.Kind {
	case session.PromptPermission:
		d = models.PermissionAllow(models.SourceUser)
		verdict = fmt.Sprintf("permission for %s → approve", p.Event.ToolName)
	case session.PromptQuestion:
		d = models.QuestionAnswer(models.SourceUser, map[string]string{"approach": "Keep the walkthrough brisk"})
		verdict = "question → answered"
	case session.PromptStop:
		d = models.Passthrough(models.SourceUser)
		verdict = "stop → allowed"
	default:
		return
	}

	r.printf("    %s\n", promptStyle.Render("? "+verdict))
	r.mgr.SendDecision(p.Event.ID, d)
}

func (r *Runner) feedEvents() []models.FeedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.FeedEvent(nil), r.feed...)
}

func (r *Runner) promptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prompts
}

// lastOfKind returns the most recent collected feed event of a kind.
func (r *Runner) lastOfKind(kind models.FeedKind) (models.FeedEvent, bool) {
	events := r.feedEvents()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return models.FeedEvent{}, false
}

// send delivers one hook envelope over the socket, the way the forwarder
// does: one request line, one response line, half-close.
func (r *Runner) send(hookEvent string, payload map[string]any) (adapter.Response, error) {
	var resp adapter.Response

	conn, err := net.DialTimeout("unix", r.socket, responseWait)
	if err != nil {
		return resp, fmt.Errorf("dial %s: %w", r.socket, err)
	}
	defer conn.Close()

	env := map[string]any{
		"request_id":      models.NewRequestID(),
		"ts":              time.Now().UnixMilli(),
		"session_id":      harnessSessionID,
		"hook_event_name": hookEvent,
	}
	if payload != nil {
		env["payload"] = payload
	}
	line, err := json.Marshal(env)
	if err != nil {
		return resp, err
	}
	if err := conn.SetDeadline(time.Now().Add(responseWait)); err != nil {
		return resp, err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return resp, fmt.Errorf("write %s: %w", hookEvent, err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return resp, fmt.Errorf("read %s response: %w", hookEvent, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp, fmt.Errorf("%s: connection closed without response", hookEvent)
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		return resp, fmt.Errorf("parse %s response: %w", hookEvent, err)
	}
	return resp, nil
}

// expectInPayload asserts the response payload mentions a fragment, which is
// how steps prove the harness saw the decision they narrate.
func expectInPayload(resp adapter.Response, fragment string) error {
	if !strings.Contains(string(resp.Payload), fragment) {
		return fmt.Errorf("response payload %s does not contain %q", resp.Payload, fragment)
	}
	return nil
}
