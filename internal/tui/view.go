package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/session"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan")).
			Bold(true).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("blue"))

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("blue")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(0, 1)
)

const (
	defaultFeedRows = 20
	previewWidth    = 72
)

// View renders the UI.
func (a *App) View() string {
	if a.quitting {
		if a.err != nil {
			return errorStyle.Render(fmt.Sprintf("policy failure: %s", a.err)) + "\n"
		}
		return ""
	}

	var b strings.Builder

	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(a.renderFeed())
	if len(a.prompts) > 0 {
		b.WriteString(a.renderPromptPanel())
		b.WriteString("\n")
	}
	b.WriteString(a.renderHelp())

	return b.String()
}

func (a *App) renderHeader() string {
	left := titleStyle.Render("ink") + headerStyle.Render(fmt.Sprintf("%s  %s", a.cfg.SessionID, a.cfg.ProjectDir))

	right := ""
	if !a.tokens.IsZero() {
		right = dimStyle.Render(fmt.Sprintf("  in %d out %d ctx %d",
			a.tokens.InputTokens, a.tokens.OutputTokens, a.tokens.ContextSize))
	}

	line := left + right
	if a.degraded != "" {
		line += "\n" + warnStyle.Render(fmt.Sprintf(" store degraded: %s", truncate(a.degraded, previewWidth)))
	}
	return line
}

func (a *App) renderFeed() string {
	var b strings.Builder

	if len(a.feed) == 0 {
		b.WriteString(dimStyle.Render("  waiting for events..."))
		b.WriteString("\n")
		return b.String()
	}

	visible := a.feedRows()
	start := a.pos - visible
	if start < 0 {
		start = 0
	}

	if start > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d earlier", start)))
		b.WriteString("\n")
	}

	for i := start; i < a.pos && i < len(a.feed); i++ {
		fe := a.feed[i]
		selected := i == a.pos-1
		b.WriteString(a.feedLine(fe, selected))
		b.WriteString("\n")
		if a.expanded[fe.ID] && len(fe.Data) > 0 {
			b.WriteString(expandedBody(fe.Data))
		}
	}

	if a.pos < len(a.feed) {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d newer", len(a.feed)-a.pos)))
		b.WriteString("\n")
	}

	return b.String()
}

// feedRows is how many timeline entries fit between the header and the
// bottom panels.
func (a *App) feedRows() int {
	if a.height == 0 {
		return defaultFeedRows
	}
	rows := a.height - 4
	if len(a.prompts) > 0 {
		rows -= 7
	}
	if rows < 5 {
		rows = 5
	}
	return rows
}

func (a *App) feedLine(fe models.FeedEvent, selected bool) string {
	marker := "  "
	if selected {
		marker = "› "
	}

	ts := time.UnixMilli(fe.TS).Format("15:04:05")
	tag := actorTag(fe.ActorID)
	title := fe.Title

	collapsed := fe.UI != nil && fe.UI.CollapsedDefault && !a.expanded[fe.ID]
	if collapsed {
		title += " …"
	}

	line := fmt.Sprintf("%s%s %-12s %s", marker, ts, tag, title)

	style := styleFor(fe, collapsed)
	if selected {
		style = style.Inherit(selectedStyle)
	}
	return style.Render(line)
}

func styleFor(fe models.FeedEvent, collapsed bool) lipgloss.Style {
	switch fe.Level {
	case models.LevelError:
		return errorStyle
	case models.LevelWarn:
		return warnStyle
	}
	if collapsed {
		return dimStyle
	}
	switch {
	case fe.ActorID == models.ActorUser:
		return userStyle
	case strings.HasPrefix(fe.ActorID, "agent"), models.SubagentIDFromActor(fe.ActorID) != "":
		return agentStyle
	}
	return headerStyle
}

func actorTag(actorID string) string {
	if actorID == "" {
		return "[system]"
	}
	return "[" + actorID + "]"
}

// expandedBody pretty-prints an entry's data payload under its line.
func expandedBody(data json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "      ", "  "); err != nil {
		return dimStyle.Render("      "+truncate(string(data), previewWidth)) + "\n"
	}
	return dimStyle.Render("      "+buf.String()) + "\n"
}

func (a *App) renderPromptPanel() string {
	p := a.prompts[0]

	var b strings.Builder
	b.WriteString(promptTitle(p))
	b.WriteString("\n")
	for _, line := range promptBody(p) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(promptKeys(p)))
	if len(a.prompts) > 1 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("+%d more pending", len(a.prompts)-1)))
	}

	width := previewWidth + 4
	if a.width > 0 && a.width-2 < width {
		width = a.width - 2
	}
	return panelStyle.Width(width).Render(b.String())
}

func promptTitle(p session.Prompt) string {
	switch p.Kind {
	case session.PromptPermission:
		return warnStyle.Bold(true).Render(fmt.Sprintf("Permission: %s", p.Event.ToolName))
	case session.PromptQuestion:
		return titleStyle.Render("Question")
	case session.PromptStop:
		return warnStyle.Bold(true).Render("Stop requested")
	}
	return titleStyle.Render(string(p.Kind))
}

func promptBody(p session.Prompt) []string {
	switch p.Kind {
	case session.PromptPermission:
		if data, ok := p.Event.Data.(models.PermissionRequestData); ok && len(data.ToolInput) > 0 {
			return []string{headerStyle.Render(truncate(compactJSON(data.ToolInput), previewWidth))}
		}
	case session.PromptQuestion:
		if q := questionPreview(p.Event); q != "" {
			return []string{headerStyle.Render(truncate(q, previewWidth))}
		}
	case session.PromptStop:
		if data, ok := p.Event.Data.(models.StopRequestData); ok && data.LastAssistantMessage != "" {
			return []string{headerStyle.Render(truncate(data.LastAssistantMessage, previewWidth))}
		}
	}
	return nil
}

func promptKeys(p session.Prompt) string {
	switch p.Kind {
	case session.PromptPermission:
		return "[y] approve  [n] deny  [a] always-allow"
	case session.PromptQuestion:
		return "[y] ask in harness  [n] deny"
	case session.PromptStop:
		return "[y] allow stop  [n] keep working"
	}
	return ""
}

func (a *App) renderHelp() string {
	help := "[↑/k ↓/j] scroll  [G] tail  [enter] expand  [q] quit"
	line := helpStyle.Render(help)
	if a.notice != "" {
		line += "\n" + warnStyle.Render(" "+a.notice)
	}
	return line
}

// questionPreview extracts the first question text from a question tool
// invocation.
func questionPreview(ev *models.RuntimeEvent) string {
	data, ok := ev.Data.(models.ToolPreData)
	if !ok || len(data.ToolInput) == 0 {
		return ""
	}
	var input struct {
		Questions []struct {
			Question string `json:"question"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(data.ToolInput, &input); err != nil {
		return ""
	}
	if len(input.Questions) == 0 {
		return ""
	}
	return input.Questions[0].Question
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
