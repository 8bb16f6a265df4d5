package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/emberpanel/emberpanel/internal/console"
)

// exportFileName is where the full buffer lands on export.
const exportFileName = "console-logs.txt"

var (
	tuiHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFB454"))
	tuiDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	tuiErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	tuiWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	tuiInfoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA"))
	tuiPromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB454"))
)

// Messages delivered into the model.
type (
	// streamLineMsg is a repaint hint; the buffer holds the line.
	streamLineMsg struct{}

	// connStateMsg reports a connection state transition.
	connStateMsg struct{ state console.State }

	// openDoneMsg reports the result of the seed-then-connect sequence.
	openDoneMsg struct{ err error }

	// sendDoneMsg reports the result of a command dispatch.
	sendDoneMsg struct{ err error }
)

type consoleModel struct {
	ctx    context.Context
	ctrl   *console.Controller
	scope  console.TicketScope
	target string
	events chan tea.Msg
	obs    *consoleObservability

	input     textinput.Model
	filters   []console.Filter
	filterIdx int

	width  int
	height int
	state  console.State
	status string
}

func newConsoleModel(ctx context.Context, ctrl *console.Controller, scope console.TicketScope, target string, events chan tea.Msg, o *consoleObservability) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "Type a command and press enter..."
	ti.CharLimit = 512
	ti.Prompt = "> "
	ti.PromptStyle = tuiPromptStyle
	ti.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	ti.Focus()

	return consoleModel{
		ctx:    ctx,
		ctrl:   ctrl,
		scope:  scope,
		target: target,
		events: events,
		obs:    o,
		input:  ti,
		filters: []console.Filter{
			console.FilterAll(),
			console.FilterLevel("ERROR"),
			console.FilterLevel("WARN"),
			console.FilterLevel("INFO"),
		},
		state:  console.StateIdle,
		status: tuiDimStyle.Render("connecting..."),
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.openCmd(), m.waitEvent())
}

// openCmd runs the seed-then-connect sequence off the UI loop.
func (m consoleModel) openCmd() tea.Cmd {
	ctrl, o, ctx, target := m.ctrl, m.obs, m.ctx, m.target
	return func() tea.Msg {
		err := o.recordConnect(ctx, target, ctrl.Open)
		return openDoneMsg{err: err}
	}
}

func (m consoleModel) waitEvent() tea.Cmd {
	ch := m.events
	return func() tea.Msg { return <-ch }
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case streamLineMsg:
		return m, m.waitEvent()

	case connStateMsg:
		m.state = msg.state
		return m, m.waitEvent()

	case openDoneMsg:
		if msg.err != nil {
			m.status = tuiErrStyle.Render(operatorMessage(msg.err))
		} else {
			m.status = tuiDimStyle.Render("live")
		}
		return m, nil

	case sendDoneMsg:
		if msg.err != nil {
			m.status = tuiErrStyle.Render(operatorMessage(msg.err))
		} else {
			m.status = tuiDimStyle.Render("command sent")
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+f":
			m.filterIdx = (m.filterIdx + 1) % len(m.filters)
			return m, nil
		case "ctrl+l":
			m.ctrl.Buffer().Clear()
			m.status = tuiDimStyle.Render("cleared")
			return m, nil
		case "ctrl+s":
			// Export is always the full unfiltered record.
			if err := os.WriteFile(exportFileName, m.ctrl.Buffer().Export(), 0o644); err != nil {
				m.status = tuiErrStyle.Render("export failed: " + err.Error())
			} else {
				m.status = tuiDimStyle.Render("exported " + exportFileName)
			}
			return m, nil
		case "ctrl+r":
			// Manual retry after GuardBlocked/Errored; a no-op otherwise.
			return m, m.openCmd()
		case "enter":
			text := m.input.Value()
			m.input.SetValue("")
			return m, m.sendCmd(text)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m consoleModel) sendCmd(text string) tea.Cmd {
	ctrl, o, ctx := m.ctrl, m.obs, m.ctx
	return func() tea.Msg {
		err := ctrl.Send(ctx, text)
		if err == nil {
			o.recordCommand(ctx)
		}
		return sendDoneMsg{err: err}
	}
}

func (m consoleModel) View() string {
	var sb strings.Builder

	filterLabel := "all"
	if lvl := m.filters[m.filterIdx].Level(); lvl != "" {
		filterLabel = lvl
	}
	header := fmt.Sprintf("emberctl console — %s/%s  [%s]  filter: %s",
		m.scope, m.target, m.state, filterLabel)
	sb.WriteString(tuiHeaderStyle.Render(header))
	sb.WriteString("\n\n")

	paneHeight := m.height - 5
	if paneHeight < 3 {
		paneHeight = 3
	}
	entries := m.ctrl.Buffer().View(m.filters[m.filterIdx])
	if len(entries) > paneHeight {
		entries = entries[len(entries)-paneHeight:]
	}
	for _, e := range entries {
		sb.WriteString(renderLine(e.Text, m.width))
		sb.WriteString("\n")
	}
	for i := len(entries); i < paneHeight; i++ {
		sb.WriteString("\n")
	}

	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	sb.WriteString(m.status)
	sb.WriteString(tuiDimStyle.Render("  ctrl+f filter · ctrl+l clear · ctrl+s export · ctrl+r retry · ctrl+c quit"))
	return sb.String()
}

// renderLine prepares one stored line for display: remote ANSI codes are
// stripped first, then level-based coloring is applied. Storage keeps the
// raw text; only the view is dressed up.
func renderLine(raw string, width int) string {
	s := ansi.Strip(raw)
	if width > 0 {
		// Truncate by display width, not bytes: a wide rune must never be
		// split at the pane edge.
		s = ansi.Truncate(s, width, "")
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "error"):
		return tuiErrStyle.Render(s)
	case strings.Contains(lower, "warn"):
		return tuiWarnStyle.Render(s)
	case strings.Contains(lower, "info"):
		return tuiInfoStyle.Render(s)
	case strings.Contains(lower, "debug"):
		return tuiDimStyle.Render(s)
	default:
		return s
	}
}

// operatorMessage turns an error kind into the actionable message shown
// in the status line.
func operatorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, console.ErrTransportBlocked):
		return "blocked: endpoint scheme does not match your session origin (mixed content)"
	case errors.Is(err, console.ErrUnauthorized):
		return "unauthorized: log in to the panel and refresh your token"
	case errors.Is(err, console.ErrAuthFailure):
		return "ticket request rejected: " + err.Error()
	case errors.Is(err, console.ErrSocketFailure):
		return "connection failed: " + err.Error()
	default:
		return err.Error()
	}
}
