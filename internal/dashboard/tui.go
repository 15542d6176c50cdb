package dashboard

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/barff/frankd/internal/scheduler"
)

// DefaultRefresh is how often the watch view polls the gateway.
const DefaultRefresh = 2 * time.Second

// Source is the gateway as seen by the watch view.
type Source interface {
	Status(ctx context.Context) (scheduler.Status, error)
	Trigger(ctx context.Context, name string) error
	Start(ctx context.Context, name string, interval time.Duration) error
	Stop(ctx context.Context, name string) error
}

// Model is the watch TUI model
type Model struct {
	source   Source
	refresh  time.Duration
	version  string
	now      func() time.Time
	status   *scheduler.Status
	err      error
	notice   string
	selected int
	width    int
	quitting bool
}

// tickMsg is sent periodically to refresh the display
type tickMsg time.Time

// statusMsg carries a fetched status
type statusMsg struct {
	status scheduler.Status
	err    error
}

// actionMsg reports the outcome of a key-triggered action
type actionMsg struct {
	text string
	err  error
}

// NewModel creates a watch model polling source every refresh.
func NewModel(source Source, version string, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return Model{
		source:  source,
		refresh: refresh,
		version: version,
		now:     time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	source := m.source
	timeout := m.refresh * 5
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		st, err := source.Status(ctx)
		return statusMsg{status: st, err: err}
	}
}

// actionCmd runs fn against the selected poller and refreshes afterwards.
func (m Model) actionCmd(verb, name string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: verb + " " + name}
	}
}

func (m Model) selectedPoller() (scheduler.PollerStatus, bool) {
	if m.status == nil || m.selected < 0 || m.selected >= len(m.status.Pollers) {
		return scheduler.PollerStatus{}, false
	}
	return m.status.Pollers[m.selected], true
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.status != nil && m.selected < len(m.status.Pollers)-1 {
				m.selected++
			}
		case "t":
			if p, ok := m.selectedPoller(); ok {
				return m, m.actionCmd("triggered", p.Name, func(ctx context.Context) error {
					return m.source.Trigger(ctx, p.Name)
				})
			}
		case " ", "s":
			if p, ok := m.selectedPoller(); ok {
				if p.Enabled {
					return m, m.actionCmd("stopped", p.Name, func(ctx context.Context) error {
						return m.source.Stop(ctx, p.Name)
					})
				}
				return m, m.actionCmd("started", p.Name, func(ctx context.Context) error {
					return m.source.Start(ctx, p.Name, 0)
				})
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			st := msg.status
			m.status = &st
			if m.selected >= len(st.Pollers) {
				m.selected = max(len(st.Pollers)-1, 0)
			}
		}

	case actionMsg:
		if msg.err != nil {
			m.notice = "error: " + msg.err.Error()
		} else {
			m.notice = msg.text
		}
		return m, m.fetchCmd()
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("  frankd " + m.version))
	b.WriteString("\n\n")

	switch {
	case m.status == nil && m.err != nil:
		b.WriteString(failedStyle.Render("  gateway unreachable: " + m.err.Error()))
		b.WriteString("\n")
	case m.status == nil:
		b.WriteString(helpStyle.Render("  connecting..."))
		b.WriteString("\n")
	default:
		b.WriteString(RenderStatus(*m.status, m.now(), m.selected))
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(warningStyle.Render("  stale: " + m.err.Error()))
			b.WriteString("\n")
		}
	}

	if m.notice != "" {
		style := selectedStyle
		if strings.HasPrefix(m.notice, "error:") {
			style = failedStyle
		}
		b.WriteString(style.Render("  " + m.notice))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("  q: quit  r: refresh  j/k: select  t: trigger  s: start/stop"))
	b.WriteString("\n")
	return b.String()
}
