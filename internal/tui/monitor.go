package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/journal"
)

const (
	pollInterval   = 2 * time.Second
	requestTimeout = 2 * time.Second
	reconnectDelay = 3 * time.Second
	maxEventLog    = 200
	sessionRows    = 10
)

// Daemon is what the monitor needs from the API client.
type Daemon interface {
	Status(ctx context.Context) (api.StatusResponse, error)
	Sessions(ctx context.Context, limit int) ([]journal.Session, error)
	Lifecycle(ctx context.Context, op string) (api.LifecycleResponse, error)
	Stream(ctx context.Context, recipient string, fn func(events.Event)) error
}

type statusMsg api.StatusResponse
type sessionsMsg []journal.Session
type eventMsg events.Event
type lifecycleMsg api.LifecycleResponse
type tickMsg time.Time
type errMsg struct{ err error }
type streamClosedMsg struct{ err error }
type reconnectMsg struct{}

// Model is the bubbletea model behind `conduit monitor`.
type Model struct {
	daemon    Daemon
	recipient string
	theme     Theme

	width  int
	height int

	status    api.StatusResponse
	haveStat  bool
	sessions  []journal.Session
	eventLog  []events.Event
	hubEvents chan events.Event
	streaming bool
	lastError string

	table    table.Model
	viewport viewport.Model
}

// NewMonitor builds a monitor. Streamed events are received as recipient.
func NewMonitor(daemon Daemon, recipient string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Session", Width: 10},
			{Title: "Started", Width: 19},
			{Title: "Uptime", Width: 10},
			{Title: "Msgs", Width: 8},
			{Title: "Dropped", Width: 8},
			{Title: "Reason", Width: 14},
		}),
		table.WithFocused(true),
		table.WithHeight(sessionRows),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		daemon:    daemon,
		recipient: recipient,
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
		table:     t,
		viewport:  viewport.Model{Width: 80, Height: 8},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(),
		m.receiveNextEvent(),
		m.fetchStatus(),
		m.fetchSessions(),
		tick(),
		tea.EnterAltScreen,
	)
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.lifecycle("restart")
		case "s":
			return m, m.lifecycle("stop")
		case "g":
			return m, m.lifecycle("start")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = max(m.height/3, 3)
		m.viewport.SetContent(m.renderEvents())

	case tickMsg:
		return m, tea.Batch(m.fetchStatus(), m.fetchSessions(), tick())

	case statusMsg:
		m.status = api.StatusResponse(msg)
		m.haveStat = true
		m.lastError = ""

	case sessionsMsg:
		m.sessions = msg
		m.table.SetRows(m.sessionRows())

	case eventMsg:
		m.streaming = true
		m.addEvent(events.Event(msg))
		m.viewport.SetContent(m.renderEvents())
		return m, m.receiveNextEvent()

	case lifecycleMsg:
		return m, tea.Batch(m.fetchStatus(), m.fetchSessions())

	case streamClosedMsg:
		m.streaming = false
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.subscribe()

	case errMsg:
		m.lastError = msg.err.Error()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// addEvent keeps the newest events first.
func (m *Model) addEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
}

func (m Model) sessionRows() []table.Row {
	rows := make([]table.Row, 0, len(m.sessions))
	for _, s := range m.sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		uptime := "-"
		reason := "active"
		if s.StoppedAt != nil {
			uptime = s.StoppedAt.Sub(s.StartedAt).Round(time.Second).String()
			reason = s.Reason
		}
		rows = append(rows, table.Row{
			id,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			uptime,
			fmt.Sprint(s.Messages),
			fmt.Sprint(s.Dropped),
			reason,
		})
	}
	return rows
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}
	th := m.theme

	sessionsView := th.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			th.Title.Render("Sessions"),
			m.table.View(),
		),
	)

	eventsView := th.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			th.Title.Render("Event Stream"),
			m.viewport.View(),
		),
	)

	help := th.Dim.Render(" [q] Quit • [r] Restart • [s] Stop • [g] Start • [↑/↓] Scroll")
	parts := []string{m.renderHeader(), m.renderQueue(), sessionsView, eventsView, help}
	if m.lastError != "" {
		parts = append(parts, th.Warn.Render(" ! "+m.lastError))
	}

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	th := m.theme
	st := m.status.Bridge

	state := "unknown"
	if m.haveStat {
		state = st.State
	}
	stream := th.StatusFailed.Render("disconnected")
	if m.streaming {
		stream = th.StatusOK.Render("live")
	}
	pid := "-"
	if st.WorkerPID > 0 {
		pid = fmt.Sprint(st.WorkerPID)
	}
	uptime := "-"
	if !st.StartedAt.IsZero() {
		uptime = time.Since(st.StartedAt).Round(time.Second).String()
	}

	items := []string{
		th.Label.Render("State ") + th.stateStyle(st.State).Render(state),
		th.Label.Render("PID ") + pid,
		th.Label.Render("Uptime ") + uptime,
		th.Label.Render("Stream ") + stream,
	}
	return m.row(items)
}

func (m Model) renderQueue() string {
	th := m.theme
	st := m.status.Bridge

	dropped := fmt.Sprint(st.DroppedEvents)
	if st.DroppedEvents > 0 {
		dropped = th.StatusFailed.Render(dropped)
	}
	items := []string{
		th.Label.Render("Queue ") + fmt.Sprintf("%d/%d", st.QueueLen, st.QueueCap),
		th.Label.Render("Sent ") + fmt.Sprint(st.Sent),
		th.Label.Render("Recv ") + fmt.Sprint(st.Received),
		th.Label.Render("Dropped ") + dropped,
	}
	return m.row(items)
}

func (m Model) row(items []string) string {
	w := (m.width - 4) / len(items)
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = lipgloss.NewStyle().Width(w).Render(it)
	}
	return m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	if len(m.eventLog) == 0 {
		return "  No events yet..."
	}
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-9s | %s", ts, e.Type, string(e.Data)))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m Model) subscribe() tea.Cmd {
	return func() tea.Msg {
		err := m.daemon.Stream(context.Background(), m.recipient, func(ev events.Event) {
			m.hubEvents <- ev
		})
		return streamClosedMsg{err: err}
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, err := m.daemon.Status(ctx)
		if err != nil {
			return errMsg{err}
		}
		return statusMsg(st)
	}
}

func (m Model) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		rows, err := m.daemon.Sessions(ctx, sessionRows)
		if err != nil {
			return errMsg{err}
		}
		return sessionsMsg(rows)
	}
}

func (m Model) lifecycle(op string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.daemon.Lifecycle(context.Background(), op)
		if err != nil {
			return errMsg{fmt.Errorf("%s: %w", op, err)}
		}
		return lifecycleMsg(resp)
	}
}
