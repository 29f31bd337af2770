// Package tui is the live view of tracked ticket messages.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

// Row is one tracked entry with the destination it belongs to.
type Row struct {
	Destination ticket.Destination
	Entry       ticket.TrackedEntry
}

// Loader reads the current tracked entries, typically from the store.
type Loader func(ctx context.Context) ([]Row, error)

type entriesMsg struct {
	rows []Row
	err  error
	at   time.Time
}

type refreshMsg struct{}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "243"})
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var columns = []table.Column{
	{Title: "Destination", Width: 16},
	{Title: "Ticket", Width: 18},
	{Title: "State", Width: 22},
	{Title: "Message", Width: 10},
	{Title: "Updated", Width: 10},
}

// Model is the bubbletea model for `entries watch`.
type Model struct {
	table    table.Model
	load     Loader
	interval time.Duration
	now      func() time.Time

	rows     []Row
	err      error
	loadedAt time.Time
}

// New builds a watch model that reloads every interval.
func New(load Loader, interval time.Duration) Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	t.SetStyles(styles)

	return Model{table: t, load: load, interval: interval, now: time.Now}
}

func (m Model) Init() tea.Cmd {
	return m.fetch()
}

func (m Model) fetch() tea.Cmd {
	load, now := m.load, m.now
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rows, err := load(ctx)
		return entriesMsg{rows: rows, err: err, at: now()}
	}
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case tea.WindowSizeMsg:
		if h := msg.Height - 4; h > 3 {
			m.table.SetHeight(h)
		}
	case refreshMsg:
		return m, m.fetch()
	case entriesMsg:
		m.loadedAt = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.table.SetRows(tableRows(msg.rows, msg.at))
		}
		return m, m.scheduleRefresh()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Tracked tickets (%d)", len(m.rows))))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	status := "loading..."
	if !m.loadedAt.IsZero() {
		status = "updated " + m.loadedAt.Format("15:04:05")
	}
	b.WriteString(statusStyle.Render(status + " · r refresh · q quit"))
	return b.String()
}

func tableRows(rows []Row, now time.Time) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		number := r.Entry.Number
		if number == "" {
			number = strconv.FormatInt(r.Entry.ItemID, 10)
		}
		out = append(out, table.Row{
			r.Destination.String(),
			number,
			r.Entry.State,
			strconv.FormatInt(r.Entry.MessageID, 10),
			Ago(now, r.Entry.UpdatedAt),
		})
	}
	return out
}

// Ago formats the age of t relative to now, e.g. "5m ago".
func Ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return "(in the future)"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
