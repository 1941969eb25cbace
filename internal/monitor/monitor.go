// Package monitor is a terminal status board for running servo loops.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/slservo/internal/servo"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))

	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 1)
)

const historyLen = 40

// Source returns the current loop snapshots.
type Source func() []servo.Status

// Disabler stops the named loop.
type Disabler func(name string) error

type tickMsg time.Time

type Model struct {
	source   Source
	disable  Disabler
	interval time.Duration

	statuses []servo.Status
	last     map[string]int64
	history  map[string][]float64
	cursor   int
	paused   bool
	message  string

	width  int
	height int
}

func New(source Source, disable Disabler, interval time.Duration) Model {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return Model{
		source:   source,
		disable:  disable,
		interval: interval,
		last:     make(map[string]int64),
		history:  make(map[string][]float64),
		width:    80,
		height:   24,
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd { return m.tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		if !m.paused {
			m.refresh()
		}
		return m, m.tick()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.statuses)-1 {
			m.cursor++
		}
	case "p", " ":
		m.paused = !m.paused
	case "r":
		m.refresh()
	case "d":
		if m.disable == nil || m.cursor >= len(m.statuses) {
			break
		}
		name := m.statuses[m.cursor].Name
		if err := m.disable(name); err != nil {
			m.message = "disable " + name + ": " + err.Error()
		} else {
			m.message = "disabled " + name
		}
	}
	return m, nil
}

func (m *Model) refresh() {
	if m.source == nil {
		return
	}
	m.statuses = m.source()
	for _, st := range m.statuses {
		delta := float64(st.Ticks - m.last[st.Name])
		m.last[st.Name] = st.Ticks
		h := append(m.history[st.Name], delta)
		if len(h) > historyLen {
			h = h[len(h)-historyLen:]
		}
		m.history[st.Name] = h
	}
	if m.cursor >= len(m.statuses) {
		m.cursor = max(len(m.statuses)-1, 0)
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("  " + cyan.Render("s l s e r v o") + "  " + dim.Render("servo monitor") + "\n")
	b.WriteString(dimmer.Render("  "+strings.Repeat("─", 66)) + "\n")

	header := fmt.Sprintf("  %-11s %8s %10s %7s %9s %-10s %-8s", "servo", "rate", "ticks", "errors", "time", "phase", "state")
	b.WriteString(dim.Render(header) + "\n")

	for i, st := range m.statuses {
		row := fmt.Sprintf("%-11s %8.1f %10d %7s %9.3f %-10s %-8s",
			st.Name, st.Rate, st.Ticks, errorsCell(st.Errors), st.Time, st.Phase, stateCell(st))
		if i == m.cursor {
			b.WriteString(cyan.Render("▸ ") + white.Render(row))
		} else {
			b.WriteString("  " + dim.Render(row))
		}
		b.WriteString(" " + magenta.Render(sparkline(m.history[st.Name], 20)) + "\n")
	}
	if len(m.statuses) == 0 {
		b.WriteString("  " + dimmer.Render("no servos") + "\n")
	}

	if m.cursor < len(m.statuses) {
		if details := detail(m.statuses[m.cursor]); details != "" {
			b.WriteString(panel.Render(details) + "\n")
		}
	}

	if m.message != "" {
		b.WriteString("  " + yellow.Render(m.message) + "\n")
	}
	hint := "  ↑↓ select   d disable   p pause   r refresh   q quit"
	if m.paused {
		hint = "  " + yellow.Render("paused") + dim.Render(hint)
	} else {
		hint = dim.Render(hint)
	}
	b.WriteString("\n" + hint + "\n")
	return b.String()
}

// Statuses returns the snapshots shown by the last refresh.
func (m Model) Statuses() []servo.Status { return m.statuses }

func errorsCell(n int64) string {
	s := fmt.Sprintf("%d", n)
	if n > 0 {
		return red.Render(s)
	}
	return s
}

func stateCell(st servo.Status) string {
	switch {
	case st.Disabled:
		return yellow.Render("disabled")
	case st.Running:
		return green.Render("running")
	default:
		return "stopped"
	}
}

func detail(st servo.Status) string {
	var lines []string
	if st.Mailbox != nil {
		lines = append(lines, fmt.Sprintf("mailbox  posted %d  drained %d  rejected %d",
			st.Mailbox.Posted, st.Mailbox.Drained, st.Mailbox.Rejected))
	}
	keys := make([]string, 0, len(st.Values))
	for k := range st.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-16s %12.4f", k, st.Values[k]))
	}
	return strings.Join(lines, "\n")
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	if len(data) > width {
		data = data[len(data)-width:]
	}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	var sb strings.Builder
	for _, v := range data {
		idx := int((v - minVal) / rang * 7)
		idx = min(max(idx, 0), 7)
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// Run shows the board until the user quits.
func Run(source Source, disable Disabler, interval time.Duration) error {
	p := tea.NewProgram(New(source, disable, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
