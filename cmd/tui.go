// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vestat/pkg/controller"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type monitorKeys struct {
	Quit  key.Binding
	Help  key.Binding
	Clear key.Binding
}

func newMonitorKeys() monitorKeys {
	return monitorKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear values"),
		),
	}
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Clear, k.Help, k.Quit}}
}

// TUI model
type model struct {
	stats         *vedirect.Statistics
	state         controller.State
	port          string
	connectedAt   time.Time
	values        *vedirect.Packet
	lastPacket    time.Time
	table         table.Model
	keys          monitorKeys
	help          help.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type stateMsg struct {
	state controller.State
	port  string
}
type packetMsg struct {
	packet *vedirect.Packet
}

func initialModel(stats *vedirect.Statistics) model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Field", Width: 10},
			{Title: "Value", Width: 24},
		}),
		table.WithFocused(false),
		table.WithHeight(vedirect.MaxPacketBlocks+2),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.NoColor{}).Bold(false)
	t.SetStyles(s)

	return model{
		stats:         stats,
		values:        vedirect.NewPacket(),
		table:         t,
		keys:          newMonitorKeys(),
		help:          help.New(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Clear):
			m.values = vedirect.NewPacket()
			m.table.SetRows(nil)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tickCmd()

	case stateMsg:
		m.applyState(msg)

	case packetMsg:
		// Devices split their fields across packets, keep the latest of each
		m.values.Merge(msg.packet)
		m.lastPacket = msg.packet.Timestamp()
		m.table.SetRows(valueRows(m.values))
		m.table.SetHeight(m.values.Len() + 2)
	}

	return m, nil
}

func (m *model) applyState(msg stateMsg) {
	if msg.state == m.state && msg.port == m.port {
		return
	}
	prev := m.state
	m.state = msg.state
	m.port = msg.port

	switch msg.state {
	case controller.StateConnected:
		m.connectedAt = time.Now()
		m.addLogEntry(fmt.Sprintf("Connected to %s", msg.port), false)
	case controller.StateDisconnected:
		if prev == controller.StateConnected {
			m.addLogEntry("Connection lost", true)
		}
	case controller.StateValidating:
		m.addLogEntry(fmt.Sprintf("Validating %s", msg.port), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func valueRows(p *vedirect.Packet) []table.Row {
	rows := make([]table.Row, 0, p.Len())
	for _, b := range p.Blocks() {
		rows = append(rows, table.Row{b.Key, b.Value})
	}
	return rows
}

// formatDuration formats a duration as a short human-friendly string
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %02ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("VESTAT - MONITOR"))
	s.WriteString("\n")

	// Connection status
	switch m.state {
	case controller.StateConnected:
		s.WriteString(statsValueStyle.Render("✓ " + m.state.String()))
		s.WriteString(headerStyle.Render(fmt.Sprintf(" %s for %s", m.port, formatDuration(time.Since(m.connectedAt)))))
	case controller.StateProbing, controller.StateValidating:
		s.WriteString(warningStyle.Render(fmt.Sprintf("⏳ %s %s", m.state, m.port)))
	default:
		s.WriteString(errorStyle.Render("✗ " + m.state.String()))
		s.WriteString(headerStyle.Render(" searching for a device..."))
	}
	s.WriteString("\n\n")

	// Statistics
	c := m.stats.Snapshot()
	var validPercent float64
	if total := c.Packets + c.PacketErrors; total > 0 {
		validPercent = float64(c.Packets) * 100.0 / float64(total)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Packets:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", c.Packets, validPercent)),
		statsLabelStyle.Render("Bytes:"), statsValueStyle.Render(fmt.Sprintf("%d", c.Bytes)),
		statsLabelStyle.Render("Errors:"), func() string {
			if c.Errors() > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", c.Errors()))
			}
			return statsValueStyle.Render("0")
		}(),
	))
	if c.PacketErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Packet Errors:"), errorStyle.Render(fmt.Sprintf("%d", c.PacketErrors)),
			headerStyle.Render("checksum"), c.ChecksumErrors,
			headerStyle.Render("framing"), c.FramingErrors,
			headerStyle.Render("max blocks"), c.MaxBlocksErrors,
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", c.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f err/s", c.ErrorRate)),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest values
	if m.values.Len() > 0 {
		s.WriteString(statsLabelStyle.Render("Latest Values"))
		s.WriteString(headerStyle.Render(fmt.Sprintf(" (updated %s)", m.lastPacket.Format("15:04:05"))))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.table.View()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 12
	if m.values.Len() > 0 {
		logHeight -= m.values.Len() + 6
	}
	logHeight = max(logHeight, 3)

	logContent := strings.Builder{}
	startIdx := max(len(m.eventLog)-logHeight, 0)
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("01/02/06 15:04:05")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logContent.String()))
	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))

	return s.String()
}
