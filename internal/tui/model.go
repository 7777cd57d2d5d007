// Package tui shows playback progress in the terminal.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/smfplay-go"
	"github.com/cbegin/smfplay-go/internal/scheduler"
	"github.com/cbegin/smfplay-go/internal/timeline"
)

const (
	defaultBarWidth = 40
	volumeStep      = 0.1
)

// Controller is the part of smfplay.Player the view drives.
type Controller interface {
	Stop() error
	SetMasterVolume(volume float64)
	MasterVolume() float64
}

type Model struct {
	Title    string
	Tracks   []string
	Player   Controller
	Events   <-chan smfplay.PlaybackEvent
	elapsed  uint32
	total    uint32
	state    scheduler.State
	ended    bool
	stopped  bool
	quitting bool
	width    int
}

type EventMsg smfplay.PlaybackEvent

func NewModel(title string, tracks []string, player Controller, events <-chan smfplay.PlaybackEvent) Model {
	return Model{
		Title:  title,
		Tracks: tracks,
		Player: player,
		Events: events,
		width:  defaultBarWidth,
	}
}

func ListenForEvents(events <-chan smfplay.PlaybackEvent) tea.Cmd {
	return func() tea.Msg {
		return EventMsg(<-events)
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForEvents(m.Events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			_ = m.Player.Stop()
			return m, tea.Quit

		case "+", "=":
			m.Player.SetMasterVolume(m.Player.MasterVolume() + volumeStep)

		case "-", "_":
			m.Player.SetMasterVolume(max(m.Player.MasterVolume()-volumeStep, 0))
		}

	case tea.WindowSizeMsg:
		m.width = min(max(msg.Width-24, 10), 120)

	case EventMsg:
		switch msg.Kind {
		case smfplay.EventProgress:
			m.elapsed, m.total = msg.ElapsedMs, msg.TotalMs
		case smfplay.EventStateChanged:
			m.state = msg.State
		case smfplay.EventPlaybackEnded:
			m.ended = true
			m.stopped = msg.Cancelled
			if !msg.Cancelled {
				m.elapsed = m.total
			}
			return m, tea.Quit
		}
		return m, ListenForEvents(m.Events)
	}

	return m, nil
}

// bar renders a progress bar of the model's width.
func (m Model) bar() string {
	filled := 0
	if m.total > 0 {
		filled = int(uint64(m.elapsed) * uint64(m.width) / uint64(m.total))
	}
	filled = min(filled, m.width)
	return strings.Repeat("█", filled) + strings.Repeat("░", m.width-filled)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	barStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	status := m.state.String()
	switch {
	case m.stopped:
		status = "stopped"
	case m.ended:
		status = "done"
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render(m.Title))
	out.WriteString("\n")
	for i, name := range m.Tracks {
		if name == "" {
			continue
		}
		out.WriteString(dimStyle.Render(fmt.Sprintf("  track[%d] %s", i, name)))
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(barStyle.Render(m.bar()))
	fmt.Fprintf(&out, " %s / %s  %s\n",
		timeline.FormatMillis(m.elapsed), timeline.FormatMillis(m.total), status)
	out.WriteString("\n")
	out.WriteString(dimStyle.Render(fmt.Sprintf("vol %.1f  +/-:volume  q:quit", m.Player.MasterVolume())))
	out.WriteString("\n")
	return out.String()
}
