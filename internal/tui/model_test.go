package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cbegin/smfplay-go"
	"github.com/cbegin/smfplay-go/internal/scheduler"
)

type fakeController struct {
	stops  int
	volume float64
}

func (c *fakeController) Stop() error               { c.stops++; return nil }
func (c *fakeController) SetMasterVolume(v float64) { c.volume = v }
func (c *fakeController) MasterVolume() float64     { return c.volume }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestModelTracksProgress(t *testing.T) {
	ctl := &fakeController{volume: 1}
	events := make(chan smfplay.PlaybackEvent, 1)
	m := NewModel("song.mid", []string{"lead", ""}, ctl, events)

	m, cmd := update(t, m, EventMsg{Kind: smfplay.EventStateChanged, State: scheduler.Armed})
	if cmd == nil {
		t.Fatal("expected listen command")
	}
	m, _ = update(t, m, EventMsg{Kind: smfplay.EventProgress, ElapsedMs: 1500, TotalMs: 6000})
	if got := m.bar(); strings.Count(got, "█") != 10 {
		t.Fatalf("bar = %q", got)
	}
	view := m.View()
	for _, want := range []string{"song.mid", "track[0] lead", "0:01.500", "0:06.000", "armed"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "track[1]") {
		t.Fatalf("unnamed track shown:\n%s", view)
	}

	events <- smfplay.PlaybackEvent{Kind: smfplay.EventPlaybackEnded}
	if msg := cmd(); msg.(EventMsg).Kind != smfplay.EventPlaybackEnded {
		t.Fatalf("listen returned %v", msg)
	}
	m, cmd = update(t, m, EventMsg{Kind: smfplay.EventPlaybackEnded})
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit on end")
	}
	if m.elapsed != m.total || !strings.Contains(m.View(), "done") {
		t.Fatalf("final view:\n%s", m.View())
	}
}

func TestModelKeys(t *testing.T) {
	ctl := &fakeController{volume: 0.05}
	m := NewModel("x", nil, ctl, make(chan smfplay.PlaybackEvent))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'-'}})
	if ctl.volume != 0 {
		t.Fatalf("volume = %v", ctl.volume)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'+'}})
	if ctl.volume != volumeStep {
		t.Fatalf("volume = %v", ctl.volume)
	}
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if ctl.stops != 1 || m.View() != "" {
		t.Fatalf("stops = %d", ctl.stops)
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit")
	}
}

func TestModelWindowSize(t *testing.T) {
	m := NewModel("x", nil, &fakeController{}, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 64})
	if len([]rune(m.bar())) != 40 {
		t.Fatalf("bar width = %d", len([]rune(m.bar())))
	}
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 5})
	if len([]rune(m.bar())) != 10 {
		t.Fatalf("bar width = %d", len([]rune(m.bar())))
	}
}
