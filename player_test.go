package smfplay

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	gosmf "gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/smfplay-go/internal/engine"
	"github.com/cbegin/smfplay-go/internal/mixer"
	"github.com/cbegin/smfplay-go/internal/scheduler"
	"github.com/cbegin/smfplay-go/internal/timeline"
)

type manualClock struct{ now uint32 }

func (c *manualClock) Now() uint32 { return c.now }

type recordingSynth struct {
	mu    sync.Mutex
	clock *manualClock
	calls []string
}

func (s *recordingSynth) add(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%d ", s.clock.now)+fmt.Sprintf(format, args...))
}

func (s *recordingSynth) NoteOn(ch, key, vel uint8)    { s.add("on %d %d %d", ch, key, vel) }
func (s *recordingSynth) NoteOff(ch, key uint8)        { s.add("off %d %d", ch, key) }
func (s *recordingSynth) ProgramChange(ch, p uint8)    { s.add("program %d %d", ch, p) }
func (s *recordingSynth) PitchBend(ch uint8, b uint16) { s.add("bend %d %d", ch, b) }
func (s *recordingSynth) AllNotesOff()                 { s.add("all off") }

func (s *recordingSynth) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	return out
}

type testRig struct {
	clock *manualClock
	synth *recordingSynth
	seq   *engine.Sequencer
}

func newRig() *testRig {
	clock := &manualClock{}
	synth := &recordingSynth{clock: clock}
	return &testRig{clock: clock, synth: synth, seq: engine.NewSequencer(clock, synth, quietLogger())}
}

func (r *testRig) dispatchAt(now uint32) {
	r.clock.now = now
	r.seq.Dispatch(now)
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

// writeSong writes a one-track file: program 5, then C4 for one quarter at
// 120 bpm.
func writeSong(t *testing.T) string {
	t.Helper()
	s := gosmf.NewSMF1()
	s.TimeFormat = gosmf.MetricTicks(480)
	var tr gosmf.Track
	tr.Add(0, gosmf.MetaTrackSequenceName("lead"))
	tr.Add(0, midi.ProgramChange(0, 5))
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Close(0)
	if err := s.Add(tr); err != nil {
		t.Fatalf("Add: %v", err)
	}
	path := filepath.Join(t.TempDir(), "song.mid")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if _, err := s.WriteTo(out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return path
}

func newTestPlayer(t *testing.T, rig *testRig) *Player {
	t.Helper()
	p, err := NewPlayer(
		WithEngine(rig.seq),
		WithLogger(quietLogger()),
		WithInitialDelay(100*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	return p
}

func drain(ch <-chan PlaybackEvent) []PlaybackEvent {
	var out []PlaybackEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPlayerPlaysFileToCompletion(t *testing.T) {
	rig := newRig()
	p := newTestPlayer(t, rig)
	events := p.Watch()

	f, err := p.Load(writeSong(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := p.Play(f, timeline.FullWindow()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if tl := p.Timeline(); tl == nil || tl.Final().TimeMs != 500 {
		t.Fatalf("timeline = %v", tl)
	}

	rig.dispatchAt(0)
	rig.dispatchAt(100)
	rig.dispatchAt(600)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := []string{"100 program 0 5", "100 on 0 60 100", "600 off 0 60"}
	if got := rig.synth.take(); !slices.Equal(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	var states []scheduler.State
	var ended *PlaybackEvent
	for _, ev := range drain(events) {
		switch ev.Kind {
		case EventStateChanged:
			states = append(states, ev.State)
		case EventPlaybackEnded:
			ended = &ev
		}
	}
	if !slices.Equal(states, []scheduler.State{scheduler.Armed, scheduler.Draining, scheduler.Complete}) {
		t.Fatalf("states = %v", states)
	}
	if ended == nil || ended.Cancelled || ended.TotalMs != 500 {
		t.Fatalf("ended = %+v", ended)
	}
}

func TestPlayerStopSilencesAndCancels(t *testing.T) {
	rig := newRig()
	p := newTestPlayer(t, rig)
	events := p.Watch()

	f, err := p.Load(writeSong(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := p.Play(f, timeline.FullWindow()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	rig.dispatchAt(0)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rig.dispatchAt(1000)
	if got := rig.synth.take(); !slices.Equal(got, []string{"0 all off"}) {
		t.Fatalf("calls = %v", got)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after Stop: %v", err)
	}
	var cancelled bool
	for _, ev := range drain(events) {
		if ev.Kind == EventPlaybackEnded {
			cancelled = ev.Cancelled
		}
	}
	if !cancelled {
		t.Fatal("no cancelled end event")
	}
}

func TestPlayerWaitHonoursContext(t *testing.T) {
	rig := newRig()
	p := newTestPlayer(t, rig)
	f, err := p.Load(writeSong(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := p.Play(f, timeline.FullWindow()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPlayerRejectsBadInput(t *testing.T) {
	if _, err := NewPlayer(WithSampleRate(0)); err == nil {
		t.Fatal("expected sample rate error")
	}
	p := newTestPlayer(t, newRig())
	path := filepath.Join(t.TempDir(), "bad.mid")
	if err := os.WriteFile(path, []byte("MThd\x00\x00\x00\x06\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Load(path); err == nil {
		t.Fatal("expected decode error")
	}
	f, err := p.Load(writeSong(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := p.Play(f, timeline.Window{BeginMs: 10, EndMs: 5, TempoFactor: 1}); err == nil {
		t.Fatal("expected window error")
	}
}

func TestSourceWrapperAppliesGainAndTap(t *testing.T) {
	var tapped []float32
	w := &sourceWrapper{
		src:       constSource(0.5),
		bus:       mixer.NewBus(),
		sampleTap: func(buf []float32) { tapped = append(tapped, buf...) },
	}
	w.bus.SetGain(0.5)
	buf := make([]float32, 4)
	w.Process(buf)
	for i, v := range buf {
		if v != 0.25 || tapped[i] != 0.25 {
			t.Fatalf("sample %d = %v, tapped %v", i, v, tapped[i])
		}
	}
}

type constSource float32

func (s constSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = float32(s)
	}
}
