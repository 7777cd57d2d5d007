package scheduler

import (
	"context"
	"io"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/cbegin/smfplay-go/internal/timeline"
)

type timer struct {
	at     uint32
	seq    int
	client int
}

type sentNote struct {
	at                 uint32
	channel, key, velo uint8
	duration           uint32
}

// fakeEngine is a manually clocked engine. Timers fire from advance, with
// callbacks invoked outside the lock as a real engine would.
type fakeEngine struct {
	mu       sync.Mutex
	now      uint32
	seq      int
	nextID   int
	clients  map[int]func(uint32)
	timers   []timer
	notes    []sentNote
	programs []uint32
	bends    []uint32
	onNote   func()
}

func newFakeEngine(now uint32) *fakeEngine {
	return &fakeEngine{now: now, clients: map[int]func(uint32){}}
}

func (e *fakeEngine) Now() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *fakeEngine) RegisterClient(_ string, cb func(uint32)) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.clients[id] = cb
	return id, nil
}

func (e *fakeEngine) UnregisterClient(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, id)
}

func (e *fakeEngine) SendAt(client int, at uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.clients[client]; !ok {
		return errors.Errorf("unknown client %d", client)
	}
	e.seq++
	e.timers = append(e.timers, timer{at: at, seq: e.seq, client: client})
	return nil
}

func (e *fakeEngine) Note(at uint32, ch, key, vel uint8, dur uint32) error {
	e.mu.Lock()
	e.notes = append(e.notes, sentNote{at, ch, key, vel, dur})
	hook := e.onNote
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *fakeEngine) ProgramChange(at uint32, ch, prog uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = append(e.programs, at)
	return nil
}

func (e *fakeEngine) PitchBend(at uint32, ch uint8, bend uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bends = append(e.bends, at)
	return nil
}

// advance fires every timer due at or before to, in time order.
func (e *fakeEngine) advance(to uint32) {
	for {
		e.mu.Lock()
		slices.SortFunc(e.timers, func(a, b timer) int {
			if a.at != b.at {
				return int(a.at) - int(b.at)
			}
			return a.seq - b.seq
		})
		if len(e.timers) == 0 || e.timers[0].at > to {
			e.now = to
			e.mu.Unlock()
			return
		}
		t := e.timers[0]
		e.timers = e.timers[1:]
		e.now = max(e.now, t.at)
		cb, ok := e.clients[t.client]
		e.mu.Unlock()
		if ok {
			cb(t.at)
		}
	}
}

func (e *fakeEngine) noteTimes() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []uint32
	for _, n := range e.notes {
		out = append(out, n.at)
	}
	return out
}

func testTimeline(noteTimes ...uint32) *timeline.Timeline {
	tl := &timeline.Timeline{Window: timeline.FullWindow()}
	var final uint32
	for _, t := range noteTimes {
		tl.Events = append(tl.Events, timeline.AbsEvent{
			TimeMs:     t,
			OriginalMs: t,
			Command:    timeline.NoteCommand{Key: 60, Velocity: 100, DurationMs: 500, OriginalDurationMs: 500},
		})
		final = max(final, t+500)
	}
	var orig uint32
	if n := len(noteTimes); n > 0 {
		orig = noteTimes[n-1]
	}
	tl.Events = append(tl.Events, timeline.AbsEvent{TimeMs: final, OriginalMs: orig, Command: timeline.FinalMarker{}})
	return tl
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st == s {
			n++
		}
	}
	return n
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

func isDone(s *Scheduler) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func TestSchedulerSendsInBatches(t *testing.T) {
	eng := newFakeEngine(1000)
	rec := &stateRecorder{}
	s := New(eng, testTimeline(0, 4000, 8000, 12000, 25000), Options{
		BatchDuration: 10 * time.Second,
		InitialDelay:  200 * time.Millisecond,
		OnState:       rec.record,
		Logger:        quietLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	eng.advance(1000)
	if got := eng.noteTimes(); !slices.Equal(got, []uint32{1200, 5200, 9200}) {
		t.Fatalf("first batch = %v", got)
	}
	eng.advance(6000)
	if got := eng.noteTimes(); len(got) != 4 || got[3] != 13200 {
		t.Fatalf("second batch = %v", got)
	}
	eng.advance(20999)
	if n := len(eng.noteTimes()); n != 4 || s.State() != Armed {
		t.Fatalf("sent %d notes, state %v before last batch", n, s.State())
	}
	eng.advance(21000)
	if got := eng.noteTimes(); len(got) != 5 || got[4] != 26200 {
		t.Fatalf("last batch = %v", got)
	}
	if s.State() != Draining {
		t.Fatalf("state = %v, want draining", s.State())
	}
	if isDone(s) {
		t.Fatalf("done before final marker time")
	}
	eng.advance(26700)
	if s.State() != Complete || !isDone(s) {
		t.Fatalf("state = %v after final marker", s.State())
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.Sent() != 5 {
		t.Fatalf("Sent = %d", s.Sent())
	}
	if rec.count(Draining) != 1 || rec.count(Complete) != 1 {
		t.Fatalf("states = %v", rec.states)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.clients) != 0 {
		t.Fatalf("clients left registered: %d", len(eng.clients))
	}
}

func TestSchedulerSendsAllCommandKinds(t *testing.T) {
	eng := newFakeEngine(0)
	tl := &timeline.Timeline{Window: timeline.FullWindow(), Events: []timeline.AbsEvent{
		{TimeMs: 0, Command: timeline.ProgramChangeCommand{Channel: 1, Program: 5}},
		{TimeMs: 0, Command: timeline.PitchBendCommand{Channel: 1, Bend: 0x2100}},
		{TimeMs: 10, Command: timeline.NoteCommand{Channel: 1, Key: 64, Velocity: 70, DurationMs: 90}},
		{TimeMs: 100, Command: timeline.FinalMarker{}},
	}}
	s := New(eng, tl, Options{Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eng.advance(1000)
	if !isDone(s) {
		t.Fatalf("not done, state %v", s.State())
	}
	if len(eng.programs) != 1 || eng.programs[0] != 200 || len(eng.bends) != 1 || eng.bends[0] != 200 {
		t.Fatalf("programs %v bends %v", eng.programs, eng.bends)
	}
	if n := eng.notes[0]; n.at != 210 || n.channel != 1 || n.key != 64 || n.velo != 70 || n.duration != 90 {
		t.Fatalf("note = %+v", n)
	}
}

func TestSchedulerReentrantBatchIsNoop(t *testing.T) {
	eng := newFakeEngine(0)
	s := New(eng, testTimeline(0, 10, 20), Options{Logger: quietLogger()})
	reentered := 0
	eng.onNote = func() {
		reentered++
		s.onBatch(eng.Now())
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eng.advance(0)
	if got := eng.noteTimes(); !slices.Equal(got, []uint32{200, 210, 220}) {
		t.Fatalf("notes = %v", got)
	}
	if reentered != 3 {
		t.Fatalf("reentered %d times", reentered)
	}
	if s.State() != Draining {
		t.Fatalf("state = %v", s.State())
	}
}

func TestSchedulerCompletionIsIdempotent(t *testing.T) {
	eng := newFakeEngine(0)
	rec := &stateRecorder{}
	s := New(eng, testTimeline(0), Options{OnState: rec.record, Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eng.advance(0)
	s.onFinal(700)
	s.onFinal(700)
	eng.advance(10000)
	if rec.count(Complete) != 1 {
		t.Fatalf("complete transitions = %d", rec.count(Complete))
	}
	if !isDone(s) {
		t.Fatalf("not done")
	}
}

func TestSchedulerCancel(t *testing.T) {
	eng := newFakeEngine(0)
	s := New(eng, testTimeline(0, 15000, 30000), Options{Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eng.advance(1000)
	if n := len(eng.noteTimes()); n != 1 {
		t.Fatalf("sent %d notes before cancel", n)
	}
	s.Cancel()
	s.Cancel()
	eng.advance(1000)
	if !isDone(s) || s.State() != Complete {
		t.Fatalf("state after cancel = %v", s.State())
	}
	eng.advance(60000)
	if n := len(eng.noteTimes()); n != 1 {
		t.Fatalf("sent %d notes after cancel", n)
	}
	if err := s.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait = %v", err)
	}
}

func TestSchedulerCancelDuringBatch(t *testing.T) {
	eng := newFakeEngine(0)
	s := New(eng, testTimeline(0, 5000, 30000), Options{Logger: quietLogger()})
	eng.onNote = func() { s.Cancel() }
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	// the batch runs without the engine delivering the cancel wake-up
	s.onBatch(eng.Now())
	if !isDone(s) || s.State() != Complete {
		t.Fatalf("state after cancel during batch = %v", s.State())
	}
	if err := s.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait = %v", err)
	}
	eng.advance(60000)
	if n := len(eng.noteTimes()); n != 2 {
		t.Fatalf("sent %d notes", n)
	}
}

func TestSchedulerCancelWhileDraining(t *testing.T) {
	eng := newFakeEngine(0)
	s := New(eng, testTimeline(0), Options{Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eng.advance(0)
	if s.State() != Draining {
		t.Fatalf("state = %v", s.State())
	}
	s.Cancel()
	if !isDone(s) {
		t.Fatalf("cancel while draining did not complete")
	}
}

func TestSchedulerProgress(t *testing.T) {
	eng := newFakeEngine(0)
	tl := testTimeline(0, 1000, 2000)
	tl.Window = timeline.Window{BeginMs: 3000, EndMs: math.MaxUint32, TempoFactor: 2}
	var mu sync.Mutex
	var got []Progress
	s := New(eng, tl, Options{
		InitialDelay:     100 * time.Millisecond,
		ProgressInterval: 500 * time.Millisecond,
		OnProgress: func(p Progress) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, p)
		},
		Logger: quietLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eng.advance(1100)
	mu.Lock()
	if len(got) != 2 {
		mu.Unlock()
		t.Fatalf("progress = %+v", got)
	}
	// at 500: 3000 + (500-100)/2 = 3200, clamped to the last original time
	if got[0] != (Progress{ElapsedMs: 2000, TotalMs: 2000}) {
		t.Fatalf("progress clamps to total: %+v", got[0])
	}
	mu.Unlock()

	eng.advance(1000000)
	if !isDone(s) {
		t.Fatalf("not done")
	}
	mu.Lock()
	n := len(got)
	mu.Unlock()
	eng.advance(2000000)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatalf("progress reported after completion")
	}
}

func TestSchedulerProgressElapsed(t *testing.T) {
	eng := newFakeEngine(0)
	tl := testTimeline(0, 10000)
	tl.Window = timeline.Window{BeginMs: 0, EndMs: math.MaxUint32, TempoFactor: 2}
	var got []Progress
	s := New(eng, tl, Options{
		InitialDelay:     100 * time.Millisecond,
		ProgressInterval: time.Second,
		OnProgress:       func(p Progress) { got = append(got, p) },
		Logger:           quietLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	eng.advance(2000)
	// progress timers at 0 (before the offset is set), 1000 and 2000
	if len(got) != 2 || got[0].ElapsedMs != 450 || got[1].ElapsedMs != 950 || got[1].TotalMs != 10000 {
		t.Fatalf("progress = %+v", got)
	}
}

func TestSchedulerStartTwice(t *testing.T) {
	s := New(newFakeEngine(0), testTimeline(), Options{Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, ErrStarted) {
		t.Fatalf("second Start = %v", err)
	}
}

func TestSchedulerWaitHonoursContext(t *testing.T) {
	s := New(newFakeEngine(0), testTimeline(0), Options{Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v", err)
	}
}
