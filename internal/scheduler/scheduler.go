// Package scheduler feeds a timeline into a sound engine in batches.
//
// The engine owns the clock and calls back into the scheduler from its own
// goroutines. Every field a callback touches is atomic or owned by whoever
// holds the sending flag, and no lock is held while calling the engine.
package scheduler

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/cbegin/smfplay-go/internal/timeline"
)

var (
	ErrStarted   = errors.New("scheduler: already started")
	ErrCancelled = errors.New("scheduler: playback cancelled")
)

// Engine is the timed sound engine the scheduler drives. Times are engine
// milliseconds. Callbacks registered with RegisterClient run when a timer
// sent with SendAt comes due and receive the timer's time.
type Engine interface {
	Now() uint32
	RegisterClient(name string, callback func(at uint32)) (int, error)
	UnregisterClient(id int)
	SendAt(client int, at uint32) error
	Note(at uint32, channel, key, velocity uint8, durationMs uint32) error
	ProgramChange(at uint32, channel, program uint8) error
	PitchBend(at uint32, channel uint8, bend uint16) error
}

type State int32

const (
	Idle State = iota
	Armed
	Draining
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Draining:
		return "draining"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// Progress is the playback position in the file's own timebase.
type Progress struct {
	ElapsedMs uint32
	TotalMs   uint32
}

type Options struct {
	// BatchDuration is how far ahead each wake-up schedules commands.
	// Defaults to 10s.
	BatchDuration time.Duration
	// InitialDelay is added to the engine clock at the first batch.
	// Defaults to 200ms; negative means none.
	InitialDelay time.Duration
	// ProgressInterval defaults to 100ms when OnProgress is set.
	ProgressInterval time.Duration
	OnProgress       func(Progress)
	OnState          func(State)
	Logger           *log.Logger
}

const (
	DefaultBatchDuration    = 10 * time.Second
	DefaultInitialDelay     = 200 * time.Millisecond
	DefaultProgressInterval = 100 * time.Millisecond
)

const noAddMs = -1

type Scheduler struct {
	eng    Engine
	events []timeline.AbsEvent
	window timeline.Window
	opts   Options
	logger *log.Logger

	batchMs    uint32
	delayMs    uint32
	progressMs uint32

	batchClient    int
	finalClient    int
	progressClient int

	// next is only read or written by the holder of sending.
	next int

	addMs     atomic.Int64
	sending   atomic.Bool
	handled   atomic.Bool
	cancelled atomic.Bool
	state     atomic.Int32
	sent      atomic.Int64
	done      chan struct{}
}

func millis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms < 0:
		return 0
	case ms > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(ms)
}

// New prepares a scheduler for tl. Nothing is sent until Start.
func New(eng Engine, tl *timeline.Timeline, opts Options) *Scheduler {
	if opts.BatchDuration <= 0 {
		opts.BatchDuration = DefaultBatchDuration
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	} else if opts.InitialDelay == 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.OnProgress != nil && opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		eng:            eng,
		events:         tl.Events,
		window:         tl.Window,
		opts:           opts,
		logger:         logger,
		batchMs:        max(millis(opts.BatchDuration), 2),
		delayMs:        millis(opts.InitialDelay),
		progressMs:     max(millis(opts.ProgressInterval), 1),
		batchClient:    -1,
		finalClient:    -1,
		progressClient: -1,
		done:           make(chan struct{}),
	}
	s.addMs.Store(noAddMs)
	return s
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Sent returns the number of commands handed to the engine so far.
func (s *Scheduler) Sent() int { return int(s.sent.Load()) }

// Done is closed when playback completes or is cancelled.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("scheduler state", "state", st)
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// Start registers the scheduler's clients with the engine and arms the first
// batch at the engine's current time.
func (s *Scheduler) Start() error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Armed)) {
		return ErrStarted
	}
	if err := s.register(); err != nil {
		s.state.Store(int32(Idle))
		return err
	}
	s.setState(Armed)
	now := s.eng.Now()
	if err := s.eng.SendAt(s.batchClient, now); err != nil {
		s.complete()
		return errors.Wrap(err, "arm first batch")
	}
	if s.progressClient >= 0 {
		s.sendAt(s.progressClient, now)
	}
	return nil
}

func (s *Scheduler) register() error {
	var err error
	if s.finalClient, err = s.eng.RegisterClient("final", s.onFinal); err != nil {
		return errors.Wrap(err, "register final client")
	}
	if s.batchClient, err = s.eng.RegisterClient("periodic", s.onBatch); err != nil {
		s.eng.UnregisterClient(s.finalClient)
		return errors.Wrap(err, "register periodic client")
	}
	if s.opts.OnProgress == nil {
		return nil
	}
	if s.progressClient, err = s.eng.RegisterClient("progress", s.onProgress); err != nil {
		s.eng.UnregisterClient(s.batchClient)
		s.eng.UnregisterClient(s.finalClient)
		return errors.Wrap(err, "register progress client")
	}
	return nil
}

// Wait blocks until playback completes or ctx is done. It returns
// ErrCancelled when playback ended through Cancel.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		if s.cancelled.Load() {
			return ErrCancelled
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops sending further commands and completes playback at the next
// wake-up, which is requested immediately. Commands already handed to the
// engine are not recalled.
func (s *Scheduler) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	switch s.State() {
	case Idle, Draining:
		s.complete()
		return
	case Complete:
		return
	}
	s.sendAt(s.batchClient, s.eng.Now())
	// the batch may have moved to Draining and dropped its client meanwhile
	if s.State() == Draining {
		s.complete()
	}
}

func (s *Scheduler) sendAt(client int, at uint32) {
	if err := s.eng.SendAt(client, at); err != nil {
		s.logger.Error("schedule callback", "client", client, "at", at, "err", err)
	}
}

func (s *Scheduler) onBatch(uint32) {
	if s.handled.Load() {
		return
	}
	if !s.sending.CompareAndSwap(false, true) {
		// the batch in progress re-arms itself
		return
	}
	now := s.eng.Now()
	finalSent := s.sendBatch(now)
	s.sending.Store(false)
	if !finalSent && s.cancelled.Load() {
		// a Cancel during the send found this batch running
		s.complete()
		return
	}
	if !finalSent {
		s.sendAt(s.batchClient, satAdd(now, s.batchMs/2))
	}
}

func satAdd(a, b uint32) uint32 {
	if sum := a + b; sum >= a {
		return sum
	}
	return math.MaxUint32
}

// sendBatch sends every unsent event due before now+BatchDuration and
// reports whether the FinalMarker went out.
func (s *Scheduler) sendBatch(now uint32) bool {
	if s.cancelled.Load() {
		s.logger.Debug("playback cancelled", "sent", s.Sent())
		s.complete()
		return true
	}
	add := s.addMs.Load()
	if add == noAddMs {
		add = int64(satAdd(now, s.delayMs))
		s.addMs.Store(add)
	}
	horizon := int64(now) + int64(s.batchMs)
	start := s.next
	for s.next < len(s.events) {
		ev := s.events[s.next]
		at64 := int64(ev.TimeMs) + add
		if at64 >= horizon {
			break
		}
		at := uint32(min(at64, math.MaxUint32))
		s.next++
		if _, ok := ev.Command.(timeline.FinalMarker); ok {
			s.logger.Debug("final batch", "commands", s.next-1-start, "final_at", at)
			s.eng.UnregisterClient(s.batchClient)
			s.setState(Draining)
			s.sendAt(s.finalClient, at)
			if s.cancelled.Load() {
				s.complete()
			}
			return true
		}
		s.dispatch(at, ev.Command)
	}
	s.logger.Debug("batch sent", "now", now, "commands", s.next-start, "remaining", len(s.events)-s.next)
	return false
}

func (s *Scheduler) dispatch(at uint32, cmd timeline.Command) {
	var err error
	switch c := cmd.(type) {
	case timeline.NoteCommand:
		err = s.eng.Note(at, c.Channel, c.Key, c.Velocity, c.DurationMs)
	case timeline.ProgramChangeCommand:
		err = s.eng.ProgramChange(at, c.Channel, c.Program)
	case timeline.PitchBendCommand:
		err = s.eng.PitchBend(at, c.Channel, c.Bend)
	}
	if err != nil {
		s.logger.Error("engine rejected command", "cmd", cmd, "at", at, "err", err)
		return
	}
	s.sent.Add(1)
}

func (s *Scheduler) onFinal(uint32) {
	s.complete()
}

// complete moves to Complete exactly once, however many times the engine
// delivers the final callback.
func (s *Scheduler) complete() {
	if !s.handled.CompareAndSwap(false, true) {
		return
	}
	s.setState(Complete)
	for _, id := range []int{s.batchClient, s.progressClient, s.finalClient} {
		if id >= 0 {
			s.eng.UnregisterClient(id)
		}
	}
	close(s.done)
}

func (s *Scheduler) onProgress(at uint32) {
	if s.handled.Load() {
		return
	}
	if add := s.addMs.Load(); add != noAddMs && int64(at) >= add {
		total := s.events[len(s.events)-1].OriginalMs
		elapsed := float64(s.window.BeginMs) + float64(int64(at)-add)/s.window.TempoFactor
		s.opts.OnProgress(Progress{
			ElapsedMs: uint32(min(elapsed, float64(total))),
			TotalMs:   total,
		})
	}
	s.sendAt(s.progressClient, satAdd(at, s.progressMs))
}
