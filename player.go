package smfplay

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	intaudio "github.com/cbegin/smfplay-go/internal/audio"
	"github.com/cbegin/smfplay-go/internal/engine"
	"github.com/cbegin/smfplay-go/internal/mixer"
	"github.com/cbegin/smfplay-go/internal/scheduler"
	"github.com/cbegin/smfplay-go/internal/smf"
	"github.com/cbegin/smfplay-go/internal/timeline"
)

// PlaybackEvent carries playback events from Watch().
type PlaybackEvent struct {
	Kind      int // EventProgress, EventStateChanged, or EventPlaybackEnded
	ElapsedMs uint32
	TotalMs   uint32
	State     scheduler.State
	Cancelled bool
}

const (
	limiterCeilingDB = -1
	limiterReleaseMs = 50
)

const (
	EventProgress int = iota
	EventStateChanged
	EventPlaybackEnded
)

// Engine is a timed sound engine a Player can drive. The soundfont and MIDI
// engines are built in; a custom Engine is responsible for its own clock.
type Engine interface {
	scheduler.Engine
	Clear()
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	sampleRate       int
	soundFont        string
	midiPort         string
	engine           Engine
	batchDuration    time.Duration
	initialDelay     time.Duration
	progressInterval time.Duration
	bufferSize       time.Duration
	tail             time.Duration
	sampleTap        func([]float32)
	logger           *log.Logger
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		sampleRate:    44100,
		soundFont:     engine.DefaultSoundFont,
		batchDuration: scheduler.DefaultBatchDuration,
		initialDelay:  scheduler.DefaultInitialDelay,
		bufferSize:    50 * time.Millisecond,
		tail:          time.Second,
	}
}

func WithSampleRate(rate int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleRate = rate
	}
}

// WithSoundFont selects the SF2 file used by the built-in synthesizer.
func WithSoundFont(path string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.soundFont = path
	}
}

// WithMIDIOut sends playback to the first MIDI output port whose name
// contains port instead of the built-in synthesizer.
func WithMIDIOut(port string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.midiPort = port
	}
}

// WithEngine drives a caller-supplied engine.
func WithEngine(e Engine) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.engine = e
	}
}

func WithBatchDuration(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.batchDuration = d
	}
}

func WithInitialDelay(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.initialDelay = d
	}
}

// WithProgressInterval enables EventProgress events at the given period.
func WithProgressInterval(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.progressInterval = d
	}
}

// WithTail sets how long the synthesizer keeps rendering after the last
// command so released notes can decay.
func WithTail(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.tail = d
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

func WithLogger(logger *log.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.logger = logger
	}
}

// playback is one Play call.
type playback struct {
	sched    *scheduler.Scheduler
	timeline *timeline.Timeline
	audio    *intaudio.Player
	tail     *intaudio.TailSource
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func (pb *playback) halt() {
	pb.stopOnce.Do(func() { close(pb.stop) })
}

type Player struct {
	mu        sync.Mutex
	cfg       playerConfig
	logger    *log.Logger
	engine    Engine
	synth     *engine.SoundFontEngine
	midi      *engine.MIDIEngine
	stopMIDI  context.CancelFunc
	source    *sourceWrapper
	eq        *mixer.EQ
	current   *playback
	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
}

// sourceWrapper runs the synthesizer output through the master bus and the
// sample tap.
type sourceWrapper struct {
	src       intaudio.SampleSource
	bus       *mixer.Bus
	sampleTap func([]float32)
}

func (w *sourceWrapper) Process(dst []float32) {
	w.src.Process(dst)
	w.bus.Process(dst)
	if w.sampleTap != nil {
		w.sampleTap(dst)
	}
}

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	logger := cfg.logger
	if logger == nil {
		logger = log.Default()
	}
	p := &Player{cfg: cfg, logger: logger}

	switch {
	case cfg.engine != nil:
		p.engine = cfg.engine
	case cfg.midiPort != "":
		out, err := engine.OpenMIDIOut(cfg.midiPort, logger)
		if err != nil {
			return nil, err
		}
		p.midi = engine.NewMIDIEngine(out, logger)
		p.engine = p.midi
		ctx, cancel := context.WithCancel(context.Background())
		p.stopMIDI = cancel
		go func() { _ = p.midi.Run(ctx, time.Millisecond) }()
	default:
		sf, err := engine.LoadSoundFont(cfg.soundFont)
		if err != nil {
			return nil, err
		}
		synth, err := engine.NewSoundFontEngine(sf, cfg.sampleRate, logger)
		if err != nil {
			return nil, err
		}
		p.synth = synth
		p.engine = synth
		p.eq = mixer.NewEQ(cfg.sampleRate)
		p.source = &sourceWrapper{
			src:       synth,
			bus:       mixer.NewBus(p.eq, mixer.NewLimiter(cfg.sampleRate, limiterCeilingDB, limiterReleaseMs)),
			sampleTap: cfg.sampleTap,
		}
	}
	return p, nil
}

// Load decodes a Standard MIDI File. Structural errors are returned before
// any playback is attempted; recoverable problems are logged.
func (p *Player) Load(path string) (*smf.File, error) {
	return smf.ReadFile(path, smf.WithLogger(p.logger))
}

// Play starts playing the window of f and returns immediately. Any playback
// in progress is stopped first.
func (p *Player) Play(f *smf.File, w timeline.Window) error {
	tl, err := timeline.Build(f, w, timeline.WithLogger(p.logger))
	if err != nil {
		return err
	}
	return p.PlayTimeline(tl)
}

// PlayFile loads path and plays the window.
func (p *Player) PlayFile(path string, w timeline.Window) error {
	f, err := p.Load(path)
	if err != nil {
		return err
	}
	return p.Play(f, w)
}

// PlayTimeline plays an already built timeline.
func (p *Player) PlayTimeline(tl *timeline.Timeline) error {
	_ = p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	pb := &playback{
		timeline: tl,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	opts := scheduler.Options{
		BatchDuration:    p.cfg.batchDuration,
		InitialDelay:     p.cfg.initialDelay,
		ProgressInterval: p.cfg.progressInterval,
		OnState: func(st scheduler.State) {
			p.sendEvent(PlaybackEvent{Kind: EventStateChanged, State: st})
		},
		Logger: p.logger,
	}
	if p.cfg.progressInterval > 0 {
		opts.OnProgress = func(pr scheduler.Progress) {
			p.sendEvent(PlaybackEvent{Kind: EventProgress, ElapsedMs: pr.ElapsedMs, TotalMs: pr.TotalMs})
		}
	}
	pb.sched = scheduler.New(p.engine, tl, opts)

	if p.source != nil {
		pb.tail = intaudio.NewTailSource(p.source, pb.sched.Done(), p.cfg.sampleRate, p.cfg.tail)
		backend, err := intaudio.NewPlayer(p.cfg.sampleRate, pb.tail, p.cfg.bufferSize)
		if err != nil {
			return err
		}
		pb.audio = backend
	}
	if err := pb.sched.Start(); err != nil {
		if pb.audio != nil {
			_ = pb.audio.Stop()
		}
		return err
	}
	if pb.audio != nil {
		pb.audio.Play()
	}
	p.current = pb
	go p.finish(pb)
	return nil
}

// finish waits for the scheduler and the release tail, then reports the end.
func (p *Player) finish(pb *playback) {
	select {
	case <-pb.sched.Done():
	case <-pb.stop:
	}
	if pb.tail != nil {
		select {
		case <-pb.tail.Ended():
		case <-pb.stop:
		}
	}
	if pb.audio != nil {
		if err := pb.audio.Stop(); err != nil {
			p.logger.Warn("stop audio", "err", err)
		}
	}
	select {
	case <-pb.sched.Done():
		pb.err = pb.sched.Wait(context.Background())
	default:
		// The engine may never dispatch the cancel wake-up once audio stops.
		pb.err = scheduler.ErrCancelled
	}
	// ended events report playback time, not file time
	p.sendEvent(PlaybackEvent{
		Kind:      EventPlaybackEnded,
		TotalMs:   pb.timeline.Final().TimeMs,
		Cancelled: errors.Is(pb.err, scheduler.ErrCancelled),
	})
	close(pb.done)
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

// Stop cancels the current playback, silences the engine and waits for the
// playback to wind down.
func (p *Player) Stop() error {
	p.mu.Lock()
	pb := p.current
	p.current = nil
	p.mu.Unlock()
	if pb == nil {
		return nil
	}
	pb.sched.Cancel()
	p.engine.Clear()
	pb.halt()
	<-pb.done
	return nil
}

// Wait blocks until the current playback ends or ctx is done. It returns
// scheduler.ErrCancelled when the playback was stopped, and nil if no
// playback is active.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	pb := p.current
	p.mu.Unlock()
	if pb == nil {
		return nil
	}
	select {
	case <-pb.done:
		return pb.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timeline returns the timeline being played, or nil.
func (p *Player) Timeline() *timeline.Timeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.timeline
}

// Watch returns a channel that receives playback events. Events are sent when:
//   - EventProgress: every progress interval while commands are being played
//   - EventStateChanged: the scheduler moved to a new State
//   - EventPlaybackEnded: playback finished or was stopped (Cancelled set)
//
// The channel is buffered (cap 8); receive in a goroutine to avoid blocking the engine.
// Only the most recent Watch() channel receives events; call Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// SetMasterVolume sets runtime volume scalar. 1.0 is default. It only
// affects the built-in synthesizer.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if p.source != nil {
		p.source.bus.SetGain(float32(volume))
	}
}

func (p *Player) MasterVolume() float64 {
	if p.source == nil {
		return 1
	}
	return float64(p.source.bus.Gain())
}

// SetEQBand sets the gain for a master EQ band (0-4). 1.0 = unity.
// Band frequencies: 0=<200Hz, 1=200-800Hz, 2=800-2.5kHz, 3=2.5-8kHz, 4=>8kHz.
// This takes effect immediately on the audio thread (lock-free).
func (p *Player) SetEQBand(band int, gain float32) {
	if p.eq != nil {
		p.eq.SetGain(band, gain)
	}
}

// EQBand returns the current gain for a master EQ band (0-4).
func (p *Player) EQBand(band int) float32 {
	if p.eq == nil {
		return 1
	}
	return p.eq.Gain(band)
}

// Close stops playback and releases the output device.
func (p *Player) Close() error {
	err := p.Stop()
	if p.midi != nil {
		p.stopMIDI()
		if cerr := p.midi.Out.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
