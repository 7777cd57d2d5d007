package timeline

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/cbegin/smfplay-go/internal/smf"
)

var ErrNoTicksPerQuarter = errors.New("timeline: file has no usable time division")

// Timeline is the time-resolved command list for one playback request.
// Events is ordered as produced and ends with exactly one FinalMarker.
type Timeline struct {
	Events          []AbsEvent
	Window          Window
	TicksPerQuarter uint64
	TrackNames      []string

	// Unterminated counts notes with no matching note off; they last until
	// the last event of the piece.
	Unterminated int
	// Overflows counts times clamped to math.MaxUint32.
	Overflows int
}

// Final returns the FinalMarker event.
func (t *Timeline) Final() AbsEvent {
	return t.Events[len(t.Events)-1]
}

// Commands returns the events before the FinalMarker.
func (t *Timeline) Commands() []AbsEvent {
	return t.Events[:len(t.Events)-1]
}

// Option configures Build.
type Option func(*builder)

func WithLogger(logger *log.Logger) Option {
	return func(b *builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type builder struct {
	logger  *log.Logger
	file    *smf.File
	index   []IndexEvent
	window  Window
	timing  DynamicTiming
	tl      *Timeline
	finalMs uint32
}

// TicksPerQuarter returns the ticks per quarter note used for conversion.
// SMPTE divisions are approximated as fps*ticksPerFrame/2, which is exact
// only at the default tempo of 120 quarter notes per minute.
func TicksPerQuarter(h smf.Header) (tpq uint64, approximate bool) {
	if !h.Division.IsSMPTE() {
		return uint64(h.Division.TicksPerQuarter()), false
	}
	fps, tpf := h.Division.SMPTE()
	if fps == 29 {
		fps = 30
	}
	if fps <= 0 {
		return 0, true
	}
	return uint64(fps*tpf) / 2, true
}

// Build walks the merged events of f and produces the commands that fall in
// w. SetTempo events before w.BeginMs still take effect; program changes
// and pitch bends before it are emitted at output time 0 so channel state is
// correct when playback starts.
func Build(f *smf.File, w Window, opts ...Option) (*Timeline, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	b := &builder{logger: log.Default(), file: f, window: w}
	for _, opt := range opts {
		opt(b)
	}
	tpq, approx := TicksPerQuarter(f.Header)
	if tpq == 0 {
		return nil, errors.Wrapf(ErrNoTicksPerQuarter, "division %s", f.Header.Division)
	}
	if approx {
		b.logger.Warn("SMPTE time division is approximated", "ticks_per_quarter", tpq)
	}
	b.timing = NewDynamicTiming(tpq)
	b.index = Index(f.Tracks)
	b.tl = &Timeline{Window: w, TicksPerQuarter: tpq, TrackNames: trackNames(f.Tracks)}
	b.run()
	return b.tl, nil
}

func (b *builder) event(ie IndexEvent) smf.Event {
	return b.file.Tracks[ie.Track].Events[ie.Event].Event
}

func (b *builder) overflow(what string, keyvals ...any) {
	b.tl.Overflows++
	b.logger.Warn(what+" overflows, clamped", keyvals...)
}

func (b *builder) firstNoteTick() uint64 {
	for _, ie := range b.index {
		if _, ok := b.event(ie).(smf.NoteOn); ok {
			return ie.Tick
		}
	}
	return 0
}

func (b *builder) run() {
	first := b.firstNoteTick()
	ends := b.noteEnds()
	for i, ie := range b.index {
		var shifted uint64
		if ie.Tick > first {
			shifted = ie.Tick - first
		}
		date, ok := b.timing.AbsTicksToMillis(shifted)
		if !ok {
			b.overflow("event time", "tick", ie.Tick)
		}
		if date > b.window.EndMs {
			break
		}
		switch ev := b.event(ie).(type) {
		case smf.SetTempo:
			if ev.MicrosPerQuarter == 0 {
				b.logger.Warn("ignoring zero tempo", "track", ie.Track, "tick", ie.Tick)
				continue
			}
			if !b.timing.SetTempo(shifted, ev.MicrosPerQuarter) {
				b.overflow("tempo anchor", "tick", ie.Tick)
			}
		case smf.NoteOn:
			if ev.Velocity == 0 || date < b.window.BeginMs {
				continue
			}
			b.note(ie, ev, date, ends[i])
		case smf.ProgramChange:
			b.push(date, ProgramChangeCommand{Channel: ev.Channel, Program: ev.Program}, 0)
		case smf.PitchWheel:
			b.push(date, PitchBendCommand{Channel: ev.Channel, Bend: ev.Bend}, 0)
		}
	}
	b.finish()
}

// outputTime maps an original time at or after BeginMs through the tempo
// factor. Earlier times map to 0, the image of BeginMs.
func (b *builder) outputTime(date uint32) uint32 {
	if date < b.window.BeginMs {
		return 0
	}
	t, ok := b.window.Scale(date - b.window.BeginMs)
	if !ok {
		b.overflow("scaled time", "ms", date)
	}
	return t
}

func (b *builder) push(date uint32, cmd Command, duration uint32) {
	t := b.outputTime(date)
	end := t + duration
	if end < t {
		end = math.MaxUint32
		b.overflow("note end", "ms", date)
	}
	b.finalMs = max(b.finalMs, end)
	b.tl.Events = append(b.tl.Events, AbsEvent{TimeMs: t, OriginalMs: date, Command: cmd})
}

func (b *builder) note(ie IndexEvent, ev smf.NoteOn, date uint32, end noteEnd) {
	if !end.matched {
		b.tl.Unterminated++
		b.logger.Warn("note has no note off, holding to end of piece",
			"track", ie.Track, "tick", ie.Tick, "channel", ev.Channel, "key", ev.Key)
	}
	var ticks uint64
	if end.tick > ie.Tick {
		ticks = end.tick - ie.Tick
	}
	orig, ok := b.timing.TicksToMillis(ticks)
	if !ok {
		b.overflow("note duration", "tick", ie.Tick)
	}
	dur, ok := b.window.Scale(orig)
	if !ok {
		b.overflow("scaled note duration", "tick", ie.Tick)
	}
	b.push(date, NoteCommand{
		Channel:            ev.Channel,
		Key:                ev.Key,
		Velocity:           ev.Velocity,
		DurationMs:         dur,
		OriginalDurationMs: orig,
	}, dur)
}

func (b *builder) finish() {
	var orig uint32
	if n := len(b.tl.Events); n > 0 {
		orig = b.tl.Events[n-1].OriginalMs
	}
	b.tl.Events = append(b.tl.Events, AbsEvent{
		TimeMs:     max(b.finalMs, b.window.BeginMs),
		OriginalMs: orig,
		Command:    FinalMarker{},
	})
	b.logger.Debug("timeline built",
		"commands", len(b.tl.Events)-1,
		"final", FormatMillis(b.tl.Final().TimeMs),
		"window", b.window)
}

type noteEnd struct {
	tick    uint64
	matched bool
}

// noteEnds finds, for every index position, the tick of the nearest later
// NoteOff or zero velocity NoteOn on the same channel and key. Positions
// with no such event get the tick of the last indexed event.
func (b *builder) noteEnds() []noteEnd {
	ends := make([]noteEnd, len(b.index))
	if len(b.index) == 0 {
		return ends
	}
	last := b.index[len(b.index)-1].Tick
	var next [16][128]noteEnd
	for ch := range next {
		for k := range next[ch] {
			next[ch][k] = noteEnd{tick: last}
		}
	}
	for i := len(b.index) - 1; i >= 0; i-- {
		ie := b.index[i]
		switch ev := b.event(ie).(type) {
		case smf.NoteOn:
			ends[i] = next[ev.Channel&0x0f][ev.Key&0x7f]
			if ev.Velocity == 0 {
				next[ev.Channel&0x0f][ev.Key&0x7f] = noteEnd{tick: ie.Tick, matched: true}
			}
		case smf.NoteOff:
			next[ev.Channel&0x0f][ev.Key&0x7f] = noteEnd{tick: ie.Tick, matched: true}
		}
	}
	return ends
}

// trackNames returns the first SequenceTrackName of each track.
func trackNames(tracks []smf.Track) []string {
	names := make([]string, len(tracks))
	for i, tr := range tracks {
		for _, ev := range tr.Events {
			if t, ok := ev.Event.(smf.Text); ok && t.Kind == smf.MetaTrackName {
				names[i] = t.Text
				break
			}
		}
	}
	return names
}

func (t *Timeline) String() string {
	return fmt.Sprintf("Timeline(%d commands, final=%s, %s)",
		len(t.Commands()), FormatMillis(t.Final().TimeMs), t.Window)
}
