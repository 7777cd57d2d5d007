package smf

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const (
	headerTag    = "MThd"
	trackTag     = "MTrk"
	headerLength = 6
)

type Format uint16

const (
	FormatSingleTrack Format = 0
	FormatMultiTrack  Format = 1
	FormatSequential  Format = 2
)

// Division is the raw header time-division field. The top bit selects
// SMPTE timing; otherwise the low 15 bits are ticks per quarter note.
type Division uint16

func (d Division) IsSMPTE() bool { return d&0x8000 != 0 }

// TicksPerQuarter returns 0 for SMPTE divisions.
func (d Division) TicksPerQuarter() uint16 {
	if d.IsSMPTE() {
		return 0
	}
	return uint16(d)
}

// SMPTE returns the frames per second (24, 25, 29 or 30, where 29 means
// 29.97 drop frame) and the ticks per frame.
func (d Division) SMPTE() (fps int, ticksPerFrame int) {
	return -int(int8(byte(d >> 8))), int(byte(d))
}

func (d Division) String() string {
	if d.IsSMPTE() {
		fps, tpf := d.SMPTE()
		return fmt.Sprintf("negative_smpte_format=%d, ticks_per_frame=%d", fps, tpf)
	}
	return fmt.Sprintf("ticks_per_quarter_note=%d", d.TicksPerQuarter())
}

type Header struct {
	Format    Format
	NumTracks uint16
	Division  Division
}

// Track is the decoded body of one MTrk chunk. Corrupt is set when the
// event stream lost byte alignment and the rest of the chunk was skipped.
type Track struct {
	Events        []TrackEvent
	Corrupt       bool
	HasEndOfTrack bool
}

type File struct {
	Header   Header
	Tracks   []Track
	Warnings []Warning
}

type Option func(*decoder)

// WithLogger sets the logger that receives decoding warnings.
func WithLogger(logger *log.Logger) Option {
	return func(d *decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

type decoder struct {
	logger   *log.Logger
	warnings []Warning
	track    int
}

// errDesync marks a position where no status could be determined, so the
// length of the event and everything after it in the chunk is unknown.
var errDesync = errors.New("smf: cannot determine event status")

// ReadFile reads and decodes the file at path.
func ReadFile(path string, opts ...Option) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read midi file")
	}
	f, err := Decode(data, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return f, nil
}

// Decode parses a complete Standard MIDI File held in data. Structural
// problems abort the parse; per-event anomalies are logged, recorded in
// File.Warnings, and skipped.
func Decode(data []byte, opts ...Option) (*File, error) {
	d := &decoder{logger: log.Default(), track: -1}
	for _, opt := range opts {
		opt(d)
	}
	c := &cursor{data: data}
	hdr, err := d.readHeader(c)
	if err != nil {
		return nil, err
	}
	f := &File{Header: hdr, Tracks: make([]Track, 0, hdr.NumTracks)}
	for i := 0; i < int(hdr.NumTracks); i++ {
		d.track = i
		tr, err := d.readTrack(c)
		if err != nil {
			return nil, errors.Wrapf(err, "track %d", i)
		}
		f.Tracks = append(f.Tracks, tr)
	}
	if c.remaining() > 0 {
		d.logger.Debug("ignoring data after last track", "offset", c.offset(), "bytes", c.remaining())
	}
	f.Warnings = d.warnings
	return f, nil
}

func (d *decoder) warn(offset int, msg string) {
	d.warnings = append(d.warnings, Warning{Track: d.track, Offset: offset, Msg: msg})
	d.logger.Warn(msg, "track", d.track, "offset", offset)
}

func (d *decoder) readHeader(c *cursor) (Header, error) {
	var hdr Header
	tag, err := c.tag()
	if err != nil {
		return hdr, errors.Wrap(err, "header chunk")
	}
	if tag != headerTag {
		return hdr, errors.Wrapf(ErrHeaderTag, "got %q", tag)
	}
	length, err := c.u32()
	if err != nil {
		return hdr, errors.Wrap(err, "header chunk")
	}
	if length != headerLength {
		return hdr, errors.Wrapf(ErrHeaderLength, "got %d", length)
	}
	format, err := c.u16()
	if err != nil {
		return hdr, errors.Wrap(err, "header format")
	}
	ntrks, err := c.u16()
	if err != nil {
		return hdr, errors.Wrap(err, "header track count")
	}
	division, err := c.u16()
	if err != nil {
		return hdr, errors.Wrap(err, "header division")
	}
	hdr = Header{Format: Format(format), NumTracks: ntrks, Division: Division(division)}
	if hdr.Format > FormatSequential {
		return hdr, errors.Wrapf(ErrFormat, "format %d", format)
	}
	if hdr.Format == FormatSingleTrack && ntrks != 1 {
		d.warn(10, fmt.Sprintf("format 0 file declares %d tracks", ntrks))
	}
	if !hdr.Division.IsSMPTE() && hdr.Division.TicksPerQuarter() == 0 {
		d.warn(12, "division declares 0 ticks per quarter note")
	}
	return hdr, nil
}

func (d *decoder) readTrack(c *cursor) (Track, error) {
	var tr Track
	start := c.offset()
	tag, err := c.tag()
	if err != nil {
		return tr, err
	}
	if tag != trackTag {
		return tr, errors.Wrapf(ErrTrackTag, "got %q at offset %d", tag, start)
	}
	length, err := c.u32()
	if err != nil {
		return tr, err
	}
	bodyStart := c.offset()
	body, err := c.bytes(int(length))
	if err != nil {
		return tr, errors.Wrapf(err, "track body of %d bytes", length)
	}
	tc := &cursor{data: body, base: bodyStart}
	var running byte
	for tc.remaining() > 0 {
		delta, err := tc.vlq()
		if err != nil {
			return tr, err
		}
		off := tc.offset()
		ev, err := d.readEvent(tc, &running)
		if errors.Is(err, errDesync) {
			d.warn(off, fmt.Sprintf("undecodable status %#02x, skipping %d remaining track bytes", ev.(Undefined).Status, tc.remaining()))
			tr.Events = append(tr.Events, TrackEvent{Delta: delta, Offset: off, Event: ev})
			tr.Corrupt = true
			break
		}
		if err != nil {
			return tr, err
		}
		tr.Events = append(tr.Events, TrackEvent{Delta: delta, Offset: off, Event: ev})
		if _, ok := ev.(EndOfTrack); ok {
			tr.HasEndOfTrack = true
			break
		}
	}
	if !tr.HasEndOfTrack && !tr.Corrupt {
		d.warn(tc.offset(), "track ends without EndOfTrack")
	}
	return tr, nil
}

// readEvent decodes one event. running holds the running status for the
// current track; it survives meta and sysex events.
func (d *decoder) readEvent(c *cursor, running *byte) (Event, error) {
	b, err := c.peek()
	if err != nil {
		return nil, err
	}
	var status byte
	switch {
	case b == 0xff:
		c.pos++
		return d.readMeta(c)
	case b == 0xf0 || b == 0xf7:
		c.pos++
		n, err := c.vlq()
		if err != nil {
			return nil, err
		}
		if err := c.skip(int(n)); err != nil {
			return nil, err
		}
		return Sysex{Status: b, Length: n}, nil
	case b >= 0xf0:
		return Undefined{Status: b}, errDesync
	case b&0x80 != 0:
		c.pos++
		status = b
		*running = b
	default:
		if *running == 0 {
			return Undefined{Status: b}, errDesync
		}
		status = *running
	}
	return d.readChannel(c, status)
}

func (d *decoder) readChannel(c *cursor, status byte) (Event, error) {
	ch := status & 0x0f
	n := 2
	if kind := status >> 4; kind == 0xc || kind == 0xd {
		n = 1
	}
	off := c.offset()
	data, err := c.bytes(n)
	if err != nil {
		return nil, err
	}
	for _, b := range data {
		if b&0x80 != 0 {
			c.pos = off - c.base
			return Undefined{Status: b}, errDesync
		}
	}
	switch status >> 4 {
	case 0x8:
		return NoteOff{Channel: ch, Key: data[0], Velocity: data[1]}, nil
	case 0x9:
		return NoteOn{Channel: ch, Key: data[0], Velocity: data[1]}, nil
	case 0xb:
		return ControlChange{Channel: ch, Controller: data[0], Value: data[1]}, nil
	case 0xc:
		return ProgramChange{Channel: ch, Program: data[0]}, nil
	case 0xe:
		return PitchWheel{Channel: ch, Bend: uint16(data[0]) | uint16(data[1])<<7}, nil
	default:
		d.warn(off-1, fmt.Sprintf("unsupported channel message %#02x", status&0xf0))
		return UnsupportedChannelEvent{Status: status, Data: append([]byte(nil), data...)}, nil
	}
}

func (d *decoder) readMeta(c *cursor) (Event, error) {
	off := c.offset() - 1
	typ, err := c.u8()
	if err != nil {
		return nil, err
	}
	length, err := c.vlq()
	if err != nil {
		return nil, err
	}
	payload, err := c.bytes(int(length))
	if err != nil {
		return nil, errors.Wrapf(err, "meta event %#02x", typ)
	}
	// fixed trims payload to want bytes; a short payload is unusable.
	fixed := func(want int, name string) ([]byte, bool) {
		switch {
		case len(payload) < want:
			d.warn(off, fmt.Sprintf("%s meta event has %d bytes, want %d", name, len(payload), want))
			return nil, false
		case len(payload) > want:
			d.warn(off, fmt.Sprintf("%s meta event has %d bytes, using first %d", name, len(payload), want))
		}
		return payload[:want], true
	}
	unrecognized := UnrecognizedMeta{Type: typ, Data: append([]byte(nil), payload...)}

	switch typ {
	case MetaSequenceNumber:
		if len(payload) == 0 {
			return SequenceNumber{}, nil
		}
		p, ok := fixed(2, "SequenceNumber")
		if !ok {
			return unrecognized, nil
		}
		return SequenceNumber{Number: uint16(p[0])<<8 | uint16(p[1])}, nil
	case MetaText, MetaCopyright, MetaTrackName, MetaInstrumentName, MetaLyric,
		MetaMarker, MetaCuePoint, MetaProgramName, MetaDeviceName:
		return Text{Kind: typ, Text: string(payload)}, nil
	case MetaChannelPrefix:
		p, ok := fixed(1, "ChannelPrefix")
		if !ok {
			return unrecognized, nil
		}
		return ChannelPrefix{Channel: p[0]}, nil
	case MetaPort:
		p, ok := fixed(1, "Port")
		if !ok {
			return unrecognized, nil
		}
		return Port{Port: p[0]}, nil
	case MetaEndOfTrack:
		if len(payload) != 0 {
			d.warn(off, fmt.Sprintf("EndOfTrack meta event has %d bytes", len(payload)))
		}
		return EndOfTrack{}, nil
	case MetaSetTempo:
		p, ok := fixed(3, "SetTempo")
		if !ok {
			return unrecognized, nil
		}
		return SetTempo{MicrosPerQuarter: uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])}, nil
	case MetaSMPTEOffset:
		p, ok := fixed(5, "SMPTEOffset")
		if !ok {
			return unrecognized, nil
		}
		return SMPTEOffset{Hour: p[0], Minute: p[1], Second: p[2], Frame: p[3], Subframe: p[4]}, nil
	case MetaTimeSignature:
		p, ok := fixed(4, "TimeSignature")
		if !ok {
			return unrecognized, nil
		}
		return TimeSignature{Numerator: p[0], Denominator: p[1], ClocksPerClick: p[2], ThirtySeconds: p[3]}, nil
	case MetaKeySignature:
		p, ok := fixed(2, "KeySignature")
		if !ok {
			return unrecognized, nil
		}
		return KeySignature{SharpsFlats: int8(p[0]), Minor: p[1] != 0}, nil
	case MetaSequencerSpecific:
		return SequencerSpecific{Data: unrecognized.Data}, nil
	}
	d.warn(off, fmt.Sprintf("unsupported meta event %#02x", typ))
	return unrecognized, nil
}
