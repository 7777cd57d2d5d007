package smf

import "fmt"

// Event is one decoded track event payload. The concrete types form a closed
// set; switch on them with a type switch.
type Event interface {
	fmt.Stringer
	isEvent()
}

// ChannelEvent is implemented by channel-voice events.
type ChannelEvent interface {
	Event
	EventChannel() uint8
}

// MetaEvent is implemented by all 0xFF meta events.
type MetaEvent interface {
	Event
	MetaType() byte
}

// TrackEvent pairs an event with its delta time in ticks.
type TrackEvent struct {
	Delta  uint32
	Offset int // file offset of the event's first byte after the delta
	Event  Event
}

func (te TrackEvent) String() string {
	return fmt.Sprintf("+%d %s", te.Delta, te.Event)
}

// Channel voice events.

type NoteOff struct{ Channel, Key, Velocity uint8 }

type NoteOn struct{ Channel, Key, Velocity uint8 }

type ControlChange struct{ Channel, Controller, Value uint8 }

type ProgramChange struct{ Channel, Program uint8 }

// PitchWheel carries the 14-bit bend value, 0x2000 is centre.
type PitchWheel struct {
	Channel uint8
	Bend    uint16
}

// UnsupportedChannelEvent is a channel-voice message whose length is known
// but which has no playback meaning here (poly and channel pressure).
type UnsupportedChannelEvent struct {
	Status byte
	Data   []byte
}

func (e NoteOff) String() string {
	return fmt.Sprintf("NoteOff(channel=%d, key=%d, velocity=%d)", e.Channel, e.Key, e.Velocity)
}

func (e NoteOn) String() string {
	return fmt.Sprintf("NoteOn(channel=%d, key=%d, velocity=%d)", e.Channel, e.Key, e.Velocity)
}

func (e ControlChange) String() string {
	return fmt.Sprintf("ControlChange(channel=%d, number=%d, value=%d)", e.Channel, e.Controller, e.Value)
}

func (e ProgramChange) String() string {
	return fmt.Sprintf("ProgramChange(channel=%d, program=%d)", e.Channel, e.Program)
}

func (e PitchWheel) String() string {
	return fmt.Sprintf("PitchWheel(channel=%d, bend=%d)", e.Channel, e.Bend)
}

func (e UnsupportedChannelEvent) String() string {
	return fmt.Sprintf("UnsupportedChannelEvent(status=%#02x, data=% x)", e.Status, e.Data)
}

func (e NoteOff) EventChannel() uint8                 { return e.Channel }
func (e NoteOn) EventChannel() uint8                  { return e.Channel }
func (e ControlChange) EventChannel() uint8           { return e.Channel }
func (e ProgramChange) EventChannel() uint8           { return e.Channel }
func (e PitchWheel) EventChannel() uint8              { return e.Channel }
func (e UnsupportedChannelEvent) EventChannel() uint8 { return e.Status & 0x0f }

// Meta event sub-types.
const (
	MetaSequenceNumber    = 0x00
	MetaText              = 0x01
	MetaCopyright         = 0x02
	MetaTrackName         = 0x03
	MetaInstrumentName    = 0x04
	MetaLyric             = 0x05
	MetaMarker            = 0x06
	MetaCuePoint          = 0x07
	MetaProgramName       = 0x08
	MetaDeviceName        = 0x09
	MetaChannelPrefix     = 0x20
	MetaPort              = 0x21
	MetaEndOfTrack        = 0x2f
	MetaSetTempo          = 0x51
	MetaSMPTEOffset       = 0x54
	MetaTimeSignature     = 0x58
	MetaKeySignature      = 0x59
	MetaSequencerSpecific = 0x7f
)

var textKindNames = map[byte]string{
	MetaText:           "Text",
	MetaCopyright:      "Copyright",
	MetaTrackName:      "SequenceTrackName",
	MetaInstrumentName: "InstrumentName",
	MetaLyric:          "Lyric",
	MetaMarker:         "Marker",
	MetaCuePoint:       "CuePoint",
	MetaProgramName:    "ProgramName",
	MetaDeviceName:     "DeviceName",
}

type SequenceNumber struct{ Number uint16 }

// Text covers all textual meta events; Kind is the meta sub-type.
type Text struct {
	Kind byte
	Text string
}

type ChannelPrefix struct{ Channel uint8 }

type Port struct{ Port uint8 }

type EndOfTrack struct{}

// SetTempo is the new tempo in microseconds per quarter note.
type SetTempo struct{ MicrosPerQuarter uint32 }

type SMPTEOffset struct{ Hour, Minute, Second, Frame, Subframe uint8 }

// TimeSignature holds the raw fields: Denominator is a power of two.
type TimeSignature struct {
	Numerator      uint8
	Denominator    uint8
	ClocksPerClick uint8
	ThirtySeconds  uint8
}

type KeySignature struct {
	SharpsFlats int8 // -7..7
	Minor       bool
}

type SequencerSpecific struct{ Data []byte }

// UnrecognizedMeta keeps the raw payload of a meta event that could not be
// decoded, either an unknown sub-type or a fixed-size one with a short length.
type UnrecognizedMeta struct {
	Type byte
	Data []byte
}

func (e SequenceNumber) String() string { return fmt.Sprintf("SequenceNumber(%d)", e.Number) }

func (e Text) String() string {
	name, ok := textKindNames[e.Kind]
	if !ok {
		name = fmt.Sprintf("Text%#02x", e.Kind)
	}
	return fmt.Sprintf("%s(name=%s)", name, e.Text)
}

func (e ChannelPrefix) String() string { return fmt.Sprintf("ChannelPrefix(%d)", e.Channel) }
func (e Port) String() string          { return fmt.Sprintf("Port(%d)", e.Port) }
func (e EndOfTrack) String() string    { return "EndOfTrack" }

func (e SetTempo) String() string {
	return fmt.Sprintf("SetTempo(tttttt=%d)", e.MicrosPerQuarter)
}

// BPM converts the tempo to quarter notes per minute.
func (e SetTempo) BPM() float64 {
	if e.MicrosPerQuarter == 0 {
		return 0
	}
	return 60e6 / float64(e.MicrosPerQuarter)
}

func (e SMPTEOffset) String() string {
	return fmt.Sprintf("SMPTEOffset(%02d:%02d:%02d:%02d.%02d)", e.Hour, e.Minute, e.Second, e.Frame, e.Subframe)
}

func (e TimeSignature) String() string {
	return fmt.Sprintf("TimeSignature(nn=%d, dd=%d, cc=%d, bb=%d)",
		e.Numerator, e.Denominator, e.ClocksPerClick, e.ThirtySeconds)
}

var (
	majorKeys = [15]string{"Cb", "Gb", "Db", "Ab", "Eb", "Bb", "F", "C", "G", "D", "A", "E", "B", "F#", "C#"}
	minorKeys = [15]string{"Ab", "Eb", "Bb", "F", "C", "G", "D", "A", "E", "B", "F#", "C#", "G#", "D#", "A#"}
)

// ScaleName names the key, e.g. "G major" or "E minor".
func (e KeySignature) ScaleName() string {
	i := int(e.SharpsFlats) + 7
	if i < 0 || i >= len(majorKeys) {
		return "unknown"
	}
	if e.Minor {
		return minorKeys[i] + " minor"
	}
	return majorKeys[i] + " major"
}

func (e KeySignature) String() string {
	return fmt.Sprintf("KeySignature(sf=%d, mi=%t, [%s])", e.SharpsFlats, e.Minor, e.ScaleName())
}

func (e SequencerSpecific) String() string { return fmt.Sprintf("SequencerEvent(% x)", e.Data) }

func (e UnrecognizedMeta) String() string {
	return fmt.Sprintf("UnrecognizedMeta(type=%#02x, len=%d)", e.Type, len(e.Data))
}

func (SequenceNumber) MetaType() byte     { return MetaSequenceNumber }
func (e Text) MetaType() byte             { return e.Kind }
func (ChannelPrefix) MetaType() byte      { return MetaChannelPrefix }
func (Port) MetaType() byte               { return MetaPort }
func (EndOfTrack) MetaType() byte         { return MetaEndOfTrack }
func (SetTempo) MetaType() byte           { return MetaSetTempo }
func (SMPTEOffset) MetaType() byte        { return MetaSMPTEOffset }
func (TimeSignature) MetaType() byte      { return MetaTimeSignature }
func (KeySignature) MetaType() byte       { return MetaKeySignature }
func (SequencerSpecific) MetaType() byte  { return MetaSequencerSpecific }
func (e UnrecognizedMeta) MetaType() byte { return e.Type }

// Sysex is an F0 or F7 system exclusive event. Only the length is kept.
type Sysex struct {
	Status byte
	Length uint32
}

func (e Sysex) String() string { return fmt.Sprintf("SysexEvent(%#02x, len=%d)", e.Status, e.Length) }

// Undefined stands in for bytes that could not be decoded as any event.
type Undefined struct{ Status byte }

func (e Undefined) String() string { return fmt.Sprintf("Undef(%#02x)", e.Status) }

func (NoteOff) isEvent()                 {}
func (NoteOn) isEvent()                  {}
func (ControlChange) isEvent()           {}
func (ProgramChange) isEvent()           {}
func (PitchWheel) isEvent()              {}
func (UnsupportedChannelEvent) isEvent() {}
func (SequenceNumber) isEvent()          {}
func (Text) isEvent()                    {}
func (ChannelPrefix) isEvent()           {}
func (Port) isEvent()                    {}
func (EndOfTrack) isEvent()              {}
func (SetTempo) isEvent()                {}
func (SMPTEOffset) isEvent()             {}
func (TimeSignature) isEvent()           {}
func (KeySignature) isEvent()            {}
func (SequencerSpecific) isEvent()       {}
func (UnrecognizedMeta) isEvent()        {}
func (Sysex) isEvent()                   {}
func (Undefined) isEvent()               {}
