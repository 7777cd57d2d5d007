package timeline

import "fmt"

// Command is the payload of an AbsEvent.
type Command interface {
	fmt.Stringer
	isCommand()
}

// NoteCommand starts a note that the engine stops on its own after
// DurationMs.
type NoteCommand struct {
	Channel            uint8
	Key                uint8
	Velocity           uint8
	DurationMs         uint32
	OriginalDurationMs uint32
}

type ProgramChangeCommand struct {
	Channel uint8
	Program uint8
}

// PitchBendCommand carries the 14-bit bend, 0x2000 is centre.
type PitchBendCommand struct {
	Channel uint8
	Bend    uint16
}

// FinalMarker is always the last event of a Timeline.
type FinalMarker struct{}

func (NoteCommand) isCommand()          {}
func (ProgramChangeCommand) isCommand() {}
func (PitchBendCommand) isCommand()     {}
func (FinalMarker) isCommand()          {}

func (c NoteCommand) String() string {
	return fmt.Sprintf("Note(channel=%d, key=%d, velocity=%d, duration=%d [%d])",
		c.Channel, c.Key, c.Velocity, c.DurationMs, c.OriginalDurationMs)
}

func (c ProgramChangeCommand) String() string {
	return fmt.Sprintf("ProgramChange(channel=%d, program=%d)", c.Channel, c.Program)
}

func (c PitchBendCommand) String() string {
	return fmt.Sprintf("PitchBend(channel=%d, bend=%d)", c.Channel, c.Bend)
}

func (FinalMarker) String() string { return "FinalMarker" }

// AbsEvent is a command at its output time. OriginalMs is the time in the
// file's own timebase before the window and tempo factor were applied.
type AbsEvent struct {
	TimeMs     uint32
	OriginalMs uint32
	Command    Command
}

func (e AbsEvent) String() string {
	return fmt.Sprintf("%s [%s] %s", FormatMillis(e.TimeMs), FormatMillis(e.OriginalMs), e.Command)
}
