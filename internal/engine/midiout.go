package engine

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

const ccAllNotesOff = 123

// OutPorts lists the MIDI output ports of the registered driver.
func OutPorts() []string {
	var names []string
	for _, port := range midi.GetOutPorts() {
		names = append(names, port.String())
	}
	return names
}

// MIDIOut sends synth commands to a MIDI output port.
type MIDIOut struct {
	port   drivers.Out
	send   func(midi.Message) error
	logger *log.Logger
}

// OpenMIDIOut opens the first output port whose name contains name.
func OpenMIDIOut(name string, logger *log.Logger) (*MIDIOut, error) {
	port, err := midi.FindOutPort(name)
	if err != nil {
		return nil, errors.Wrapf(err, "find midi output %q", name)
	}
	send, err := midi.SendTo(port)
	if err != nil {
		return nil, errors.Wrapf(err, "open midi output %q", port.String())
	}
	out := NewMIDIOut(send, logger)
	out.port = port
	return out, nil
}

// NewMIDIOut wraps an existing send function.
func NewMIDIOut(send func(midi.Message) error, logger *log.Logger) *MIDIOut {
	if logger == nil {
		logger = log.Default()
	}
	return &MIDIOut{send: send, logger: logger}
}

func (m *MIDIOut) write(msg midi.Message) {
	if err := m.send(msg); err != nil {
		m.logger.Error("midi send", "msg", msg.String(), "err", err)
	}
}

func (m *MIDIOut) NoteOn(channel, key, velocity uint8) {
	m.write(midi.NoteOn(channel, key, velocity))
}

func (m *MIDIOut) NoteOff(channel, key uint8) {
	m.write(midi.NoteOff(channel, key))
}

func (m *MIDIOut) ProgramChange(channel, program uint8) {
	m.write(midi.ProgramChange(channel, program))
}

// PitchBend converts the unsigned 14-bit bend to gomidi's signed form.
func (m *MIDIOut) PitchBend(channel uint8, bend uint16) {
	m.write(midi.Pitchbend(channel, int16(int(bend&0x3fff)-0x2000)))
}

func (m *MIDIOut) AllNotesOff() {
	for ch := uint8(0); ch < 16; ch++ {
		m.write(midi.ControlChange(ch, ccAllNotesOff, 0))
	}
}

func (m *MIDIOut) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}

// MIDIEngine is a Sequencer on the wall clock driving a MIDIOut.
type MIDIEngine struct {
	*Sequencer
	Out *MIDIOut
}

func NewMIDIEngine(out *MIDIOut, logger *log.Logger) *MIDIEngine {
	return &MIDIEngine{Sequencer: NewSequencer(NewWallClock(), out, logger), Out: out}
}

// Run dispatches due events every tick until ctx is done.
func (e *MIDIEngine) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Dispatch(e.Now())
		}
	}
}
