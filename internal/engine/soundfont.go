package engine

import (
	"bytes"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	meltysynth "github.com/sinshu/go-meltysynth/meltysynth"
)

const DefaultSoundFont = "/usr/share/sounds/sf2/FluidR3_GM.sf2"

// LoadSoundFont reads and parses an SF2 file.
func LoadSoundFont(path string) (*meltysynth.SoundFont, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read soundfont")
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parse soundfont %s", path)
	}
	return sf, nil
}

// synthesizer is the part of meltysynth.Synthesizer used here; tests
// substitute a recorder.
type synthesizer interface {
	NoteOn(channel, key, velocity int32)
	NoteOff(channel, key int32)
	NoteOffAll(immediate bool)
	ProcessMidiMessage(channel, command, data1, data2 int32)
	Render(left, right []float32)
}

// SoundFontSynth adapts a meltysynth synthesizer to Synth.
type SoundFontSynth struct {
	mu        sync.Mutex
	synth     synthesizer
	blockSize int
}

func NewSoundFontSynth(sf *meltysynth.SoundFont, sampleRate int) (*SoundFontSynth, error) {
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, errors.Wrap(err, "create synthesizer")
	}
	return &SoundFontSynth{synth: synth, blockSize: int(settings.BlockSize)}, nil
}

func (s *SoundFontSynth) NoteOn(channel, key, velocity uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synth.NoteOn(int32(channel), int32(key), int32(velocity))
}

func (s *SoundFontSynth) NoteOff(channel, key uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synth.NoteOff(int32(channel), int32(key))
}

func (s *SoundFontSynth) ProgramChange(channel, program uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synth.ProcessMidiMessage(int32(channel), 0xc0, int32(program), 0)
}

func (s *SoundFontSynth) PitchBend(channel uint8, bend uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synth.ProcessMidiMessage(int32(channel), 0xe0, int32(bend&0x7f), int32(bend>>7&0x7f))
}

func (s *SoundFontSynth) AllNotesOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synth.NoteOffAll(false)
}

func (s *SoundFontSynth) render(left, right []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synth.Render(left, right)
}

// SoundFontEngine is a Sequencer clocked by the audio it renders. Each
// Process call dispatches due events block by block, so timing resolution
// is one synthesizer block.
type SoundFontEngine struct {
	*Sequencer
	synth       *SoundFontSynth
	clock       *SampleClock
	left, right []float32
}

func NewSoundFontEngine(sf *meltysynth.SoundFont, sampleRate int, logger *log.Logger) (*SoundFontEngine, error) {
	synth, err := NewSoundFontSynth(sf, sampleRate)
	if err != nil {
		return nil, err
	}
	return newSoundFontEngine(synth, sampleRate, logger), nil
}

func newSoundFontEngine(synth *SoundFontSynth, sampleRate int, logger *log.Logger) *SoundFontEngine {
	clock := NewSampleClock(sampleRate)
	return &SoundFontEngine{
		Sequencer: NewSequencer(clock, synth, logger),
		synth:     synth,
		clock:     clock,
		left:      make([]float32, synth.blockSize),
		right:     make([]float32, synth.blockSize),
	}
}

func (e *SoundFontEngine) Clock() *SampleClock { return e.clock }

// Process fills dst with interleaved stereo frames.
func (e *SoundFontEngine) Process(dst []float32) {
	frames := len(dst) / 2
	for done := 0; done < frames; {
		e.Dispatch(e.clock.Now())
		n := min(len(e.left), frames-done)
		e.synth.render(e.left[:n], e.right[:n])
		out := dst[done*2:]
		for i := 0; i < n; i++ {
			out[i*2] = e.left[i]
			out[i*2+1] = e.right[i]
		}
		e.clock.Advance(n)
		done += n
	}
}
