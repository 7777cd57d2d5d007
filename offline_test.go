package smfplay

import (
	"encoding/binary"
	"math"
	"os"
	"testing"
	"time"

	"github.com/cbegin/smfplay-go/internal/engine"
	"github.com/cbegin/smfplay-go/internal/smf"
	"github.com/cbegin/smfplay-go/internal/timeline"
)

// levelSynth outputs the number of sounding notes as a constant level.
type levelSynth struct{ active int }

func (s *levelSynth) NoteOn(ch, key, vel uint8)    { s.active++ }
func (s *levelSynth) NoteOff(ch, key uint8)        { s.active-- }
func (s *levelSynth) ProgramChange(ch, p uint8)    {}
func (s *levelSynth) PitchBend(ch uint8, b uint16) {}
func (s *levelSynth) AllNotesOff()                 { s.active = 0 }

type levelEngine struct {
	*engine.Sequencer
	clock *engine.SampleClock
	synth *levelSynth
}

func newLevelEngine(sampleRate int) *levelEngine {
	clock := engine.NewSampleClock(sampleRate)
	synth := &levelSynth{}
	return &levelEngine{Sequencer: engine.NewSequencer(clock, synth, quietLogger()), clock: clock, synth: synth}
}

func (e *levelEngine) Process(dst []float32) {
	e.Dispatch(e.clock.Now())
	for i := range dst {
		dst[i] = float32(e.synth.active)
	}
	e.clock.Advance(len(dst) / 2)
}

func TestRenderSamplesRunsToCompletion(t *testing.T) {
	f, err := smf.ReadFile(writeSong(t), smf.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	tl, err := timeline.Build(f, timeline.FullWindow(), timeline.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	samples, err := RenderSamples(newLevelEngine(1000), tl, 1000, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("RenderSamples: %v", err)
	}
	// the note sounds through the first block, the final marker comes due
	// in the second and the tail ends inside it
	if len(samples) != 2*renderBlock*2 {
		t.Fatalf("rendered %d samples", len(samples))
	}
	if samples[0] != 1 || samples[renderBlock*2-1] != 1 {
		t.Fatalf("first block = %v..%v", samples[0], samples[renderBlock*2-1])
	}
	if samples[renderBlock*2] != 0 {
		t.Fatalf("second block = %v", samples[renderBlock*2])
	}
}

func TestRenderSamplesRejectsBadRate(t *testing.T) {
	tl := &timeline.Timeline{Events: []timeline.AbsEvent{{Command: timeline.FinalMarker{}}}, Window: timeline.FullWindow()}
	if _, err := RenderSamples(newLevelEngine(1000), tl, 0, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestRenderWAVWithSoundFont(t *testing.T) {
	if _, err := os.Stat(engine.DefaultSoundFont); err != nil {
		t.Skip("no soundfont installed")
	}
	f, err := smf.ReadFile(writeSong(t), smf.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	wav, err := RenderWAV(f, timeline.FullWindow(), engine.DefaultSoundFont, 22050)
	if err != nil {
		t.Fatalf("RenderWAV: %v", err)
	}
	data := wav[44:]
	var peak float32
	for i := 0; i+4 <= len(data); i += 4 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
		peak = max(peak, float32(math.Abs(float64(v))))
	}
	if peak == 0 {
		t.Fatal("rendered silence")
	}
}

func TestEncodeWAVFloat32LEHeader(t *testing.T) {
	wav := EncodeWAVFloat32LE([]float32{0.5, -0.5}, 48000, 2)
	if len(wav) != 52 {
		t.Fatalf("len = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad tags: %q", wav[:40])
	}
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"chunk size", binary.LittleEndian.Uint32(wav[4:]), 44},
		{"format", uint32(binary.LittleEndian.Uint16(wav[20:])), 3},
		{"channels", uint32(binary.LittleEndian.Uint16(wav[22:])), 2},
		{"sample rate", binary.LittleEndian.Uint32(wav[24:]), 48000},
		{"byte rate", binary.LittleEndian.Uint32(wav[28:]), 384000},
		{"bits", uint32(binary.LittleEndian.Uint16(wav[34:])), 32},
		{"data size", binary.LittleEndian.Uint32(wav[40:]), 8},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if v := math.Float32frombits(binary.LittleEndian.Uint32(wav[48:])); v != -0.5 {
		t.Fatalf("second sample = %v", v)
	}
}
