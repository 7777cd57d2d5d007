package smfplay

import (
	"encoding/binary"
	"math"
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

const renderBlock = 512

// ErrRenderIncomplete is returned when the scheduler does not finish within
// the length of the timeline.
var ErrRenderIncomplete = errors.New("render did not reach the end of the timeline")

// renderEngine is an engine whose clock advances with the audio it renders.
type renderEngine interface {
	scheduler.Engine
	Process(dst []float32)
}

// RenderWAV renders the window of f with the given soundfont and returns a
// stereo float32 WAV file.
func RenderWAV(f *smf.File, w timeline.Window, soundFontPath string, sampleRate int) ([]byte, error) {
	tl, err := timeline.Build(f, w)
	if err != nil {
		return nil, err
	}
	sf, err := engine.LoadSoundFont(soundFontPath)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewSoundFontEngine(sf, sampleRate, log.Default())
	if err != nil {
		return nil, err
	}
	samples, err := RenderSamples(eng, tl, sampleRate, time.Second)
	if err != nil {
		return nil, err
	}
	mixer.NewLimiter(sampleRate, limiterCeilingDB, limiterReleaseMs).Process(samples)
	return EncodeWAVFloat32LE(samples, sampleRate, 2), nil
}

// RenderSamples drives the scheduler against eng offline, without a lead-in,
// until the timeline completes and tail has been rendered.
func RenderSamples(eng renderEngine, tl *timeline.Timeline, sampleRate int, tail time.Duration) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	sched := scheduler.New(eng, tl, scheduler.Options{InitialDelay: -1})
	if err := sched.Start(); err != nil {
		return nil, err
	}
	src := intaudio.NewTailSource(eng, sched.Done(), sampleRate, tail)

	limit := (uint64(tl.Final().TimeMs)+1000)*uint64(sampleRate)/1000 +
		uint64(tail.Seconds()*float64(sampleRate)) + renderBlock
	var out []float32
	buf := make([]float32, renderBlock*2)
	for frames := uint64(0); !src.Finished(); frames += renderBlock {
		if frames > limit {
			sched.Cancel()
			return out, ErrRenderIncomplete
		}
		src.Process(buf)
		out = append(out, buf...)
	}
	return out, nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
