// Package mixer is the output stage between the synthesizer and the audio
// device. Stages work on interleaved stereo float32 buffers in place.
package mixer

import (
	"math"
	"sync/atomic"
)

// Stage processes interleaved stereo frames in place.
type Stage interface {
	Process(buf []float32)
	Reset()
}

// Bus applies the master gain and then each stage in order. The gain may be
// changed from any goroutine while the audio thread is processing.
type Bus struct {
	gain   atomic.Uint32 // float32 bits
	stages []Stage
}

func NewBus(stages ...Stage) *Bus {
	b := &Bus{stages: stages}
	b.gain.Store(math.Float32bits(1))
	return b
}

// SetGain sets the master gain; 1 is unity and negative values are treated
// as 0.
func (b *Bus) SetGain(gain float32) {
	b.gain.Store(math.Float32bits(max(gain, 0)))
}

func (b *Bus) Gain() float32 {
	return math.Float32frombits(b.gain.Load())
}

func (b *Bus) Process(buf []float32) {
	if g := b.Gain(); g != 1 {
		for i := range buf {
			buf[i] *= g
		}
	}
	for _, s := range b.stages {
		s.Process(buf)
	}
}

func (b *Bus) Reset() {
	for _, s := range b.stages {
		s.Reset()
	}
}
