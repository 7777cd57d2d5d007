package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic millisecond clock.
type Clock interface {
	Now() uint32
}

// SampleClock counts rendered audio frames, so events land on the sample
// they were scheduled for no matter how far ahead the device buffers.
type SampleClock struct {
	sampleRate uint64
	frames     atomic.Uint64
}

func NewSampleClock(sampleRate int) *SampleClock {
	return &SampleClock{sampleRate: uint64(max(sampleRate, 1))}
}

func (c *SampleClock) Advance(frames int) {
	c.frames.Add(uint64(frames))
}

func (c *SampleClock) Frames() uint64 { return c.frames.Load() }

func (c *SampleClock) Now() uint32 {
	return uint32(c.frames.Load() * 1000 / c.sampleRate)
}

type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) Now() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}
