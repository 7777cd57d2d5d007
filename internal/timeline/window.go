package timeline

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

var ErrInvalidWindow = errors.New("timeline: invalid playback window")

// Window selects the part of the piece to play, in milliseconds of the
// original timebase, and a speed factor applied to output times. A factor
// above 1 slows playback down.
type Window struct {
	BeginMs     uint32
	EndMs       uint32
	TempoFactor float64
}

// FullWindow plays everything at the written tempo.
func FullWindow() Window {
	return Window{BeginMs: 0, EndMs: math.MaxUint32, TempoFactor: 1}
}

func (w Window) Validate() error {
	if !(w.TempoFactor > 0) || math.IsInf(w.TempoFactor, 0) {
		return errors.Wrapf(ErrInvalidWindow, "tempo factor %v", w.TempoFactor)
	}
	if w.EndMs < w.BeginMs {
		return errors.Wrapf(ErrInvalidWindow, "end %s before begin %s", FormatMillis(w.EndMs), FormatMillis(w.BeginMs))
	}
	return nil
}

// Scale multiplies ms by the tempo factor, rounding to nearest. Results
// above math.MaxUint32 are clamped and reported with ok false.
func (w Window) Scale(ms uint32) (uint32, bool) {
	r := math.Round(w.TempoFactor * float64(ms))
	if r > math.MaxUint32 {
		return math.MaxUint32, false
	}
	return uint32(r), true
}

func (w Window) String() string {
	return fmt.Sprintf("Window([%s, %s] T=%g)",
		FormatMillis(w.BeginMs), FormatMillis(w.EndMs), w.TempoFactor)
}
