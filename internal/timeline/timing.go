package timeline

import (
	"math"
	"math/bits"
)

// DefaultMicrosPerQuarter is the tempo in effect before any SetTempo event.
const DefaultMicrosPerQuarter = 500000

// MulDivRound returns a*b/d rounded half up. The product is formed in 128
// bits. ok is false when the quotient does not fit in 32 bits; the result
// is then math.MaxUint32.
func MulDivRound(a, b, d uint64) (q uint32, ok bool) {
	hi, lo := bits.Mul64(a, b)
	var carry uint64
	lo, carry = bits.Add64(lo, d/2, 0)
	hi += carry
	if hi >= d {
		return math.MaxUint32, false
	}
	q64, _ := bits.Div64(hi, lo, d)
	if q64 > math.MaxUint32 {
		return math.MaxUint32, false
	}
	return uint32(q64), true
}

// DynamicTiming converts ticks to milliseconds under a piecewise constant
// tempo. SetTempo re-anchors the reference point so earlier intervals keep
// the tempo that was active for them.
type DynamicTiming struct {
	MicrosPerQuarter uint64
	TicksPerQuarter  uint64
	RefTick          uint64
	RefMs            uint32
}

func NewDynamicTiming(ticksPerQuarter uint64) DynamicTiming {
	return DynamicTiming{MicrosPerQuarter: DefaultMicrosPerQuarter, TicksPerQuarter: ticksPerQuarter}
}

// TicksToMillis converts a tick delta under the current tempo.
func (t *DynamicTiming) TicksToMillis(ticks uint64) (uint32, bool) {
	return MulDivRound(ticks, t.MicrosPerQuarter, 1000*t.TicksPerQuarter)
}

// AbsTicksToMillis converts an absolute tick at or after RefTick.
func (t *DynamicTiming) AbsTicksToMillis(tick uint64) (uint32, bool) {
	var delta uint64
	if tick > t.RefTick {
		delta = tick - t.RefTick
	}
	add, ok := t.TicksToMillis(delta)
	sum, carry := bits.Add32(t.RefMs, add, 0)
	if carry != 0 {
		return math.MaxUint32, false
	}
	return sum, ok
}

// SetTempo switches to microsPerQuarter starting at tick.
func (t *DynamicTiming) SetTempo(tick uint64, microsPerQuarter uint32) bool {
	ms, ok := t.AbsTicksToMillis(tick)
	t.RefMs = ms
	t.RefTick = tick
	t.MicrosPerQuarter = uint64(microsPerQuarter)
	return ok
}
