package mixer

import "math"

// Limiter keeps the output at or below a ceiling. Both channels share one
// envelope so the stereo image does not shift. Attack is instant; release
// follows an exponential curve.
type Limiter struct {
	ceiling float32
	release float32 // coefficient
	env     float32
}

// NewLimiter creates a limiter with the ceiling in dBFS (e.g. -1) and the
// release time in ms.
func NewLimiter(sampleRate int, ceilingDB, releaseMs float32) *Limiter {
	sr := float64(sampleRate)
	return &Limiter{
		ceiling: float32(math.Pow(10, float64(ceilingDB)/20)),
		release: float32(1.0 - math.Exp(-1.0/(float64(releaseMs)*sr/1000.0))),
	}
}

func (l *Limiter) Process(buf []float32) {
	for i := 0; i+1 < len(buf); i += 2 {
		peak := max(abs32(buf[i]), abs32(buf[i+1]))
		if peak > l.env {
			l.env = peak
		} else {
			l.env += l.release * (peak - l.env)
		}
		if l.env > l.ceiling {
			g := l.ceiling / l.env
			buf[i] *= g
			buf[i+1] *= g
		}
	}
}

func (l *Limiter) Reset() {
	l.env = 0
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
