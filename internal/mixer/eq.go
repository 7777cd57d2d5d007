package mixer

import (
	"math"
	"sync/atomic"
)

const Bands = 5

// EQ is a five band equalizer built from cascaded one-pole crossovers at
// 200Hz, 800Hz, 2.5kHz and 8kHz. Gains are read lock-free on the audio thread.
type EQ struct {
	gains  [Bands]atomic.Uint32 // float32 bits; 1.0 = unity
	alphas [Bands - 1]float32
	lpL    [Bands - 1]float32
	lpR    [Bands - 1]float32
}

var crossovers = [Bands - 1]float64{200, 800, 2500, 8000}

func NewEQ(sampleRate int) *EQ {
	eq := &EQ{}
	dt := 1.0 / float64(sampleRate)
	for i, freq := range crossovers {
		rc := 1.0 / (2.0 * math.Pi * freq)
		eq.alphas[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1))
	}
	return eq
}

// SetGain sets the gain for band (0-4). 1.0 = unity, 0.0 = silence, 2.0 = +6dB.
// Out of range bands are ignored.
func (eq *EQ) SetGain(band int, gain float32) {
	if band >= 0 && band < Bands {
		eq.gains[band].Store(math.Float32bits(max(gain, 0)))
	}
}

func (eq *EQ) Gain(band int) float32 {
	if band >= 0 && band < Bands {
		return math.Float32frombits(eq.gains[band].Load())
	}
	return 1
}

func (eq *EQ) flat() bool {
	for i := range eq.gains {
		if eq.Gain(i) != 1 {
			return false
		}
	}
	return true
}

func (eq *EQ) Process(buf []float32) {
	// a flat EQ passes the input through but keeps its filters running
	flat := eq.flat()
	var g [Bands]float32
	for i := range g {
		g[i] = eq.Gain(i)
	}
	for i := 0; i+1 < len(buf); i += 2 {
		remL, remR := buf[i], buf[i+1]
		var outL, outR float32
		for b := 0; b < Bands-1; b++ {
			eq.lpL[b] += eq.alphas[b] * (remL - eq.lpL[b])
			eq.lpR[b] += eq.alphas[b] * (remR - eq.lpR[b])
			outL += eq.lpL[b] * g[b]
			outR += eq.lpR[b] * g[b]
			remL -= eq.lpL[b]
			remR -= eq.lpR[b]
		}
		if flat {
			continue
		}
		buf[i] = outL + remL*g[Bands-1]
		buf[i+1] = outR + remR*g[Bands-1]
	}
}

func (eq *EQ) Reset() {
	eq.lpL = [Bands - 1]float32{}
	eq.lpR = [Bands - 1]float32{}
}
