// Package audio plays a rendered sample source on the default output
// device through ebiten's audio context.
package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/pkg/errors"
)

// SampleSource fills dst with interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when playback has ended.
// When Finished returns true, the stream will return io.EOF on the next Read.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// TailSource keeps rendering for a release tail after done is closed and
// then reports Finished.
type TailSource struct {
	src        SampleSource
	done       <-chan struct{}
	tailFrames int64
	left       atomic.Int64
	ended      atomic.Bool
	endedCh    chan struct{}
}

func NewTailSource(src SampleSource, done <-chan struct{}, sampleRate int, tail time.Duration) *TailSource {
	t := &TailSource{
		src:        src,
		done:       done,
		tailFrames: int64(tail.Seconds() * float64(sampleRate)),
		endedCh:    make(chan struct{}),
	}
	t.left.Store(-1)
	return t
}

func (t *TailSource) Process(dst []float32) {
	t.src.Process(dst)
	if t.ended.Load() {
		return
	}
	left := t.left.Load()
	if left < 0 {
		select {
		case <-t.done:
			left = t.tailFrames
		default:
			return
		}
	}
	left -= int64(len(dst) / 2)
	t.left.Store(max(left, 0))
	if left <= 0 && t.ended.CompareAndSwap(false, true) {
		close(t.endedCh)
	}
}

func (t *TailSource) Finished() bool { return t.ended.Load() }

// Ended is closed once the tail has been rendered.
func (t *TailSource) Ended() <-chan struct{} { return t.endedCh }

// StreamReader encodes a SampleSource as little-endian float32 PCM.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, v := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

func (r *StreamReader) Close() error { return nil }

type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, errors.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewPlayer opens a device stream for source. bufferSize bounds the output
// latency; zero keeps ebiten's default.
func NewPlayer(sampleRate int, source SampleSource, bufferSize time.Duration) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, errors.Wrap(err, "open audio player")
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	return &Player{
		player: pl,
		reader: reader,
	}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }
func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

// Position returns the current playback position (what the listener actually hears).
func (p *Player) Position() time.Duration {
	return p.player.Position()
}

func (p *Player) Stop() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return errors.Wrap(err, "close audio player")
	}
	return p.reader.Close()
}
