package audio

import (
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"
)

type constSource struct {
	value  float32
	frames int
}

func (s *constSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = s.value
	}
	s.frames += len(dst) / 2
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	r := NewStreamReader(&constSource{value: 0.5})
	p := make([]byte, 8*4+3)
	n, err := r.Read(p)
	if err != nil || n != 32 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	for i := 0; i < 8; i++ {
		if v := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:])); v != 0.5 {
			t.Fatalf("sample %d = %v", i, v)
		}
	}
	if n, err := r.Read(make([]byte, 7)); n != 0 || err != nil {
		t.Fatalf("short Read = %d, %v", n, err)
	}
}

func TestTailSourceFinishesAfterTail(t *testing.T) {
	done := make(chan struct{})
	src := &constSource{}
	tail := NewTailSource(src, done, 1000, 250*time.Millisecond)
	r := NewStreamReader(tail)
	buf := make([]byte, 100*8)

	if _, err := r.Read(buf); err != nil || tail.Finished() {
		t.Fatalf("finished before done: %v", err)
	}
	close(done)
	for i := 0; i < 2; i++ {
		if _, err := r.Read(buf); err != nil {
			t.Fatalf("read %d during tail: %v", i, err)
		}
	}
	if _, err := r.Read(buf); err != io.EOF {
		t.Fatalf("after tail: %v", err)
	}
	select {
	case <-tail.Ended():
	default:
		t.Fatal("Ended not closed")
	}
	if src.frames != 400 {
		t.Fatalf("rendered %d frames", src.frames)
	}
}
