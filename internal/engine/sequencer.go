package engine

import (
	"container/heap"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

var (
	ErrUnknownClient = errors.New("engine: unknown client")
	ErrNilCallback   = errors.New("engine: nil client callback")
)

// Synth receives channel messages as they come due.
type Synth interface {
	NoteOn(channel, key, velocity uint8)
	NoteOff(channel, key uint8)
	ProgramChange(channel, program uint8)
	PitchBend(channel uint8, bend uint16)
	AllNotesOff()
}

const synthDest = -1

type queued struct {
	at     uint32
	seq    uint64
	client int
	apply  func(Synth)
}

type eventQueue []queued

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(queued)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

type client struct {
	name     string
	callback func(at uint32)
}

// Sequencer is a timed event queue in front of a Synth. Events scheduled
// for the same time fire in the order they were sent. Registered clients
// receive timer callbacks. Dispatch runs callbacks and synth calls without
// holding the lock, so callbacks may schedule more events.
type Sequencer struct {
	clock  Clock
	synth  Synth
	logger *log.Logger

	mu      sync.Mutex
	queue   eventQueue
	seq     uint64
	clients map[int]client
	nextID  int

	// sounding counts started notes per channel and key that have not
	// reached their note off yet.
	sounding [16][128]int
}

func NewSequencer(clock Clock, synth Synth, logger *log.Logger) *Sequencer {
	if logger == nil {
		logger = log.Default()
	}
	return &Sequencer{clock: clock, synth: synth, logger: logger, clients: map[int]client{}}
}

func (s *Sequencer) Now() uint32 { return s.clock.Now() }

func (s *Sequencer) RegisterClient(name string, callback func(at uint32)) (int, error) {
	if callback == nil {
		return -1, errors.Wrapf(ErrNilCallback, "client %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.clients[id] = client{name: name, callback: callback}
	return id, nil
}

// UnregisterClient removes the client. Its pending timers are dropped.
func (s *Sequencer) UnregisterClient(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

func (s *Sequencer) push(at uint32, client int, apply func(Synth)) {
	s.seq++
	heap.Push(&s.queue, queued{at: at, seq: s.seq, client: client, apply: apply})
}

// SendAt schedules a timer callback for client at the absolute time at.
func (s *Sequencer) SendAt(client int, at uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; !ok {
		return errors.Wrapf(ErrUnknownClient, "id %d", client)
	}
	s.push(at, client, nil)
	return nil
}

// Note schedules a note on at at and its note off durationMs later. When
// notes on the same channel and key overlap, only the note off ending the
// last of them reaches the synth.
func (s *Sequencer) Note(at uint32, channel, key, velocity uint8, durationMs uint32) error {
	off := at + durationMs
	if off < at {
		off = ^uint32(0)
	}
	ch, k := channel&0x0f, key&0x7f
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(at, synthDest, func(sy Synth) {
		s.mu.Lock()
		s.sounding[ch][k]++
		s.mu.Unlock()
		sy.NoteOn(channel, key, velocity)
	})
	s.push(off, synthDest, func(sy Synth) {
		s.mu.Lock()
		n := s.sounding[ch][k]
		if n > 0 {
			n--
			s.sounding[ch][k] = n
		}
		s.mu.Unlock()
		if n > 0 {
			return
		}
		sy.NoteOff(channel, key)
	})
	return nil
}

func (s *Sequencer) ProgramChange(at uint32, channel, program uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(at, synthDest, func(sy Synth) { sy.ProgramChange(channel, program) })
	return nil
}

func (s *Sequencer) PitchBend(at uint32, channel uint8, bend uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(at, synthDest, func(sy Synth) { sy.PitchBend(channel, bend) })
	return nil
}

// Pending returns the number of queued events.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

type due struct {
	at       uint32
	apply    func(Synth)
	callback func(uint32)
}

func (s *Sequencer) popDue(now uint32, buf []due) []due {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 && s.queue[0].at <= now {
		it := heap.Pop(&s.queue).(queued)
		if it.client == synthDest {
			buf = append(buf, due{at: it.at, apply: it.apply})
			continue
		}
		c, ok := s.clients[it.client]
		if !ok {
			s.logger.Debug("dropping timer for unregistered client", "id", it.client, "at", it.at)
			continue
		}
		buf = append(buf, due{at: it.at, callback: c.callback})
	}
	return buf
}

// Dispatch fires every event due at or before now. Events that callbacks
// schedule at or before now fire in the same call.
func (s *Sequencer) Dispatch(now uint32) int {
	var buf []due
	n := 0
	for {
		buf = s.popDue(now, buf[:0])
		if len(buf) == 0 {
			return n
		}
		for _, d := range buf {
			if d.callback != nil {
				d.callback(d.at)
			} else {
				d.apply(s.synth)
			}
		}
		n += len(buf)
	}
}

// Clear drops every queued synth event and silences the synth. Client
// timers stay queued.
func (s *Sequencer) Clear() {
	s.mu.Lock()
	kept := s.queue[:0]
	for _, it := range s.queue {
		if it.client != synthDest {
			kept = append(kept, it)
		}
	}
	s.queue = kept
	heap.Init(&s.queue)
	s.sounding = [16][128]int{}
	s.mu.Unlock()
	s.synth.AllNotesOff()
}
