package timeline

import (
	"cmp"
	"slices"

	"github.com/cbegin/smfplay-go/internal/smf"
)

// IndexEvent locates one track event by absolute tick. It refers back into
// the decoded tracks and owns no event data.
type IndexEvent struct {
	Tick  uint64
	Track int
	Event int
}

// Compare orders by tick, then track, then event position within the track.
func (e IndexEvent) Compare(o IndexEvent) int {
	if c := cmp.Compare(e.Tick, o.Tick); c != 0 {
		return c
	}
	if c := cmp.Compare(e.Track, o.Track); c != 0 {
		return c
	}
	return cmp.Compare(e.Event, o.Event)
}

// Index merges all tracks into one sequence ordered by (tick, track, event).
func Index(tracks []smf.Track) []IndexEvent {
	n := 0
	for _, tr := range tracks {
		n += len(tr.Events)
	}
	out := make([]IndexEvent, 0, n)
	for ti, tr := range tracks {
		var tick uint64
		for ei, ev := range tr.Events {
			tick += uint64(ev.Delta)
			out = append(out, IndexEvent{Tick: tick, Track: ti, Event: ei})
		}
	}
	slices.SortFunc(out, IndexEvent.Compare)
	return out
}
