package smfplay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cbegin/smfplay-go/internal/smf"
	"github.com/cbegin/smfplay-go/internal/timeline"
)

// ProgramUse is a program selected on a channel.
type ProgramUse struct {
	Channel uint8
	Program uint8
}

// TrackSummary describes one track. Labels holds the text, copyright, track
// name and instrument name events in file order. Programs lists program
// changes, skipping repeats of the one just before.
type TrackSummary struct {
	Index    int
	Labels   []string
	Programs []ProgramUse
	Notes    int
	Events   int
	Corrupt  bool
}

func (t TrackSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "track[%d]:", t.Index)
	for _, l := range t.Labels {
		b.WriteString(" " + l)
	}
	for _, p := range t.Programs {
		fmt.Fprintf(&b, " (channel=%d, program=%d)", p.Channel, p.Program)
	}
	if t.Corrupt {
		b.WriteString(" [corrupt]")
	}
	return b.String()
}

type Summary struct {
	Header       smf.Header
	Tracks       []TrackSummary
	Duration     time.Duration
	TempoChanges int
	Unterminated int
	Warnings     []smf.Warning
}

// Info summarises f. The duration is that of a full playback at the file's
// own tempo, leading silence excluded.
func Info(f *smf.File) (Summary, error) {
	s := Summary{Header: f.Header, Warnings: f.Warnings}
	for i, tr := range f.Tracks {
		ts := TrackSummary{Index: i, Events: len(tr.Events), Corrupt: tr.Corrupt}
		var last *ProgramUse
		for _, te := range tr.Events {
			switch ev := te.Event.(type) {
			case smf.Text:
				switch ev.Kind {
				case smf.MetaText, smf.MetaCopyright, smf.MetaTrackName, smf.MetaInstrumentName:
					ts.Labels = append(ts.Labels, ev.Text)
				}
			case smf.ProgramChange:
				pu := ProgramUse{Channel: ev.Channel, Program: ev.Program}
				if last == nil || *last != pu {
					ts.Programs = append(ts.Programs, pu)
					last = &pu
				}
			case smf.NoteOn:
				if ev.Velocity > 0 {
					ts.Notes++
				}
			case smf.SetTempo:
				s.TempoChanges++
			}
		}
		s.Tracks = append(s.Tracks, ts)
	}

	tl, err := timeline.Build(f, timeline.FullWindow(), timeline.WithLogger(log.New(io.Discard)))
	if err != nil {
		return s, err
	}
	s.Duration = time.Duration(tl.Final().TimeMs) * time.Millisecond
	s.Unterminated = tl.Unterminated
	return s, nil
}

func (s Summary) String() string {
	var b strings.Builder
	b.WriteString("Midi general information:\n")
	fmt.Fprintf(&b, "format=%d, %d tracks\n", s.Header.Format, s.Header.NumTracks)
	for _, t := range s.Tracks {
		b.WriteString(t.String())
		b.WriteByte('\n')
	}
	return b.String()
}
