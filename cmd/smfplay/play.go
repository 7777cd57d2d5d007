package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/smfplay-go"
	"github.com/cbegin/smfplay-go/internal/config"
	"github.com/cbegin/smfplay-go/internal/scheduler"
	"github.com/cbegin/smfplay-go/internal/smf"
	"github.com/cbegin/smfplay-go/internal/timeline"
	"github.com/cbegin/smfplay-go/internal/tui"
)

// windowFlags are the playback window options shared by play and render.
type windowFlags struct {
	begin string
	end   string
	tempo float64
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&w.begin, "begin", "b", "",
		"Start playback at [MM:]SS[.mmm]")
	cmd.Flags().StringVarP(&w.end, "end", "e", "",
		"Stop playback at [MM:]SS[.mmm]")
	cmd.Flags().Float64VarP(&w.tempo, "tempo", "T", 1.0,
		"Tempo factor; above 1 plays slower")
}

func (w *windowFlags) window() (timeline.Window, error) {
	win := timeline.FullWindow()
	win.TempoFactor = w.tempo
	var err error
	if w.begin != "" {
		if win.BeginMs, err = timeline.ParseMillis(w.begin); err != nil {
			return win, errors.Wrap(err, "--begin")
		}
	}
	if w.end != "" {
		if win.EndMs, err = timeline.ParseMillis(w.end); err != nil {
			return win, errors.Wrap(err, "--end")
		}
	}
	return win, win.Validate()
}

var playFlags struct {
	window     windowFlags
	soundFont  string
	delayMs    int
	batchMs    int
	progress   bool
	tui        bool
	midiOut    string
	volume     float64
	sampleRate int
	progressMs int
}

var playCmd = &cobra.Command{
	Use:   "play FILE",
	Short: "Play a MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func init() {
	f := playCmd.Flags()
	playFlags.window.register(playCmd)
	f.StringVar(&playFlags.soundFont, "soundfont", "", "SoundFont (.sf2) to play with")
	f.IntVar(&playFlags.delayMs, "delay", 0, "Initial scheduling delay in ms")
	f.IntVar(&playFlags.batchMs, "batch-duration", 0, "Scheduling batch length in ms")
	f.BoolVar(&playFlags.progress, "progress", false, "Print playback progress")
	f.BoolVar(&playFlags.tui, "tui", false, "Show a terminal progress view")
	f.StringVar(&playFlags.midiOut, "midi-out", "", "Play to the MIDI output port matching this name")
	f.Float64Var(&playFlags.volume, "volume", 1.0, "Master volume scalar")
	f.IntVar(&playFlags.sampleRate, "sample-rate", 0, "Output sample rate")
	f.IntVar(&playFlags.progressMs, "progress-interval", 0, "Progress report period in ms")
}

// pick returns the flag value when the flag was given, otherwise the config
// value.
func pick[T any](cmd *cobra.Command, name string, flag, conf T) T {
	if cmd.Flags().Changed(name) {
		return flag
	}
	return conf
}

// playConfig returns the loaded config with the explicitly given play flags
// applied over it.
func playConfig(cmd *cobra.Command) config.Config {
	conf := *cfg
	conf.SampleRate = pick(cmd, "sample-rate", playFlags.sampleRate, cfg.SampleRate)
	conf.SoundFont = pick(cmd, "soundfont", playFlags.soundFont, cfg.SoundFont)
	conf.InitialDelayMs = pick(cmd, "delay", playFlags.delayMs, cfg.InitialDelayMs)
	conf.BatchDurationMs = pick(cmd, "batch-duration", playFlags.batchMs, cfg.BatchDurationMs)
	conf.ProgressIntervalMs = pick(cmd, "progress-interval", playFlags.progressMs, cfg.ProgressIntervalMs)
	conf.MIDIPort = pick(cmd, "midi-out", playFlags.midiOut, cfg.MIDIPort)
	return conf
}

func runPlay(cmd *cobra.Command, args []string) error {
	win, err := playFlags.window.window()
	if err != nil {
		return err
	}
	// decode before touching any audio or MIDI device
	f, err := smf.ReadFile(args[0], smf.WithLogger(logger))
	if err != nil {
		return err
	}

	conf := playConfig(cmd)
	opts := []smfplay.PlayerOption{
		smfplay.WithLogger(logger),
		smfplay.WithSampleRate(conf.SampleRate),
		smfplay.WithSoundFont(conf.SoundFont),
		smfplay.WithInitialDelay(conf.InitialDelay()),
		smfplay.WithBatchDuration(conf.BatchDuration()),
	}
	if conf.MIDIPort != "" {
		opts = append(opts, smfplay.WithMIDIOut(conf.MIDIPort))
	}
	if playFlags.progress || playFlags.tui {
		opts = append(opts, smfplay.WithProgressInterval(conf.ProgressInterval()))
	}
	pl, err := smfplay.NewPlayer(opts...)
	if err != nil {
		return err
	}
	defer pl.Close()
	pl.SetMasterVolume(playFlags.volume)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	events := pl.Watch()
	if err := pl.Play(f, win); err != nil {
		return err
	}
	tl := pl.Timeline()
	logger.Debug("playing", "file", args[0], "window", win, "commands", len(tl.Events)-1,
		"length", timeline.FormatMillis(tl.Final().TimeMs))

	if playFlags.tui {
		model := tui.NewModel(filepath.Base(args[0]), tl.TrackNames, pl, events)
		return runTUI(ctx, pl, model)
	}

	// events may be dropped when the channel is full, so the end comes from Wait
	waitErr := make(chan error, 1)
	go func() { waitErr <- pl.Wait(ctx) }()
	for {
		select {
		case ev := <-events:
			if ev.Kind == smfplay.EventProgress && playFlags.progress {
				fmt.Printf("\r%s / %s", timeline.FormatMillis(ev.ElapsedMs), timeline.FormatMillis(ev.TotalMs))
			}
		case err := <-waitErr:
			if playFlags.progress {
				fmt.Println()
			}
			if ctx.Err() != nil {
				_ = pl.Stop()
			}
			return ignoreCancel(err)
		}
	}
}

// runTUI runs the progress view next to the player until either finishes.
func runTUI(ctx context.Context, pl *smfplay.Player, model tui.Model) error {
	prog := tea.NewProgram(model, tea.WithContext(ctx))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := prog.Run()
		_ = pl.Stop()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := pl.Wait(ctx)
		prog.Quit()
		return ignoreCancel(err)
	})
	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, scheduler.ErrCancelled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
