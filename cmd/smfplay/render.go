package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cbegin/smfplay-go"
	"github.com/cbegin/smfplay-go/internal/smf"
)

var renderFlags struct {
	window     windowFlags
	output     string
	soundFont  string
	sampleRate int
}

var renderCmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Render a MIDI file to a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	f := renderCmd.Flags()
	renderFlags.window.register(renderCmd)
	f.StringVarP(&renderFlags.output, "output", "o", "", "Output WAV file (default FILE with .wav)")
	f.StringVar(&renderFlags.soundFont, "soundfont", "", "SoundFont (.sf2) to render with")
	f.IntVar(&renderFlags.sampleRate, "sample-rate", 0, "Output sample rate")
}

func runRender(cmd *cobra.Command, args []string) error {
	win, err := renderFlags.window.window()
	if err != nil {
		return err
	}
	f, err := smf.ReadFile(args[0], smf.WithLogger(logger))
	if err != nil {
		return err
	}
	out := renderFlags.output
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".wav"
	}
	soundFont := pick(cmd, "soundfont", renderFlags.soundFont, cfg.SoundFont)
	rate := pick(cmd, "sample-rate", renderFlags.sampleRate, cfg.SampleRate)

	wav, err := smfplay.RenderWAV(f, win, soundFont, rate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, wav, 0644); err != nil {
		return errors.Wrap(err, "write wav")
	}
	logger.Info("rendered", "file", out, "size", humanize.Bytes(uint64(len(wav))))
	return nil
}
