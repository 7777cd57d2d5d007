package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"github.com/cbegin/smfplay-go/internal/config"
)

var (
	// Command-line configuration shared by all subcommands
	flags struct {
		debug      bool
		configPath string
	}

	cfg    *config.Config
	logger = log.Default()
)

var rootCmd = &cobra.Command{
	Use:   "smfplay",
	Short: "Play Standard MIDI Files through a SoundFont synthesizer",
	Long: `smfplay decodes Standard MIDI Files and plays them through a SoundFont
synthesizer or a MIDI output port.

A playback window can be cut out of the piece with --begin and --end and
played faster or slower with --tempo.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"Config file (default ~/.config/smfplay/config.json)")

	rootCmd.AddCommand(playCmd, infoCmd, renderCmd, portsCmd, configCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if flags.debug {
		logger.SetLevel(log.DebugLevel)
	}
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadFrom(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	logger.Debug("config loaded", "soundfont", cfg.SoundFont, "sample_rate", cfg.SampleRate)
	return nil
}

func main() {
	err := rootCmd.Execute()
	midi.CloseDriver()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
