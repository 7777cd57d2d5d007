package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Config holds persistent player defaults. Command line flags override it.
type Config struct {
	SoundFont          string `json:"soundFont,omitempty"`
	SampleRate         int    `json:"sampleRate,omitempty"`
	BatchDurationMs    int    `json:"batchDurationMs,omitempty"`
	InitialDelayMs     int    `json:"initialDelayMs,omitempty"`
	ProgressIntervalMs int    `json:"progressIntervalMs,omitempty"`
	// MIDIPort selects a MIDI output instead of the SoundFont synth.
	MIDIPort string `json:"midiPort,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SoundFont:          "/usr/share/sounds/sf2/FluidR3_GM.sf2",
		SampleRate:         44100,
		BatchDurationMs:    10000,
		InitialDelayMs:     200,
		ProgressIntervalMs: 100,
	}
}

func (c *Config) BatchDuration() time.Duration {
	return time.Duration(c.BatchDurationMs) * time.Millisecond
}

func (c *Config) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "smfplay"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from the default path, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads path over the defaults. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Save writes the config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
