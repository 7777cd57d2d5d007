package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbegin/smfplay-go/internal/config"
)

var configFlags struct {
	write bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `config prints the configuration smfplay runs with. With --write it is
saved to the config file, creating it with the defaults if it did not exist.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configFlags.write, "write", false, "Save the configuration to the config file")
}

// saveConfig writes c to path, or to the default location when path is
// empty, and returns where it went.
func saveConfig(c *config.Config, path string) (string, error) {
	if path != "" {
		return path, c.SaveTo(path)
	}
	path, err := config.ConfigPath()
	if err != nil {
		return "", err
	}
	return path, c.Save()
}

func runConfig(cmd *cobra.Command, args []string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !configFlags.write {
		return nil
	}
	path, err := saveConfig(cfg, flags.configPath)
	if err != nil {
		return err
	}
	logger.Info("config saved", "path", path)
	return nil
}
