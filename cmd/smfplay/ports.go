package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbegin/smfplay-go/internal/engine"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports := engine.OutPorts()
		if len(ports) == 0 {
			fmt.Println("no MIDI output ports")
			return nil
		}
		for i, name := range ports {
			fmt.Printf("%d: %s\n", i, name)
		}
		return nil
	},
}
