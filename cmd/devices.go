// cmd/devices.go
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/cwkeyer/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	Long:  `List the capture devices available to 'listen'. Use the index with --device.`,
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	capture := audio.New(audio.DefaultConfig())
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}
	defer func() {
		if err := capture.Close(); err != nil {
			log.Printf("audio close: %v", err)
		}
	}()

	devices, err := capture.ListDevices()
	if err != nil {
		return fmt.Errorf("audio devices: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "no capture devices found")
		return nil
	}
	for i, d := range devices {
		fmt.Fprintf(out, "[%d] %s\n", i, d.Name())
	}
	return nil
}
