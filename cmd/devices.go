// cmd/devices.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/micmap/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
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
	defer capture.Close()

	devices, err := capture.ListDevices()
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		cmd.Println("no capture devices found")
		return nil
	}

	for i, device := range devices {
		marker := " "
		if device.IsDefault != 0 {
			marker = "*"
		}
		cmd.Printf("%s %2d: %s\n", marker, i, device.Name())
	}
	cmd.Println("\n* = default device")
	return nil
}
