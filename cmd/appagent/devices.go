package main

import (
	"fmt"

	"github.com/httprunner/AppAgent/providers/adb"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List adb devices and their connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := adb.NewDefault()
			if err != nil {
				return err
			}
			devices, err := provider.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no devices found")
				return nil
			}
			for _, device := range devices {
				meta := provider.DeviceMeta(device.Serial)
				fmt.Printf("%s\t%s\t%s\tandroid=%s root=%v\n",
					device.Serial, device.Status, device.Name, meta.OSVersion, meta.IsRoot)
			}
			return nil
		},
	}
}
