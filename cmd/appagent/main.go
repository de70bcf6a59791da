package main

import (
	"os"

	"github.com/httprunner/AppAgent/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "appagent",
	Short: "Per-device mobile app automation agent",
	Long: `appagent drives a fleet of Android devices through a short-video app:
each device launches the app, learns the on-screen control layout with a
vision model, then watches, likes and comments following a stochastic policy.
The shared command sets up structured logging and environment loading before
delegating to subcommands.`,
}

var (
	rootApp        string
	rootDevice     string
	rootMaxDevices int
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootApp, "app", "", "App package name overriding APP_PACKAGE")
	rootCmd.PersistentFlags().StringVar(&rootDevice, "device", "", "Restrict the pool to a single device serial")
	rootCmd.PersistentFlags().IntVar(&rootMaxDevices, "max-devices", 0, "Cap the number of devices driven in parallel (0 = all)")
	rootCmd.AddCommand(newRunCmd(), newDevicesCmd())
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("appagent command failed")
	}
}
