package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	configDir string
	logLevel  string
	timeout   time.Duration

	rootCmd = &cobra.Command{
		Use:   "radarzone",
		Short: "Companion client for a radar presence sensor",
		Long: `radarzone connects to a radar sensor server over WebSocket, keeps the
zone list in sync with it and reports zone occupancy and fall alerts.`,
		SilenceUsage:      true,
		PersistentPreRunE: initApp,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding radarzone.json or radarzone.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "how long one-shot commands wait for the server")

	rootCmd.AddCommand(watchCmd, zoneCmd, configCmd)
}

func main() {
	err := rootCmd.Execute()
	shutdownApp()
	if err != nil {
		os.Exit(1)
	}
}
